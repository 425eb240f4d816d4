// Command fixengine brings up a set of FIX 4.2 sessions from a config file,
// exposing health, Prometheus metrics, and a JWT-protected admin API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seroze/fixengine/admin"
	"github.com/seroze/fixengine/config"
	"github.com/seroze/fixengine/credentials"
	"github.com/seroze/fixengine/internal/ratelimit"
	"github.com/seroze/fixengine/internal/session"
	"github.com/seroze/fixengine/internal/store"
	"github.com/seroze/fixengine/logging"
	"github.com/seroze/fixengine/metrics"
)

func main() {
	sessionsPath := flag.String("sessions", "sessions.yaml", "path to the YAML session definitions")
	flag.Parse()

	cfg, err := config.Load(*sessionsPath)
	if err != nil {
		logging.Fatal("failed to load config", err)
	}
	logging.SetLevel(logging.INFO)

	if cfg.Logging.Dir != "" {
		logFile, err := logging.UseRotatingFile(logging.RotationConfig{
			Filename:           cfg.Logging.Dir + "/fixengine.log",
			MaxSizeMB:          cfg.Logging.MaxSizeMB,
			MaxAge:             time.Duration(cfg.Logging.MaxAgeDays) * 24 * time.Hour,
			MaxBackups:         cfg.Logging.MaxBackups,
			CompressionEnabled: cfg.Logging.Compress,
		})
		if err != nil {
			logging.Fatal("failed to open rotating log file", err)
		}
		defer func() { _ = logFile.Close() }()
	}

	seqStore, err := store.NewSequenceStore(cfg.Store.Dir)
	if err != nil {
		logging.Fatal("failed to open sequence store", err)
	}
	rawMsgStore, err := store.NewMessageStore(cfg.Store.Dir)
	if err != nil {
		logging.Fatal("failed to open message store", err)
	}
	var msgStore session.MsgStore = rawMsgStore
	if cfg.Store.MasterPassword != "" {
		msgStore = store.NewSecureMessageStore(rawMsgStore, cfg.Store.MasterPassword)
	}

	var credStore *credentials.Store
	if cfg.Store.CredentialStorePath != "" {
		credStore, err = credentials.New(cfg.Store.CredentialStorePath, cfg.Store.MasterPassword)
		if err != nil {
			logging.Fatal("failed to open credential store", err)
		}
	}

	mgr := admin.NewManager()
	hub := admin.NewHub()
	go hub.Run()
	mgr.AttachHub(hub)
	logging.AddHook(hub)
	sessions := make([]*session.Session, 0, len(cfg.Sessions))

	for _, sc := range cfg.Sessions {
		stream, err := dialOrListen(sc)
		if err != nil {
			logging.Error("session transport failed", err, logging.String("session", sc.Name))
			continue
		}

		identity := session.Identity{
			SenderCompID: sc.SenderCompID,
			TargetCompID: sc.TargetCompID,
			BeginString:  sc.BeginString,
		}
		sessCfg := session.DefaultConfig()
		sessCfg.HeartbeatIntervalSecs = sc.HeartbeatIntervalSecs
		sessCfg.ResetOnLogon = sc.ResetOnLogon
		sessCfg.StoreDir = cfg.Store.Dir

		role := session.Initiator
		if sc.Role == "acceptor" {
			role = session.Acceptor
		}

		opts := []session.Option{session.WithHooks(session.MergeHooks(
			metrics.Hooks(sc.Name),
			hub.HooksFor(sc.Name),
			errorTrackingHooks(sc.Name),
		))}
		if role == session.Acceptor && credStore != nil {
			opts = append(opts, session.WithCredentialValidator(credStore))
		}
		if cfg.RateLimit.MessagesPerSecond > 0 {
			opts = append(opts, session.WithRateLimiter(ratelimit.New(cfg.RateLimit.MessagesPerSecond, cfg.RateLimit.Burst)))
		}

		sess := session.New(stream, identity, sessCfg, role, seqStore, msgStore, opts...)
		if err := sess.Start(); err != nil {
			logging.Error("session failed to start", err, logging.String("session", sc.Name))
			continue
		}

		mgr.Register(sc.Name, sess)
		sessions = append(sessions, sess)
		logging.Info("session started", logging.String("session", sc.Name), logging.CompID(sc.SenderCompID, sc.TargetCompID))
	}

	expiry, err := time.ParseDuration(cfg.Admin.JWTExpiry)
	if err != nil {
		expiry = time.Hour
	}
	tokenIssuer := admin.NewTokenIssuer(cfg.Admin.JWTSecret, expiry)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(sessions))
	mux.Handle("/metrics", metrics.Handler())
	mgr.RegisterHTTPHandlers(mux, tokenIssuer)

	server := &http.Server{Addr: cfg.Admin.ListenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("admin http server stopped", err)
		}
	}()
	logging.Info("admin http server listening", logging.String("addr", cfg.Admin.ListenAddr))

	waitForShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
	for _, sess := range sessions {
		_ = sess.Stop()
	}
}

func dialOrListen(sc config.SessionConfig) (session.Stream, error) {
	if sc.Role == "acceptor" {
		listener, err := net.Listen("tcp", sc.Address)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", sc.Address, err)
		}
		conn, err := listener.Accept()
		if err != nil {
			return nil, fmt.Errorf("accept on %s: %w", sc.Address, err)
		}
		return conn.(*net.TCPConn), nil
	}
	conn, err := net.Dial("tcp", sc.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", sc.Address, err)
	}
	return conn.(*net.TCPConn), nil
}

func healthHandler(sessions []*session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, sess := range sessions {
			if sess.Health().LoggedOn {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok\n"))
				return
			}
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no session logged on\n"))
	}
}

// errorTrackingHooks feeds abnormal session terminations into the global
// error tracker, so repeated IOError/MalformedPeer terminations for one
// counterparty trip the structured-logger alert threshold instead of only
// ever showing up one line at a time.
func errorTrackingHooks(sessionName string) session.Hooks {
	return session.Hooks{
		OnTerminal: func(reason session.TerminalReason) {
			if reason == session.ReasonNone || reason == session.ReasonStopRequested || reason == session.ReasonLogoutReceived {
				return
			}
			logging.TrackSessionError(sessionName, fmt.Errorf("session terminated: %s", reason), severityFor(reason))
		},
	}
}

func severityFor(reason session.TerminalReason) string {
	switch reason {
	case session.ReasonSequenceFatal, session.ReasonMalformedPeer:
		return "critical"
	case session.ReasonIOError:
		return "high"
	default:
		return "medium"
	}
}

func waitForShutdown() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
