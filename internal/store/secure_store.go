package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	secureKeyIterations = 100000
	secureKeySalt       = "fixengine-message-store-salt-v1"
)

// SecureMessageStore wraps a MessageStore's seq -> raw contract with
// AES-GCM encryption at rest, key derived from a master password via
// PBKDF2-SHA256. It is an additive deployment option: the plain
// MessageStore already satisfies every durability invariant on its own.
type SecureMessageStore struct {
	inner *MessageStore
	key   []byte
}

// NewSecureMessageStore derives an encryption key from masterPassword and
// wraps inner.
func NewSecureMessageStore(inner *MessageStore, masterPassword string) *SecureMessageStore {
	key := pbkdf2.Key([]byte(masterPassword), []byte(secureKeySalt), secureKeyIterations, 32, sha256.New)
	return &SecureMessageStore{inner: inner, key: key}
}

// Save encrypts raw and stores it under seqNum.
func (s *SecureMessageStore) Save(senderCompID string, seqNum int, raw string) error {
	ciphertext, err := s.encrypt(raw)
	if err != nil {
		return fmt.Errorf("securestore: encrypt: %w", err)
	}
	return s.inner.Save(senderCompID, seqNum, ciphertext)
}

// Load decrypts and returns the message stored under seqNum.
func (s *SecureMessageStore) Load(senderCompID string, seqNum int) (string, bool, error) {
	ciphertext, ok, err := s.inner.Load(senderCompID, seqNum)
	if err != nil || !ok {
		return "", ok, err
	}
	plaintext, err := s.decrypt(ciphertext)
	if err != nil {
		return "", false, fmt.Errorf("securestore: decrypt: %w", err)
	}
	return plaintext, true, nil
}

// LoadRange decrypts and returns every message with seq in [beginSeq, endSeq].
func (s *SecureMessageStore) LoadRange(senderCompID string, beginSeq, endSeq int) (map[int]string, error) {
	encrypted, err := s.inner.LoadRange(senderCompID, beginSeq, endSeq)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string, len(encrypted))
	for seq, ciphertext := range encrypted {
		plaintext, err := s.decrypt(ciphertext)
		if err != nil {
			return nil, fmt.Errorf("securestore: decrypt seq %d: %w", seq, err)
		}
		out[seq] = plaintext
	}
	return out, nil
}

// Clear drops every message with seq < beforeSeq.
func (s *SecureMessageStore) Clear(senderCompID string, beforeSeq int) error {
	return s.inner.Clear(senderCompID, beforeSeq)
}

func (s *SecureMessageStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *SecureMessageStore) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("securestore: ciphertext too short")
	}
	nonce, body := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
