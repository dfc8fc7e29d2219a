package kvstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"enrollgate/pkg/platform/sentinel"
)

const sealInfo = "enrollgate kvstore v1"

// SealedStore encrypts values at rest with XChaCha20-Poly1305. The record key
// is bound as additional data so a blob copied to another key fails to open.
// Queue items carry applicant names, so the device store is sealed whenever an
// encryption secret is configured.
type SealedStore struct {
	inner Store
	aead  cipher.AEAD
}

// NewSealed derives a 256-bit key from secret with HKDF-SHA256 and wraps inner.
func NewSealed(inner Store, secret string) (*SealedStore, error) {
	if inner == nil {
		return nil, errors.New("inner store is required")
	}
	if len(secret) < 16 {
		return nil, errors.New("store encryption secret must be at least 16 characters")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("derive store key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &SealedStore{inner: inner, aead: aead}, nil
}

func (s *SealedStore) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.open(key, sealed)
}

func (s *SealedStore) Put(ctx context.Context, key string, value []byte) error {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	return s.inner.Put(ctx, key, s.aead.Seal(nonce, nonce, value, []byte(key)))
}

func (s *SealedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *SealedStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	entries, err := s.inner.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		plain, err := s.open(entries[i].Key, entries[i].Value)
		if err != nil {
			return nil, err
		}
		entries[i].Value = plain
	}
	return entries, nil
}

func (s *SealedStore) Close() error {
	return s.inner.Close()
}

func (s *SealedStore) open(key string, sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, fmt.Errorf("open %s: %w", key, sentinel.ErrCorrupt)
	}
	plain, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, sentinel.ErrCorrupt)
	}
	return plain, nil
}
