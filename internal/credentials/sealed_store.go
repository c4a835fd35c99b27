package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealedPrefix = "sealed:v1:"
	saltSize     = 16
	nonceSize    = 24
	keySize      = 32
)

// KDFParams are the argon2id parameters used to derive the sealing key.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDFParams follow the argon2id recommendation for interactive use.
var DefaultKDFParams = KDFParams{Time: 1, Memory: 64 * 1024, Threads: 4}

var errUnseal = errors.New("failed to unseal secret: wrong passphrase or corrupted value")

// SealedStore encrypts values with NaCl secretbox before handing them to
// the wrapped store. The key is derived from a passphrase with argon2id and
// a random salt stored alongside each value.
type SealedStore struct {
	inner      SecretStore
	passphrase []byte
	params     KDFParams

	mu    sync.Mutex
	salt  []byte
	cache map[string]*[keySize]byte
}

// NewSealedStore wraps inner. The passphrase must not be empty.
func NewSealedStore(inner SecretStore, passphrase string, params KDFParams) (*SealedStore, error) {
	if passphrase == "" {
		return nil, errors.New("sealed secret store requires a passphrase")
	}
	if params.Time == 0 {
		params = DefaultKDFParams
	}
	return &SealedStore{
		inner:      inner,
		passphrase: []byte(passphrase),
		params:     params,
		cache:      make(map[string]*[keySize]byte),
	}, nil
}

func (s *SealedStore) keyFor(salt []byte) *[keySize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.cache[string(salt)]; ok {
		return k
	}
	var key [keySize]byte
	copy(key[:], argon2.IDKey(s.passphrase, salt, s.params.Time, s.params.Memory, s.params.Threads, keySize))
	s.cache[string(salt)] = &key
	return &key
}

func (s *SealedStore) writeSalt() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.salt == nil {
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		s.salt = salt
	}
	return s.salt, nil
}

func (s *SealedStore) seal(plaintext string) (string, error) {
	salt, err := s.writeSalt()
	if err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, []byte(plaintext), &nonce, s.keyFor(salt))

	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

func (s *SealedStore) unseal(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return "", errUnseal
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil || len(raw) < saltSize+nonceSize+secretbox.Overhead {
		return "", errUnseal
	}

	salt := raw[:saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], raw[saltSize:saltSize+nonceSize])

	plain, ok := secretbox.Open(nil, raw[saltSize+nonceSize:], &nonce, s.keyFor(salt))
	if !ok {
		return "", errUnseal
	}
	return string(plain), nil
}

func (s *SealedStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, found, err := s.inner.Get(ctx, key)
	if err != nil || !found {
		return "", found, err
	}
	plain, err := s.unseal(value)
	if err != nil {
		return "", false, err
	}
	return plain, true, nil
}

func (s *SealedStore) Set(ctx context.Context, key, value string) error {
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *SealedStore) Delete(ctx context.Context, key string) (bool, error) {
	return s.inner.Delete(ctx, key)
}
