package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	seedSalt = "logware/auth"
	seedInfo = "jwt-ed25519-v1"
	// maxKeys bounds how many retired keys stay valid for verification.
	maxKeys = 4
)

// KeySet manages active signing keys and verification of past keys.
type KeySet interface {
	// Sign creates a signed token with the current active key.
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc returns the key for verification based on the token header.
	KeyFunc() jwt.Keyfunc
}

// InMemoryKeySet holds Ed25519 keys in memory.
type InMemoryKeySet struct {
	mu         sync.RWMutex
	currentKID string
	keys       map[string]ed25519.PrivateKey
	order      []string
}

// NewInMemoryKeySet starts with a random key. Tokens do not survive a restart.
func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{keys: make(map[string]ed25519.PrivateKey)}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// NewKeySetFromSeed derives the signing key from seed with HKDF-SHA256, so
// every process configured with the same seed issues and accepts the same
// tokens.
func NewKeySetFromSeed(seed []byte) (*InMemoryKeySet, error) {
	if len(seed) < 16 {
		return nil, fmt.Errorf("auth seed must be at least 16 bytes, got %d", len(seed))
	}
	material := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, []byte(seedSalt), []byte(seedInfo)), material); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	ks := &InMemoryKeySet{keys: make(map[string]ed25519.PrivateKey)}
	ks.add(ed25519.NewKeyFromSeed(material))
	return ks, nil
}

// Rotate installs a fresh random key. Older keys keep verifying until evicted.
func (ks *InMemoryKeySet) Rotate() error {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	ks.add(privateKey)
	return nil
}

func (ks *InMemoryKeySet) add(key ed25519.PrivateKey) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	kid := keyID(key.Public().(ed25519.PublicKey))
	if _, exists := ks.keys[kid]; !exists {
		ks.order = append(ks.order, kid)
	}
	ks.keys[kid] = key
	ks.currentKID = kid

	for len(ks.order) > maxKeys {
		delete(ks.keys, ks.order[0])
		ks.order = ks.order[1:]
	}
}

// CurrentKeyID returns the kid stamped on newly signed tokens.
func (ks *InMemoryKeySet) CurrentKeyID() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.currentKID
}

func keyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}

func (ks *InMemoryKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	key := ks.keys[ks.currentKID]
	kid := ks.currentKID
	ks.mu.RUnlock()

	if key == nil {
		return "", fmt.Errorf("no active key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in header")
		}

		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.keys[kid]
		if !exists {
			return nil, fmt.Errorf("key not found: %s", kid)
		}

		return key.Public(), nil
	}
}
