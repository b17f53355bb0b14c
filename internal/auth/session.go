// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jason-s-yu/sequence/internal/apperr"
)

// Identity is what a verified token resolves to.
type Identity struct {
	UID   string
	Admin bool
}

// Verifier turns an opaque token into an Identity.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// Authority signs and verifies ed25519 JWTs with "sub" = uid and an optional "admin" claim.
type Authority struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	// ttl is the token lifetime; 0 means tokens carry no exp claim.
	ttl time.Duration
}

// ParseTokenExpireTime reads a TOKEN_EXPIRE_TIME style value: "never", "0" or "" mean no expiry.
func ParseTokenExpireTime(v string) (time.Duration, error) {
	if v == "never" || v == "0" || v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// Generate creates an Authority with a fresh ed25519 key pair.
func Generate(ttl time.Duration) (*Authority, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Authority{privateKey: priv, publicKey: pub, ttl: ttl}, nil
}

// LoadFromPath reads raw ed25519 keys from disk. The private key may be empty for
// verify-only deployments.
func LoadFromPath(privatePath, publicPath string, ttl time.Duration) (*Authority, error) {
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	a := &Authority{publicKey: ed25519.PublicKey(publicKeyData), ttl: ttl}
	if privatePath != "" {
		privateKeyData, err := os.ReadFile(privatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key file: %w", err)
		}
		a.privateKey = ed25519.PrivateKey(privateKeyData)
	}
	return a, nil
}

// CreateJWT signs a token for uid. Used by tooling and tests; production tokens are
// issued elsewhere.
func (a *Authority) CreateJWT(uid string, admin bool) (string, error) {
	if len(a.privateKey) == 0 {
		return "", fmt.Errorf("authority has no private key")
	}
	claims := jwt.MapClaims{
		"sub": uid,
	}
	if admin {
		claims["admin"] = true
	}
	if a.ttl > 0 {
		claims["exp"] = time.Now().Add(a.ttl).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(a.privateKey)
}

// Verify checks the signature and expiry and returns the caller's identity.
func (a *Authority) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, apperr.New(apperr.CodeAuthRequired, "missing token")
	}
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.publicKey, nil
	})
	if err != nil {
		return Identity{}, apperr.Wrap(apperr.CodeUnauthorized, err, "jwt parse")
	}
	if !t.Valid {
		return Identity{}, apperr.New(apperr.CodeUnauthorized, "invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, apperr.New(apperr.CodeUnauthorized, "invalid jwt claims")
	}
	uid, ok := claims["sub"].(string)
	if !ok || uid == "" {
		return Identity{}, apperr.New(apperr.CodeUnauthorized, "missing sub in jwt")
	}
	admin, _ := claims["admin"].(bool)
	return Identity{UID: uid, Admin: admin}, nil
}
