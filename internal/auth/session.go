// Package auth issues short-lived session tokens for the local API. The
// signing key is generated per process and never persisted: restarting the
// daemon invalidates every outstanding session, which is exactly the
// lifetime a vault session should have.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidSession = errors.New("auth: invalid session")

const issuer = "zenmius"

type Session struct {
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	ttl  time.Duration
}

func NewSigner(ttl time.Duration) (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv, pub: pub, ttl: ttl}, nil
}

// Issue mints a session token after a successful unlock.
func (s *Signer) Issue() (string, Session, error) {
	now := time.Now()
	sess := Session{
		TokenID:   randomTokenID(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		ID:        sess.TokenID,
		IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.priv)
	return tok, sess, err
}

// Validate checks signature, issuer and expiry.
func (s *Signer) Validate(tokenStr string) (Session, error) {
	keyFunc := func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodEdDSA {
			return nil, errors.New("unexpected signing method")
		}
		return s.pub, nil
	}
	var claims jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(tokenStr, &claims, keyFunc, jwt.WithIssuer(issuer))
	if err != nil || !tok.Valid {
		return Session{}, ErrInvalidSession
	}
	sess := Session{TokenID: claims.ID}
	if claims.IssuedAt != nil {
		sess.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	return sess, nil
}

func randomTokenID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
