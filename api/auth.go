package api

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	clockSkew           = time.Minute
)

var (
	errTokenExpired  = errors.New("token expired")
	errTokenEarly    = errors.New("token not valid yet")
	errTokenAudience = errors.New("invalid audience")
	errTokenIssuer   = errors.New("invalid issuer")
	errTokenSubject  = errors.New("missing sub")
)

// AuthConfig selects how bearer tokens are verified: RS256 against a JWKS,
// or HS256 with a shared secret for local development.
type AuthConfig struct {
	JWKS        *keyfunc.JWKS
	Audience    string
	Issuer      string
	HS256Secret []byte
	KeyCacheTTL time.Duration
}

// Auth checks board API bearer tokens and yields the caller's subject.
type Auth struct {
	cfg    AuthConfig
	parser *jwt.Parser
	keys   *signingKeys
}

func NewAuth(cfg AuthConfig) (*Auth, error) {
	method := "RS256"
	switch {
	case len(cfg.HS256Secret) > 0:
		method = "HS256"
	case cfg.JWKS == nil:
		return nil, errors.New("auth needs a JWKS or an HS256 secret")
	}
	if cfg.KeyCacheTTL <= 0 {
		cfg.KeyCacheTTL = defaultJWKSCacheTTL
	}
	return &Auth{
		cfg: cfg,
		// Time based claims are checked in checkClaims with clock skew allowed.
		parser: jwt.NewParser(jwt.WithValidMethods([]string{method}), jwt.WithoutClaimsValidation()),
		keys:   &signingKeys{ttl: cfg.KeyCacheTTL, byKID: map[string]signingKey{}},
	}, nil
}

// UserIDFromAuthHeader verifies the bearer token of an Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	raw, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	claims := jwt.MapClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, a.verificationKey); err != nil {
		return "", err
	}
	if err := a.checkClaims(claims, time.Now()); err != nil {
		return "", err
	}
	return claims["sub"].(string), nil
}

func (a *Auth) verificationKey(t *jwt.Token) (any, error) {
	if len(a.cfg.HS256Secret) > 0 {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.cfg.HS256Secret, nil
	}
	kid, _ := t.Header["kid"].(string)
	if key, ok := a.keys.get(kid); ok {
		return key, nil
	}
	key, err := a.cfg.JWKS.Keyfunc(t)
	if err != nil {
		return nil, err
	}
	a.keys.put(kid, key)
	return key, nil
}

func (a *Auth) checkClaims(claims jwt.MapClaims, now time.Time) error {
	if !claims.VerifyExpiresAt(now.Add(-clockSkew).Unix(), true) {
		return errTokenExpired
	}
	if !claims.VerifyNotBefore(now.Add(clockSkew).Unix(), false) {
		return errTokenEarly
	}
	if a.cfg.Audience != "" && !claims.VerifyAudience(a.cfg.Audience, true) {
		return errTokenAudience
	}
	if a.cfg.Issuer != "" && !claims.VerifyIssuer(a.cfg.Issuer, true) {
		return errTokenIssuer
	}
	if sub, _ := claims["sub"].(string); sub == "" {
		return errTokenSubject
	}
	return nil
}

// signingKeys remembers JWKS lookups by key id so the hot path skips the
// keyfunc lock.
type signingKeys struct {
	ttl   time.Duration
	mu    sync.RWMutex
	byKID map[string]signingKey
}

type signingKey struct {
	key     any
	expires time.Time
}

func (s *signingKeys) get(kid string) (any, bool) {
	if kid == "" {
		return nil, false
	}
	s.mu.RLock()
	entry, ok := s.byKID[kid]
	s.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.key, true
}

func (s *signingKeys) put(kid string, key any) {
	if kid == "" {
		return
	}
	s.mu.Lock()
	s.byKID[kid] = signingKey{key: key, expires: time.Now().Add(s.ttl)}
	s.mu.Unlock()
}
