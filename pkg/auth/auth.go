// Package auth verifies bearer credentials on incoming requests and builds
// the AuthContext the rest of the request pipeline relies on.
//
// Verification follows the teacher's shared/middleware JWT shape
// (parse-with-claims, explicit signing-method check) generalized to support
// either an RS256 public key or an HS256 shared secret, plus a dev-admin
// bypass token.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nebula-assistant/agent-core/pkg/apierr"
)

const defaultAudience = "agent-worker"

// AuthContext is valid for the lifetime of a single request.
type AuthContext struct {
	UserID        string
	IsDevAdmin    bool
	Scopes        map[string]struct{}
	MemoryAllowed bool
	ToolsAllowed  bool
	ExportAllowed bool
}

// HasScope reports whether the context carries scope s, or the wildcard "*"
// (granted to the dev-admin bypass; a verified token whose scope claim lists
// "*" also matches every scope).
func (a *AuthContext) HasScope(s string) bool {
	if _, ok := a.Scopes["*"]; ok {
		return true
	}
	_, ok := a.Scopes[s]
	return ok
}

// Config carries verification material and policy loaded once at startup.
type Config struct {
	// Exactly one of PublicKeyPEM or SharedSecret should be set.
	PublicKeyPEM  []byte
	SharedSecret  []byte
	ExpectedIssuer string // empty disables the check
	ExpectedAudience string // defaults to "agent-worker"
	DevAdminToken string // empty disables the bypass
}

// Authenticator verifies bearer tokens against a fixed Config.
type Authenticator struct {
	cfg       Config
	publicKey any // *rsa.PublicKey, parsed once
}

// New builds an Authenticator, parsing any configured RS256 public key up
// front so per-request verification never pays parse cost or surfaces a
// config error mid-request.
func New(cfg Config) (*Authenticator, error) {
	if cfg.ExpectedAudience == "" {
		cfg.ExpectedAudience = defaultAudience
	}
	a := &Authenticator{cfg: cfg}
	if len(cfg.PublicKeyPEM) > 0 {
		key, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "parse configured public key", err)
		}
		a.publicKey = key
	}
	return a, nil
}

// claims mirrors the recognized JWT payload shape from spec §6: sub, iss
// (optional), aud, scope (string or array), and the mem/tools/export
// capability flags (each defaults to true unless explicitly false).
type claims struct {
	jwt.RegisteredClaims
	Scope  json.RawMessage `json:"scope"`
	Mem    *bool           `json:"mem"`
	Tools  *bool           `json:"tools"`
	Export *bool           `json:"export"`
}

// Verify extracts and verifies the bearer token from an Authorization
// header value (the full "Bearer <token>" string) and returns the resulting
// AuthContext, or an *apierr.Error with KindUnauthorized.
func (a *Authenticator) Verify(authHeader string) (*AuthContext, error) {
	token, err := extractBearer(authHeader)
	if err != nil {
		return nil, err
	}

	if a.cfg.DevAdminToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.DevAdminToken)) == 1 {
		return &AuthContext{
			UserID:        "DEV_ADMIN",
			IsDevAdmin:    true,
			Scopes:        map[string]struct{}{"*": {}},
			MemoryAllowed: true,
			ToolsAllowed:  true,
			ExportAllowed: true,
		}, nil
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, a.keyFunc, jwt.WithAudience(a.cfg.ExpectedAudience))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUnauthorized, "invalid bearer token", err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, apierr.New(apierr.KindUnauthorized, "invalid bearer token")
	}
	if a.cfg.ExpectedIssuer != "" && c.Issuer != a.cfg.ExpectedIssuer {
		return nil, apierr.New(apierr.KindUnauthorized, "unexpected token issuer")
	}

	userID := c.Subject
	if len(userID) < 3 {
		return nil, apierr.New(apierr.KindUnauthorized, "token subject missing or too short")
	}

	scopes, err := parseScope(c.Scope)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUnauthorized, "invalid scope claim", err)
	}

	return &AuthContext{
		UserID:        userID,
		IsDevAdmin:    false,
		Scopes:        scopes,
		MemoryAllowed: boolOrDefault(c.Mem, true),
		ToolsAllowed:  boolOrDefault(c.Tools, true),
		ExportAllowed: boolOrDefault(c.Export, true),
	}, nil
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	if a.publicKey != nil {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method, expected RS256")
		}
		return a.publicKey, nil
	}
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("unexpected signing method, expected HS256")
	}
	return a.cfg.SharedSecret, nil
}

func extractBearer(authHeader string) (string, error) {
	if authHeader == "" {
		return "", apierr.New(apierr.KindUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", apierr.New(apierr.KindUnauthorized, "authorization header must be 'Bearer <token>'")
	}
	return parts[1], nil
}

// parseScope accepts either a JSON array of strings or a single
// whitespace-separated string, per spec §6.
func parseScope(raw json.RawMessage) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(raw) == 0 {
		return out, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, s := range list {
			if s != "" {
				out[s] = struct{}{}
			}
		}
		return out, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	for _, s := range strings.Fields(single) {
		out[s] = struct{}{}
	}
	return out, nil
}

func boolOrDefault(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
