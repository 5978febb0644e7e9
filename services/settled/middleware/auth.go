package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// DefaultAdminScope is the scope an admin JWT must carry when none is configured.
const DefaultAdminScope = "settled:admin"

// AuthConfig describes the credentials accepted on operator routes. At least
// one of BearerToken, JWTSecret or AllowMTLS must be set.
type AuthConfig struct {
	BearerToken string
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTScope    string
	ClockSkew   time.Duration
	AllowMTLS   bool
}

// Authenticator validates operator requests by static bearer token, HMAC
// signed JWT or verified client certificate.
type Authenticator struct {
	bearerToken []byte
	secret      []byte
	issuer      string
	audience    string
	scope       string
	skew        time.Duration
	allowMTLS   bool
	logger      *slog.Logger
}

// NewAuthenticator constructs an Authenticator from configuration.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	token := strings.TrimSpace(cfg.BearerToken)
	secret := strings.TrimSpace(cfg.JWTSecret)
	if token == "" && secret == "" && !cfg.AllowMTLS {
		return nil, fmt.Errorf("at least one authentication mechanism must be configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	auth := &Authenticator{
		bearerToken: []byte(token),
		secret:      []byte(secret),
		issuer:      strings.TrimSpace(cfg.JWTIssuer),
		audience:    strings.TrimSpace(cfg.JWTAudience),
		scope:       strings.TrimSpace(cfg.JWTScope),
		skew:        cfg.ClockSkew,
		allowMTLS:   cfg.AllowMTLS,
		logger:      logger,
	}
	if auth.scope == "" {
		auth.scope = DefaultAdminScope
	}
	if auth.skew <= 0 {
		auth.skew = 2 * time.Minute
	}
	return auth, nil
}

// Middleware enforces authentication for admin handlers. A nil
// Authenticator rejects every request.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			http.Error(w, "authentication unavailable", http.StatusInternalServerError)
			return
		}
		if a.authenticate(r) {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "authentication required", http.StatusUnauthorized)
	})
}

func (a *Authenticator) authenticate(r *http.Request) bool {
	if r == nil {
		return false
	}
	if a.allowMTLS && a.authenticateByMTLS(r) {
		return true
	}
	token := parseBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return false
	}
	if len(a.bearerToken) > 0 && subtle.ConstantTimeCompare([]byte(token), a.bearerToken) == 1 {
		return true
	}
	if len(a.secret) > 0 {
		if err := a.authenticateByJWT(token); err != nil {
			a.logger.Warn("admin token rejected", "route", r.URL.Path, "error", err)
			return false
		}
		return true
	}
	return false
}

func (a *Authenticator) authenticateByMTLS(r *http.Request) bool {
	state := r.TLS
	return state != nil && state.HandshakeComplete && len(state.VerifiedChains) > 0
}

func (a *Authenticator) authenticateByJWT(raw string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(a.skew),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token invalid")
	}
	if !hasScope(claims, a.scope) {
		return fmt.Errorf("missing scope %q", a.scope)
	}
	return nil
}

func hasScope(claims jwt.MapClaims, want string) bool {
	switch v := claims["scope"].(type) {
	case string:
		for _, scope := range strings.Fields(v) {
			if scope == want {
				return true
			}
		}
	case []interface{}:
		for _, entry := range v {
			if s, ok := entry.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
