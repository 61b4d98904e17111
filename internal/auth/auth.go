// Package auth establishes the calling user for each request.
//
// Handlers never read identity from ambient state: the middleware stores the
// caller's user id in the request context and downstream code asks for it
// with UserFromContext.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Modes of identifying callers.
const (
	// ModeJWT verifies an HS256 bearer token whose subject is the user id.
	ModeJWT = "jwt"
	// ModeHeader trusts a user id header set by a fronting gateway.
	ModeHeader = "header"
)

// DefaultHeader carries the user id in header mode.
const DefaultHeader = "X-User-Id"

// ErrInvalidToken reports a token that failed verification.
var ErrInvalidToken = errors.New("invalid token")

// Config configures an Authenticator.
type Config struct {
	Mode   string
	Secret []byte
	Issuer string
	Header string
	Now    func() time.Time
}

type contextKey struct{}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFromContext returns the caller's user id, if the request was authenticated.
func UserFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(contextKey{}).(int64)
	return id, ok && id > 0
}

// Authenticator identifies callers.
type Authenticator struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and constructs an Authenticator.
func New(cfg Config, logger *zap.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	switch cfg.Mode {
	case ModeJWT:
		if len(cfg.Secret) == 0 {
			return nil, errors.New("auth: jwt mode requires a secret")
		}
	case ModeHeader:
		if cfg.Header == "" {
			cfg.Header = DefaultHeader
		}
		logger.Warn("header authentication enabled; the header must be set by a trusted gateway",
			zap.String("header", cfg.Header))
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", cfg.Mode)
	}
	return &Authenticator{cfg: cfg, logger: logger}, nil
}

// Middleware stores the caller's user id in the request context when one can be
// established. Requests without a valid identity pass through unauthenticated;
// the operations they reach decide whether that is acceptable.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.identify(r)
		switch {
		case err != nil:
			a.logger.Debug("request identity rejected", zap.String("path", r.URL.Path), zap.Error(err))
		case userID > 0:
			r = r.WithContext(WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) identify(r *http.Request) (int64, error) {
	if a.cfg.Mode == ModeHeader {
		raw := strings.TrimSpace(r.Header.Get(a.cfg.Header))
		if raw == "" {
			return 0, nil
		}
		return parseUserID(raw)
	}

	authz := r.Header.Get("Authorization")
	if authz == "" {
		return 0, nil
	}
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return 0, fmt.Errorf("%w: expected bearer authorization", ErrInvalidToken)
	}
	return a.VerifyToken(strings.TrimSpace(token))
}

// VerifyToken checks an HS256 token and returns the user id in its subject.
func (a *Authenticator) VerifyToken(token string) (int64, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.cfg.Now),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.cfg.Secret, nil
	}, opts...); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return parseUserID(claims.Subject)
}

// IssueToken mints an HS256 token identifying userID, valid for ttl.
func IssueToken(secret []byte, issuer string, userID int64, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: secret is required")
	}
	if userID <= 0 {
		return "", fmt.Errorf("auth: invalid user id %d", userID)
	}
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, raw)
	}
	return id, nil
}
