// Package auth resolves the participant identity behind a request. Issuing
// identities belongs to an external provider; JWT is the adapter shipped here.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"goban/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = apperr.New(apperr.KindAuthentication, "Authorization token is required.")
	ErrInvalidToken = apperr.New(apperr.KindAuthentication, "Invalid or expired token.")
)

// Identity is an authenticated participant.
type Identity struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
}

// Verifier extracts and checks the identity of a request.
type Verifier interface {
	Verify(r *http.Request) (Identity, error)
}

// Claims carries the participant in sub and the display name.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// JWT verifies HS256 tokens from the Authorization header or the token query
// parameter, which browsers need for websocket upgrades.
type JWT struct {
	secret []byte
	now    func() time.Time
}

func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for a participant.
func (j *JWT) Issue(participantID, name string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := &Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

func (j *JWT) Verify(r *http.Request) (Identity, error) {
	raw := bearer(r)
	if raw == "" {
		return Identity{}, ErrMissingToken
	}
	return j.Parse(raw)
}

// Parse validates a raw token.
func (j *JWT) Parse(raw string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return Identity{ParticipantID: claims.Subject, Name: name}, nil
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by the middleware, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Middleware attaches the identity of requests that carry a valid token.
// With required set, requests without one are answered by onError.
func Middleware(v Verifier, required bool, onError func(http.ResponseWriter, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.Verify(r)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
				return
			}
			if required || !errors.Is(err, ErrMissingToken) {
				onError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Static is a Verifier for tests and local play: the X-Participant header is trusted as is.
type Static struct{}

func (Static) Verify(r *http.Request) (Identity, error) {
	id := r.Header.Get("X-Participant")
	if id == "" {
		id = r.URL.Query().Get("participant")
	}
	if id == "" {
		return Identity{}, ErrMissingToken
	}
	name := r.Header.Get("X-Participant-Name")
	if name == "" {
		name = id
	}
	return Identity{ParticipantID: id, Name: name}, nil
}
