package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edvart/lol-inhouse/internal/domain"
)

// Identity is the authenticated player attached to each request.
type Identity struct {
	SummonerName string
	GameName     string
	TagLine      string
	Region       string
}

// CustomSessionID returns the player's stable lock key.
func (id *Identity) CustomSessionID() string {
	return domain.CustomSessionID(id.GameName, id.TagLine)
}

type claims struct {
	SummonerName string `json:"summonerName"`
	GameName     string `json:"gameName"`
	TagLine      string `json:"tagLine"`
	Region       string `json:"region,omitempty"`
	jwt.RegisteredClaims
}

// Auth signs and verifies the session tokens carried by every RPC.
type Auth struct {
	secret []byte
	ttl    time.Duration
}

// NewAuth creates the token authority.
func NewAuth(secret string, ttl time.Duration) *Auth {
	return &Auth{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed token for the identity.
func (a *Auth) Issue(id Identity) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		SummonerName: id.SummonerName,
		GameName:     id.GameName,
		TagLine:      id.TagLine,
		Region:       id.Region,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strings.ToLower(id.SummonerName),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	})
	return token.SignedString(a.secret)
}

// Verify parses a token back into an identity.
func (a *Auth) Verify(tokenString string) (*Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || c.SummonerName == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return &Identity{
		SummonerName: c.SummonerName,
		GameName:     c.GameName,
		TagLine:      c.TagLine,
		Region:       c.Region,
	}, nil
}

type contextKey struct{}

// RequireAuth rejects requests without a valid bearer token.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.identify(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, id)))
	})
}

// identify extracts the identity from the Authorization header or, for
// WebSocket upgrades, the token query parameter.
func (a *Auth) identify(r *http.Request) (*Identity, error) {
	tokenString := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tokenString = strings.TrimPrefix(h, "Bearer ")
	} else if q := r.URL.Query().Get("token"); q != "" {
		tokenString = q
	}
	if tokenString == "" {
		return nil, fmt.Errorf("missing token")
	}
	return a.Verify(tokenString)
}

// UserFromContext returns the authenticated identity, or nil.
func UserFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
