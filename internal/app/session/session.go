// Package session issues and reads the signed cookie that carries a
// visitor's display name and current room between the HTTP endpoints and the
// WebSocket upgrade.
package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the session cookie set on room create/join.
const CookieName = "session"

// ErrNoSession is returned when the request carries no usable session.
var ErrNoSession = errors.New("no session")

// Session is the identity the transport layer pairs with a connection.
type Session struct {
	Username string
	RoomID   string
}

// Manager signs and verifies session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// New creates a Manager with the given signing secret and token TTL.
func New(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// Sign creates a token for the given identity and room.
func (m *Manager) Sign(s Session) (string, error) {
	if s.Username == "" {
		return "", errors.New("empty username")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  s.Username,
		"room": s.RoomID,
		"iat":  now.Unix(),
		"exp":  now.Add(m.ttl).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(m.secret)
}

// Verify checks a token and returns the session it carries.
func (m *Manager) Verify(tok string) (Session, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Session{}, err
	}
	username, _ := claims["sub"].(string)
	if username == "" {
		return Session{}, errors.New("no sub")
	}
	roomID, _ := claims["room"].(string)
	return Session{Username: username, RoomID: roomID}, nil
}

// Issue signs the session and sets it as a cookie on the response.
func (m *Manager) Issue(w http.ResponseWriter, s Session) error {
	tok, err := m.Sign(s)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// FromRequest reads and verifies the session cookie.
func (m *Manager) FromRequest(r *http.Request) (Session, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return Session{}, ErrNoSession
	}
	return m.Verify(c.Value)
}
