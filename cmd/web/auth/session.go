// Package auth reads the caller's identity from the signed session cookie.
// Sessions are issued by the account service, which signs them with the same
// SESSION_SECRET; this service never creates accounts.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	SessionName       = "carrot_session"
	UserIDKey         = "user_id"
	UsernameKey       = "username"
	SessionCreatedKey = "created_at"

	DefaultMaxAge = 7 * 24 * time.Hour
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSessionExpired   = errors.New("session expired")
)

// Identity is the caller a session cookie speaks for.
type Identity struct {
	UserID   string
	Username string
	IssuedAt time.Time
}

type SessionManager struct {
	store  *sessions.CookieStore
	maxAge time.Duration
	now    func() time.Time
}

func NewSessionManager(secret string) *SessionManager {
	if secret == "" {
		slog.Warn("SESSION_SECRET not set; using a random key, sessions from the account service will not decode")
		secret = generateSecret()
	}
	return &SessionManager{
		store:  sessions.NewCookieStore([]byte(secret)),
		maxAge: DefaultMaxAge,
		now:    time.Now,
	}
}

func generateSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.StdEncoding.EncodeToString(b)
}

// Issue writes a session cookie for userID the way the account service does.
func (sm *SessionManager) Issue(w http.ResponseWriter, r *http.Request, userID, username string) error {
	session, _ := sm.store.Get(r, SessionName)
	session.Values[UserIDKey] = userID
	session.Values[UsernameKey] = username
	session.Values[SessionCreatedKey] = sm.now().Unix()
	session.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(sm.maxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	}
	return session.Save(r, w)
}

// Identify decodes the request's session. Cookies older than the max age
// are refused even if the browser still sends them.
func (sm *SessionManager) Identify(r *http.Request) (Identity, error) {
	session, err := sm.store.Get(r, SessionName)
	if err != nil {
		slog.Warn("failed to decode session", "error", err, "host", r.Host)
		return Identity{}, ErrNotAuthenticated
	}

	uid, ok := session.Values[UserIDKey].(string)
	if !ok || uid == "" {
		return Identity{}, ErrNotAuthenticated
	}
	id := Identity{UserID: uid}
	// Username is informational; older sessions may not carry it.
	id.Username, _ = session.Values[UsernameKey].(string)

	if unix, ok := session.Values[SessionCreatedKey].(int64); ok {
		id.IssuedAt = time.Unix(unix, 0)
		if sm.now().Sub(id.IssuedAt) > sm.maxAge {
			return Identity{}, ErrSessionExpired
		}
	}
	return id, nil
}
