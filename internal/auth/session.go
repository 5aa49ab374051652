package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goevery/hotelsync/internal/ierr"
	"github.com/gorilla/sessions"
)

const (
	sessionName = "hotelsync_session"

	sessionSubject  = "subject"
	sessionRole     = "role"
	sessionChannels = "channels"
	sessionScope    = "scope"
)

// SessionStore keeps the staff authentication in a signed cookie so the
// browser or device can later obtain connection tokens without resending
// its staff token.
type SessionStore struct {
	store *sessions.CookieStore
}

func NewSessionStore(hashKey []byte, secure bool) *SessionStore {
	store := sessions.NewCookieStore(hashKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   12 * 60 * 60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &SessionStore{
		store,
	}
}

func (s *SessionStore) Save(w http.ResponseWriter, r *http.Request, authentication *Authentication) error {
	session, _ := s.store.Get(r, sessionName)

	session.Values[sessionSubject] = authentication.Subject
	session.Values[sessionRole] = authentication.Role
	session.Values[sessionChannels] = strings.Join(authentication.AuthorizedChannels, ",")
	session.Values[sessionScope] = strings.Join(authentication.Scope, ",")

	if err := session.Save(r, w); err != nil {
		return ierr.New(ierr.ErrorCodeInternal, err)
	}

	return nil
}

// Load returns the authentication stored in the request's session cookie.
func (s *SessionStore) Load(r *http.Request) (*Authentication, error) {
	session, err := s.store.Get(r, sessionName)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, err)
	}

	subject, _ := session.Values[sessionSubject].(string)
	if subject == "" {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("no session"))
	}

	role, _ := session.Values[sessionRole].(string)
	channels, _ := session.Values[sessionChannels].(string)
	scope, _ := session.Values[sessionScope].(string)

	return &Authentication{
		Subject:            subject,
		Role:               role,
		AuthorizedChannels: split(channels),
		Scope:              split(scope),
	}, nil
}

func (s *SessionStore) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.store.Get(r, sessionName)

	session.Values = make(map[any]any)
	session.Options.MaxAge = -1

	return session.Save(r, w)
}

func split(s string) []string {
	if s == "" {
		return nil
	}

	return strings.Split(s, ",")
}
