package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"slices"
	"time"

	"github.com/goevery/hotelsync/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
)

const (
	StaffAudience      = "hotelsync"
	ConnectionAudience = "hotelsync-ws"

	ScopePublish   = "publish"
	ScopeSubscribe = "subscribe"
)

type Claims struct {
	jwt.RegisteredClaims
	Role               string   `json:"role,omitempty"`
	AuthorizedChannels []string `json:"authorizedChannels,omitempty"`
	Scope              []string `json:"scope,omitempty"`
}

type Authentication struct {
	Subject            string
	Role               string
	AuthorizedChannels []string
	Scope              []string
	IsAdmin            bool
}

func (a *Authentication) IsPublisher() bool {
	return slices.Contains(a.Scope, ScopePublish)
}

func (a *Authentication) IsSubscriber() bool {
	return slices.Contains(a.Scope, ScopeSubscribe)
}

// IsAuthorized reports whether the holder may use channel. Admins may use
// any channel.
func (a *Authentication) IsAuthorized(channel string) bool {
	if a.Subject == "" {
		return false
	}

	if a.IsAdmin {
		return true
	}

	return slices.Contains(a.Channels(), channel)
}

// Channels lists the channels the holder may join: those named in the
// token, the departments of its role and its own staff channel. Names that
// are not hotel channels are skipped.
func (a *Authentication) Channels() []string {
	if a.Subject == "" {
		return nil
	}

	var channels []string
	add := func(name string) {
		if _, err := ParseChannel(name); err != nil || slices.Contains(channels, name) {
			return
		}

		channels = append(channels, name)
	}

	for _, name := range a.AuthorizedChannels {
		add(name)
	}

	for _, name := range roleDepartments[a.Role] {
		add(name)
	}

	add(StaffChannel(a.Subject))

	return channels
}

type contextKey string

const authenticationKey contextKey = "authentication"

func WithAuthentication(ctx context.Context, auth *Authentication) context.Context {
	return context.WithValue(ctx, authenticationKey, auth)
}

func AuthenticationFromContext(ctx context.Context) (*Authentication, bool) {
	auth, ok := ctx.Value(authenticationKey).(*Authentication)
	return auth, ok
}

// Authenticator validates staff tokens issued by the hotel's identity
// service and issues the short-lived connection tokens accepted by the
// websocket endpoint.
type Authenticator struct {
	secret             []byte
	apiKeys            []string
	connectionTokenTTL time.Duration
	staffParser        *jwt.Parser
	connectionParser   *jwt.Parser
	now                func() time.Time
}

func newParser(audience string) *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithAudience(audience),
	)
}

func NewAuthenticator(secret string, apiKeys []string, connectionTokenTTL time.Duration) *Authenticator {
	if connectionTokenTTL <= 0 {
		connectionTokenTTL = time.Minute
	}

	return &Authenticator{
		secret:             []byte(secret),
		apiKeys:            apiKeys,
		connectionTokenTTL: connectionTokenTTL,
		staffParser:        newParser(StaffAudience),
		connectionParser:   newParser(ConnectionAudience),
		now:                time.Now,
	}
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("unexpected signing method"))
	}
	return a.secret, nil
}

func (a *Authenticator) parse(parser *jwt.Parser, tokenString string) (*Authentication, error) {
	claims := Claims{}

	_, err := parser.ParseWithClaims(tokenString, &claims, a.keyFunc)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid subject claim"))
	}

	if len(claims.AuthorizedChannels) == 0 && len(roleDepartments[claims.Role]) == 0 {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("token grants no channels: set a known role or authorized channels"))
	}

	return &Authentication{
		Subject:            subject,
		Role:               claims.Role,
		AuthorizedChannels: claims.AuthorizedChannels,
		Scope:              claims.Scope,
		IsAdmin:            false,
	}, nil
}

// AuthenticateJWT validates a staff token.
func (a *Authenticator) AuthenticateJWT(tokenString string) (*Authentication, error) {
	return a.parse(a.staffParser, tokenString)
}

// AuthenticateConnectionToken validates a token previously returned by
// IssueConnectionToken. Staff tokens are rejected by audience.
func (a *Authenticator) AuthenticateConnectionToken(tokenString string) (*Authentication, error) {
	return a.parse(a.connectionParser, tokenString)
}

func (a *Authenticator) IssueConnectionToken(authentication *Authentication) (string, time.Time, error) {
	if authentication == nil || authentication.Subject == "" {
		return "", time.Time{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("authentication required"))
	}

	now := a.now()
	expiresAt := now.Add(a.connectionTokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   authentication.Subject,
			Audience:  jwt.ClaimStrings{ConnectionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:               authentication.Role,
		AuthorizedChannels: authentication.AuthorizedChannels,
		Scope:              authentication.Scope,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, ierr.New(ierr.ErrorCodeInternal, err)
	}

	return token, expiresAt, nil
}

func (a *Authenticator) AuthenticateAPIKey(apiKey string) (*Authentication, error) {
	for _, key := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			return &Authentication{
				Subject: "api",
				Scope:   []string{ScopePublish},
				IsAdmin: true,
			}, nil
		}
	}

	return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("invalid api key"))
}
