package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled           = errors.New("authentication disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrMissingToken       = errors.New("missing bearer token")
	ErrMissingIdentity    = errors.New("missing caller identity")
	ErrMalformedIdentity  = errors.New("malformed caller identity")
	ErrIdentityMismatch   = errors.New("claimed profile does not match token subject")
	ErrSubjectRevoked     = errors.New("subject is disabled")
)

// profileIDPattern 约束调用方标识的形状。
var profileIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// ValidProfileID reports whether id has the accepted profile identifier shape.
func ValidProfileID(id string) bool {
	return profileIDPattern.MatchString(id)
}

// Store abstracts the account catalogue used for token issuance.
// Implementations must be safe for concurrent use.
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
}

// User represents an account with credentials bound to one banking profile.
type User struct {
	Username     string
	ProfileID    string
	PasswordHash string
	Roles        []string
	Disabled     bool
}

// Subject is the resolved caller identity passed to handlers via context.
type Subject struct {
	ProfileID string
	Username  string
	Roles     []string
}

// HasRole reports whether the subject carries the role.
func (s *Subject) HasRole(role string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Clone creates a copy of the subject.
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	return &Subject{
		ProfileID: s.ProfileID,
		Username:  s.Username,
		Roles:     append([]string(nil), s.Roles...),
	}
}

// TokenRequest describes the payload accepted by the token issuance endpoint.
type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Token contains an issued access token.
type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	ProfileID   string `json:"profile_id"`
}

// Config configures the authentication service.
type Config struct {
	Mode  Mode
	JWT   JWTOptions
	Seeds []Seed
}

// Mode enumerates the supported identity modes.
type Mode string

const (
	// ModeDisabled 信任请求体中声明的 profileId，仅校验形状。
	ModeDisabled Mode = "disabled"
	// ModeJWT 要求 Bearer 令牌，令牌主体即调用方身份。
	ModeJWT Mode = "jwt"
)

// JWTOptions contains parameters for local JWT issuance.
type JWTOptions struct {
	Secret    string
	Issuer    string
	AccessTTL time.Duration
}

// Seed defines an initial account to bootstrap.
type Seed struct {
	Username  string
	Password  string
	ProfileID string
	Roles     []string
	Disabled  bool
}
