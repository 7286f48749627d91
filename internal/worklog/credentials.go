// Package worklog drives one worklog submission through a browser and turns
// whatever happens into a Result with its diagnostic trail.
package worklog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xkilldash9x/worklog-cli/internal/config"
)

// Cookie names the site authenticates with.
const (
	CookieAuthSession            = "AUTH_SESSION_ID"
	CookieAuthSessionLegacy      = "AUTH_SESSION_ID_LEGACY"
	CookieKeycloakIdentity       = "KEYCLOAK_IDENTITY"
	CookieKeycloakIdentityLegacy = "KEYCLOAK_IDENTITY_LEGACY"
	CookieKeycloakSession        = "KEYCLOAK_SESSION"
	CookieKeycloakSessionLegacy  = "KEYCLOAK_SESSION_LEGACY"
)

// ErrNoCredentials is returned when the primary session token is missing.
var ErrNoCredentials = errors.New("no configuration provided: primary session token is empty")

// Content is the free text written into the three form sections.
type Content struct {
	Tasks      string `json:"tasksCompleted"`
	Challenges string `json:"challenges"`
	Blockers   string `json:"blockers"`
}

// Credentials is one user's automation identity. The core only reads it.
type Credentials struct {
	AuthSessionID          string `json:"authSessionId"`
	AuthSessionIDLegacy    string `json:"authSessionIdLegacy,omitempty"`
	KeycloakIdentity       string `json:"keycloakIdentity"`
	KeycloakIdentityLegacy string `json:"keycloakIdentityLegacy,omitempty"`
	KeycloakSession        string `json:"keycloakSession"`
	KeycloakSessionLegacy  string `json:"keycloakSessionLegacy,omitempty"`
	Content
}

// Validate checks the credential set can start a run.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.AuthSessionID) == "" {
		return ErrNoCredentials
	}
	return nil
}

// Key identifies the user. It is the primary session token, so it must only be
// shown through MaskedKey.
func (c Credentials) Key() string {
	return strings.TrimSpace(c.AuthSessionID)
}

// MaskedKey is safe for logs and API responses.
func (c Credentials) MaskedKey() string {
	return MaskKey(c.Key())
}

// MaskKey keeps the last eight characters of a key.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "..." + strings.Repeat("*", len(key))
	}
	return "..." + key[len(key)-8:]
}

// WithDefaults fills empty content fields.
func (c Credentials) WithDefaults(d config.ContentDefaults) Credentials {
	if strings.TrimSpace(c.Tasks) == "" {
		c.Tasks = d.Tasks
	}
	if strings.TrimSpace(c.Challenges) == "" {
		c.Challenges = d.Challenges
	}
	if strings.TrimSpace(c.Blockers) == "" {
		c.Blockers = d.Blockers
	}
	return c
}

// NamedToken is a cookie name with its raw value.
type NamedToken struct {
	Name  string
	Value string
}

// Tokens lists the six cookies in injection order. A legacy token that was not
// supplied reuses its primary counterpart, which is what the site issues.
func (c Credentials) Tokens() []NamedToken {
	or := func(v, fallback string) string {
		if strings.TrimSpace(v) == "" {
			return fallback
		}
		return v
	}
	return []NamedToken{
		{CookieAuthSession, c.AuthSessionID},
		{CookieAuthSessionLegacy, or(c.AuthSessionIDLegacy, c.AuthSessionID)},
		{CookieKeycloakIdentity, c.KeycloakIdentity},
		{CookieKeycloakIdentityLegacy, or(c.KeycloakIdentityLegacy, c.KeycloakIdentity)},
		{CookieKeycloakSession, c.KeycloakSession},
		{CookieKeycloakSessionLegacy, or(c.KeycloakSessionLegacy, c.KeycloakSession)},
	}
}

// TokenVerdict says what sanitization did to a token.
type TokenVerdict int

const (
	TokenClean TokenVerdict = iota
	// TokenTruncated: a single trailing ".suffix" was dropped.
	TokenTruncated
	// TokenJWT: a well-formed JWT, kept whole.
	TokenJWT
	// TokenFlagged: kept as supplied but needs a human to look at it.
	TokenFlagged
)

// SanitizedToken is the outcome of SanitizeToken.
type SanitizedToken struct {
	Value   string
	Verdict TokenVerdict
	Note    string
	Expires *time.Time
}

var jwtParser = jwt.NewParser()

// SanitizeToken applies the token rule. A value with exactly one '.' carries a
// copied domain suffix and is cut at the dot. Values with more segments are
// never cut: a parseable JWT is kept (and flagged when expired), anything else
// is kept and flagged for review.
func SanitizeToken(raw string, now time.Time) SanitizedToken {
	v := strings.TrimSpace(raw)
	segments := strings.Split(v, ".")

	switch {
	case len(segments) == 1:
		return SanitizedToken{Value: v, Verdict: TokenClean}

	case len(segments) == 2 && segments[0] != "":
		return SanitizedToken{
			Value:   segments[0],
			Verdict: TokenTruncated,
			Note:    fmt.Sprintf("dropped suffix %q", "."+segments[1]),
		}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwtParser.ParseUnverified(v, claims); err == nil {
		out := SanitizedToken{Value: v, Verdict: TokenJWT, Note: "JWT kept intact"}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			t := exp.Time
			out.Expires = &t
			if t.Before(now) {
				out.Verdict = TokenFlagged
				out.Note = fmt.Sprintf("JWT expired at %s", t.UTC().Format(time.RFC3339))
			} else {
				out.Note = fmt.Sprintf("JWT kept intact, expires %s", t.UTC().Format(time.RFC3339))
			}
		}
		return out
	}

	return SanitizedToken{
		Value:   v,
		Verdict: TokenFlagged,
		Note:    fmt.Sprintf("%d dot-separated segments, kept as supplied; review the token format", len(segments)),
	}
}
