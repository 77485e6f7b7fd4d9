// Package token decodes the dashboard's bearer session token into typed
// claims. The token is only ever accepted over the server-set session cookie,
// so the signature segment is not verified here; authenticity is the
// transport's responsibility.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SourceHeroku marks logins initiated through the Heroku marketplace
// integration. Heroku logins carry a sibling navigation-data blob naming the
// calling application.
const SourceHeroku = "heroku"

// DefaultSourceApp is used when a Heroku login carries no usable
// navigation data.
const DefaultSourceApp = "unknown"

// ErrMalformedToken reports a token that cannot be decoded. It is never a
// user-facing failure; callers treat it as "not logged in".
var ErrMalformedToken = errors.New("malformed session token")

// Claims are the decoded fields carried by a session token.
type Claims struct {
	Subject   string `json:"sub"`
	Email     string `json:"email"`
	Source    string `json:"source"`
	SourceApp string `json:"-"`
	ExpiresAt int64  `json:"exp"` // epoch seconds
}

type navData struct {
	App     string `json:"app"`
	AppName string `json:"appname"`
}

// Decode parses a header.payload.signature token into Claims. Only the
// payload segment is consumed; the signature may be absent. navData is the
// raw navigation-data cookie value consulted for Heroku logins; it may be
// empty.
func Decode(tok, nav string) (Claims, error) {
	parts := strings.Split(tok, ".")
	if len(parts) < 2 {
		return Claims{}, fmt.Errorf("%w: expected header.payload.signature, got %d segment(s)", ErrMalformedToken, len(parts))
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: payload is not valid base64", ErrMalformedToken)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: payload is not valid JSON", ErrMalformedToken)
	}

	if claims.Source == SourceHeroku {
		claims.SourceApp = herokuSourceApp(nav)
	}
	return claims, nil
}

// IsExpired reports whether the claims expired strictly before now,
// at second granularity.
func IsExpired(claims Claims, now time.Time) bool {
	return now.Unix() > claims.ExpiresAt
}

// ExpiresAtMillis returns the expiry instant in epoch milliseconds.
func (c Claims) ExpiresAtMillis() int64 {
	return c.ExpiresAt * 1000
}

func herokuSourceApp(nav string) string {
	nav = strings.TrimSpace(nav)
	if nav == "" {
		return DefaultSourceApp
	}
	raw, err := decodeSegment(nav)
	if err != nil {
		return DefaultSourceApp
	}
	var data navData
	if err := json.Unmarshal(raw, &data); err != nil {
		return DefaultSourceApp
	}
	if app := strings.TrimSpace(data.App); app != "" {
		return app
	}
	if app := strings.TrimSpace(data.AppName); app != "" {
		return app
	}
	return DefaultSourceApp
}

func decodeSegment(seg string) ([]byte, error) {
	seg = strings.TrimRight(seg, "=")
	if raw, err := base64.RawURLEncoding.DecodeString(seg); err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(seg)
}
