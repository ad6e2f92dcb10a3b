package portal

import (
	"net/http"
	"strings"

	appErrors "github.com/noah-isme/batch-enrollment/pkg/errors"
)

// Session holds the credential issued by the external login collaborator.
// It is read-only once constructed.
type Session struct {
	token string
}

// NewSession wraps an already-issued bearer token.
func NewSession(token string) (*Session, error) {
	token = strings.TrimSpace(token)
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return nil, appErrors.Clone(appErrors.ErrAuthExpired, "no credential available, please sign in")
	}
	return &Session{token: token}, nil
}

// Authorize attaches the credential to an outbound request.
func (s *Session) Authorize(req *http.Request) {
	if s == nil || req == nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
}
