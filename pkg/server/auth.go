package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"uigen/pkg/failure"
)

// Authenticator resolves the caller of a request to a subject.
type Authenticator interface {
	Authenticate(r *http.Request) (subject string, err error)
}

// StaticTokens accepts a fixed set of bearer tokens.
type StaticTokens struct {
	tokens [][]byte
}

// NewStaticTokens builds an authenticator from configured tokens. Blank
// entries are ignored.
func NewStaticTokens(tokens []string) *StaticTokens {
	st := &StaticTokens{}
	for _, tok := range tokens {
		if tok = strings.TrimSpace(tok); tok != "" {
			st.tokens = append(st.tokens, []byte(tok))
		}
	}
	return st
}

// Authenticate checks the Authorization header. The subject is the index of
// the matching token so tokens never reach logs.
func (s *StaticTokens) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", &failure.Unauthorized{Reason: "missing bearer token"}
	}

	presented := []byte(strings.TrimSpace(token))
	for i, tok := range s.tokens {
		if subtle.ConstantTimeCompare(presented, tok) == 1 {
			return fmt.Sprintf("token-%d", i), nil
		}
	}
	return "", &failure.Unauthorized{Reason: "unknown token"}
}
