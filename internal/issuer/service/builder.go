package service

import (
	"strings"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
)

// Builder normalizes a token request. It holds no state.
type Builder struct{}

func NewBuilder() *Builder { return &Builder{} }

// Build grants the client's full configured scope set. The principal must
// have a subject and at least one authority.
func (*Builder) Build(p domain.Principal, c domain.Client) (domain.AuthorizationContext, error) {
	subject := strings.TrimSpace(p.Subject)
	if subject == "" {
		return domain.AuthorizationContext{}, newError(KindInvalidPrincipal, nil, "principal has no subject")
	}

	authorities := normalize(p.Authorities)
	if len(authorities) == 0 {
		return domain.AuthorizationContext{}, newError(KindInvalidPrincipal, nil, "principal %q has no authorities", subject)
	}

	return domain.AuthorizationContext{
		Principal:     domain.Principal{Subject: subject, Authorities: authorities},
		Client:        c,
		GrantedScopes: normalize(c.Scopes),
		GrantType:     domain.GrantPassword,
	}, nil
}

// normalize trims entries and drops blanks and duplicates, keeping the
// first occurrence's position. It always returns a new slice.
func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
