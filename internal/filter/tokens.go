package filter

import "strings"

// TokenPolicy applies allow/deny lists to a token pair. Matching is
// case-insensitive.
type TokenPolicy struct {
	allow map[string]struct{}
	deny  map[string]struct{}
}

// NewTokenPolicy builds a policy. An empty allow list admits every token
// not denied.
func NewTokenPolicy(allow, deny []string) TokenPolicy {
	return TokenPolicy{allow: tokenSet(allow), deny: tokenSet(deny)}
}

func tokenSet(tokens []string) map[string]struct{} {
	if len(tokens) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			m[t] = struct{}{}
		}
	}
	return m
}

// Check reports whether the pair passes. When it does not, reason says why.
func (p TokenPolicy) Check(tokenIn, tokenOut string) (ok bool, reason string) {
	legs := []string{strings.ToUpper(tokenIn), strings.ToUpper(tokenOut)}

	for _, t := range legs {
		if _, denied := p.deny[t]; denied && t != "" {
			return false, "token " + t + " is denied"
		}
	}

	if len(p.allow) == 0 {
		return true, ""
	}
	for _, t := range legs {
		if _, allowed := p.allow[t]; allowed {
			return true, ""
		}
	}
	return false, "no token of " + tokenIn + "/" + tokenOut + " is allowed"
}
