// Package auth implements request authorization for the build endpoints.
// Policies allow by bearer token, by caller address, or by both.
package auth

import (
	"net"
	"net/http"
	"strings"

	"git.home.luguber.info/inful/buildrelay/internal/config"
)

// Authorize reports whether the request satisfies the policy. A nil policy
// denies; unknown auth types deny.
func Authorize(r *http.Request, policy *config.AuthConfig) bool {
	if policy == nil {
		return false
	}
	switch policy.AuthType {
	case "token":
		return tokenAllowed(r, policy)
	case "address":
		return addressAllowed(r, policy)
	case "both":
		return tokenAllowed(r, policy) && addressAllowed(r, policy)
	default:
		return false
	}
}

// tokenAllowed checks the Authorization bearer header first, then the token
// query parameter. The query fallback exists for webhook sources that cannot
// set headers.
func tokenAllowed(r *http.Request, policy *config.AuthConfig) bool {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return false
	}
	for _, allowed := range policy.AllowedTokens {
		if token == allowed {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func addressAllowed(r *http.Request, policy *config.AuthConfig) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	switch policy.AddressType {
	case "hostname":
		names, err := net.LookupAddr(host)
		if err != nil {
			return false
		}
		for _, name := range names {
			name = strings.TrimSuffix(name, ".")
			for _, allowed := range policy.AllowedAddresses {
				if strings.EqualFold(name, allowed) {
					return true
				}
			}
		}
		return false
	default: // "ip"
		for _, allowed := range policy.AllowedAddresses {
			if host == allowed {
				return true
			}
		}
		return false
	}
}
