package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"git.home.luguber.info/inful/buildrelay/internal/config"
)

func tokenPolicy(tokens ...string) *config.AuthConfig {
	return &config.AuthConfig{AuthType: "token", AllowedTokens: tokens}
}

func TestAuthorizeTokenHeader(t *testing.T) {
	policy := tokenPolicy("s3cret")

	r := httptest.NewRequest("POST", "/build", nil)
	r.Header.Set("Authorization", "Bearer s3cret")
	assert.True(t, Authorize(r, policy))

	r = httptest.NewRequest("POST", "/build", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	assert.False(t, Authorize(r, policy))

	r = httptest.NewRequest("POST", "/build", nil)
	assert.False(t, Authorize(r, policy), "no credentials at all")
}

func TestAuthorizeTokenQueryFallback(t *testing.T) {
	policy := tokenPolicy("s3cret")

	r := httptest.NewRequest("POST", "/build?token=s3cret", nil)
	assert.True(t, Authorize(r, policy))

	// Header takes precedence over the query parameter.
	r = httptest.NewRequest("POST", "/build?token=s3cret", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	assert.False(t, Authorize(r, policy))
}

func TestAuthorizeAddress(t *testing.T) {
	policy := &config.AuthConfig{
		AuthType:         "address",
		AddressType:      "ip",
		AllowedAddresses: []string{"10.0.0.7"},
	}

	r := httptest.NewRequest("POST", "/build", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	assert.True(t, Authorize(r, policy))

	r.RemoteAddr = "10.0.0.8:51234"
	assert.False(t, Authorize(r, policy))
}

func TestAuthorizeBothRequiresBoth(t *testing.T) {
	policy := &config.AuthConfig{
		AuthType:         "both",
		AddressType:      "ip",
		AllowedAddresses: []string{"10.0.0.7"},
		AllowedTokens:    []string{"s3cret"},
	}

	r := httptest.NewRequest("POST", "/build", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	r.Header.Set("Authorization", "Bearer s3cret")
	assert.True(t, Authorize(r, policy))

	r.Header.Set("Authorization", "Bearer wrong")
	assert.False(t, Authorize(r, policy), "token mismatch")

	r.Header.Set("Authorization", "Bearer s3cret")
	r.RemoteAddr = "10.0.0.9:51234"
	assert.False(t, Authorize(r, policy), "address mismatch")
}

func TestAuthorizeNilOrUnknownPolicyDenies(t *testing.T) {
	r := httptest.NewRequest("POST", "/build", nil)
	assert.False(t, Authorize(r, nil))
	assert.False(t, Authorize(r, &config.AuthConfig{AuthType: "nope"}))
}
