package csrf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openkcm/login-portal/pkg/csrf"
)

func TestCSRF(t *testing.T) {
	tests := []struct {
		name              string
		genKey            string
		genSessionID      string
		validateKey       string
		validateSessionID string
		wantValid         bool
	}{
		{
			name:              "validates a token successfully",
			genKey:            "my-super-secret-key",
			genSessionID:      "some-session-id",
			validateKey:       "my-super-secret-key",
			validateSessionID: "some-session-id",
			wantValid:         true,
		},
		{
			name:              "mismatched session id",
			genKey:            "my-super-secret-key",
			genSessionID:      "some-session-id",
			validateKey:       "my-super-secret-key",
			validateSessionID: "another-session-id",
			wantValid:         false,
		},
		{
			name:              "mismatched key",
			genKey:            "my-super-secret-key",
			genSessionID:      "some-session-id",
			validateKey:       "a-different-secret-key",
			validateSessionID: "some-session-id",
			wantValid:         false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			token := csrf.NewToken(tc.genSessionID, []byte(tc.genKey))
			got := csrf.Validate(token, tc.validateSessionID, []byte(tc.validateKey))

			assert.Equal(t, tc.wantValid, got)
		})
	}
}

func TestValidateMalformedTokens(t *testing.T) {
	key := []byte("my-super-secret-key")

	assert.False(t, csrf.Validate("", "session", key))
	assert.False(t, csrf.Validate("not-a-token", "session", key))
	assert.False(t, csrf.Validate("zz.zz", "session", key))
	assert.False(t, csrf.Validate("deadbeef.not-hex", "session", key))
}

func TestTokensAreUnique(t *testing.T) {
	key := []byte("my-super-secret-key")

	first := csrf.NewToken("session", key)
	second := csrf.NewToken("session", key)

	assert.NotEqual(t, first, second)
	assert.True(t, csrf.Validate(first, "session", key))
	assert.True(t, csrf.Validate(second, "session", key))
}
