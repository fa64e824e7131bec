package fingerprint

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTTPRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       *http.Request
		wantError bool
	}{
		{
			name:      "nil request",
			wantError: true,
		}, {
			name: "empty request",
			req:  &http.Request{Header: http.Header{}},
		}, {
			name: "normal request",
			req: &http.Request{Header: http.Header{
				"User-Agent": []string{"Foo"},
				"Accept":     []string{"Bar"},
			}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromHTTPRequest(tc.req)
			if tc.wantError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Len(t, got, 64)
		})
	}
}

func TestFromHTTPRequestIsStable(t *testing.T) {
	mk := func(ua, accept string) *http.Request {
		return &http.Request{Header: http.Header{
			"User-Agent": []string{ua},
			"Accept":     []string{accept},
		}}
	}

	a, err := FromHTTPRequest(mk("Foo", "Bar"))
	require.NoError(t, err)
	b, err := FromHTTPRequest(mk("Foo", "Bar"))
	require.NoError(t, err)
	c, err := FromHTTPRequest(mk("Other", "Bar"))
	require.NoError(t, err)

	assert.Equal(t, a, b, "same headers must give the same fingerprint")
	assert.NotEqual(t, a, c, "different headers must give different fingerprints")
}

func TestFingerprintCtxMiddleware(t *testing.T) {
	var got string
	handler := FingerprintCtxMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fp, err := ExtractFingerprint(r.Context())
		require.NoError(t, err)
		got = fp
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("User-Agent", "Foo")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	assert.NotEmpty(t, got)
}

func TestExtractFingerprintMissing(t *testing.T) {
	_, err := ExtractFingerprint(t.Context())
	assert.Error(t, err)
}
