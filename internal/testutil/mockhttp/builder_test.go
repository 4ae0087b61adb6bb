package mockhttp

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, req *http.Request) (int, string) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRoutesAndDefault(t *testing.T) {
	t.Parallel()

	server := New().
		JSON(http.MethodGet, "/challenge", map[string]string{"challenge_id": "c1"}).
		Detail(http.MethodPost, "/issue-token", http.StatusForbidden, "Device not registered").
		Build()
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/challenge", nil)
	code, body := get(t, req)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"challenge_id":"c1"}`, body)

	req, _ = http.NewRequest(http.MethodPost, server.URL+"/issue-token", nil)
	code, body = get(t, req)
	assert.Equal(t, http.StatusForbidden, code)
	assert.JSONEq(t, `{"detail":"Device not registered"}`, body)

	t.Log("Method mismatch falls through to the default status")
	req, _ = http.NewRequest(http.MethodPost, server.URL+"/challenge", nil)
	code, _ = get(t, req)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRequirePoPAndCapture(t *testing.T) {
	t.Parallel()

	capture := &Capture{}
	server := New().
		Record(capture).
		RequirePoP("/protected").
		JSON("", "/protected", map[string]string{"message": "Access granted"}).
		Build()
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/protected", nil)
	code, _ := get(t, req)
	assert.Equal(t, http.StatusForbidden, code)

	req, _ = http.NewRequest(http.MethodGet, server.URL+"/protected", nil)
	req.Header.Set("Authorization", "Bearer a.b.c")
	code, _ = get(t, req)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	req, _ = http.NewRequest(http.MethodGet, server.URL+"/protected?x=1", nil)
	req.Header.Set("Authorization", "Bearer a.b.c")
	req.Header.Set("X-Pop-Signature", "c2ln")
	code, _ = get(t, req)
	assert.Equal(t, http.StatusOK, code)

	assert.Equal(t, 3, capture.Count())
	assert.Equal(t, 3, capture.CountPath("/protected"))
	last := capture.Last()
	require.NotNil(t, last)
	assert.Equal(t, "c2ln", last.Headers.Get("X-Pop-Signature"))
	assert.Equal(t, "1", last.Query.Get("x"))
	assert.Len(t, capture.All(), 3)
}

func TestPrefixMatch(t *testing.T) {
	t.Parallel()

	assert.True(t, matchPath("/api/v1/x", "/api/*"))
	assert.False(t, matchPath("/other", "/api/*"))
	assert.True(t, matchPath("/exact", "/exact"))
	assert.False(t, matchPath("/exact/more", "/exact"))
}
