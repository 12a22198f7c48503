package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherkeep/cipherkeep/internal/domain"
	"github.com/cipherkeep/cipherkeep/internal/session"
	"github.com/cipherkeep/cipherkeep/internal/vault"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeVault struct {
	state   session.State
	creds   []domain.Credential
	err     error
	touched int
}

func (f *fakeVault) State() session.State { return f.state }

func (f *fakeVault) Search(search string, tags []string) ([]domain.Credential, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.state != session.StateUnlocked {
		return nil, session.ErrVaultLocked
	}
	return vault.Filter(f.creds, search, tags), nil
}

func (f *fakeVault) Touch() { f.touched++ }

func newTestServer(t *testing.T, v Vault) *Server {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(testNow)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := NewServer(&ServerConfig{ListenAddr: "127.0.0.1:0", Log: log}, NewHandler(v, clk, log))
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func unlockedVault() *fakeVault {
	return &fakeVault{
		state: session.StateUnlocked,
		creds: []domain.Credential{
			{ID: "1", Title: "GitHub", Username: "octo", Password: "p1", URL: "https://github.com", Tags: []string{"work"}},
			{ID: "2", Title: "Bank", Username: "me", Password: "p2"},
		},
	}
}

func TestHandleCredentials(t *testing.T) {
	v := unlockedVault()
	srv := newTestServer(t, v)

	rr := get(t, srv, "/api/credentials")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp CredentialsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, testNow.UnixMilli(), resp.Timestamp)
	require.Len(t, resp.Credentials, 2)
	assert.Equal(t, CredentialView{ID: "1", Title: "GitHub", Username: "octo", Password: "p1", URL: "https://github.com"}, resp.Credentials[0])
	assert.Equal(t, 1, v.touched)
}

func TestHandleCredentials_Search(t *testing.T) {
	srv := newTestServer(t, unlockedVault())

	rr := get(t, srv, "/api/credentials?search=bank")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp CredentialsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Credentials, 1)
	assert.Equal(t, "Bank", resp.Credentials[0].Title)
}

func TestHandleCredentials_EmptyListIsArray(t *testing.T) {
	srv := newTestServer(t, unlockedVault())

	rr := get(t, srv, "/api/credentials?search=nothing-matches")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"credentials":[]`)
}

func TestHandleCredentials_Locked(t *testing.T) {
	v := &fakeVault{state: session.StateLocked}
	srv := newTestServer(t, v)

	rr := get(t, srv, "/api/credentials")
	assert.Equal(t, http.StatusLocked, rr.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "vault is locked", resp.Error)
	assert.Zero(t, v.touched)
}

func TestHandleCredentials_InternalError(t *testing.T) {
	v := unlockedVault()
	v.err = errors.New("boom")
	srv := newTestServer(t, v)

	rr := get(t, srv, "/api/credentials")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "boom")
}

func TestHandleStatus(t *testing.T) {
	srv := newTestServer(t, &fakeVault{state: session.StateOnboarding})

	rr := get(t, srv, "/api/status")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, session.StateOnboarding, resp.State)
}

func TestLivez(t *testing.T) {
	srv := newTestServer(t, unlockedVault())

	rr := get(t, srv, "/livez")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rr.Body.String())
}

func TestNewServer_RejectsNonLoopback(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(unlockedVault(), nil, log)

	for _, addr := range []string{"0.0.0.0:45833", "192.168.1.10:45833", ":45833", "nonsense"} {
		_, err := NewServer(&ServerConfig{ListenAddr: addr, Log: log}, h)
		assert.Error(t, err, addr)
	}
	for _, addr := range []string{"127.0.0.1:45833", "localhost:45833", "[::1]:45833"} {
		_, err := NewServer(&ServerConfig{ListenAddr: addr, Log: log}, h)
		assert.NoError(t, err, addr)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	srv := newTestServer(t, unlockedVault())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/livez", ln.Addr().String())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
