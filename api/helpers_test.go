package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hibridge/engine/auth"
	"github.com/hibridge/engine/checkin"
	"github.com/hibridge/engine/directory"
	"github.com/hibridge/engine/generic/store"
	"github.com/hibridge/engine/notify"
	"github.com/hibridge/engine/rewards"
	"github.com/hibridge/engine/voting"
)

// Wednesday, 2025-03-05
var testNow = time.Date(2025, time.March, 5, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	server *httptest.Server
	mem    *store.TxMemory
	dir    *directory.Directory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := func() time.Time { return testNow }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mem := store.NewTxMemory()
	dir := directory.New(mem, logger)
	rw := rewards.NewService(mem, dir, rewards.WithClock(clock), rewards.WithLogger(logger))
	votes := voting.NewAggregator(mem, dir, voting.WithClock(clock), voting.WithLogger(logger))
	uploads := t.TempDir()
	photos, err := checkin.NewDiskPhotoStore(uploads)
	require.NoError(t, err)
	checkins := checkin.NewService(dir, rw, photos, checkin.WithClock(clock), checkin.WithLogger(logger))

	h := NewHandler(Deps{
		Directory:      dir,
		Rewards:        rw,
		Votes:          votes,
		CheckIns:       checkins,
		Subscriptions:  notify.NewSubscriptions(mem),
		Store:          mem,
		Sessions:       SessionConfig{Secret: "test-secret"},
		VAPIDPublicKey: "test-public-key",
		Logger:         logger,
		Now:            clock,
	})
	srv := httptest.NewServer(NewRouter(h, RouterConfig{
		AllowedOrigins:  []string{"http://localhost:5173"},
		UploadsDir:      uploads,
		EnableScenarios: true,
		Logger:          logger,
	}))
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, mem: mem, dir: dir}
}

// admin seeds the global admin account and returns a client logged in as it.
func (e *testEnv) admin(t *testing.T) *client {
	t.Helper()
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	_, err = e.dir.SeedAdmin(context.Background(), "root@example.com", hash)
	require.NoError(t, err)
	c := e.client(t)
	c.call(http.MethodPost, "/api/auth/login", LoginRequest{Email: "root@example.com", Password: "password123"}, http.StatusOK, nil)
	return c
}

// client is a browser-like session with its own cookie jar.
type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func (e *testEnv) client(t *testing.T) *client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{t: t, base: e.server.URL, http: &http.Client{Jar: jar}}
}

// do sends body as JSON (nil for none) and returns the status and raw body.
func (c *client) do(method, path string, body any) (int, []byte) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req)
}

func (c *client) send(req *http.Request) (int, []byte) {
	c.t.Helper()
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, raw
}

// call asserts the status and decodes the response into out (if non-nil).
func (c *client) call(method, path string, body any, wantStatus int, out any) {
	c.t.Helper()
	status, raw := c.do(method, path, body)
	require.Equal(c.t, wantStatus, status, "%s %s: %s", method, path, raw)
	if out != nil {
		require.NoError(c.t, json.Unmarshal(raw, out))
	}
}

// errorCode performs a request expected to fail and returns its error code.
func (c *client) errorCode(method, path string, body any, wantStatus int) string {
	c.t.Helper()
	var resp ErrorResponse
	c.call(method, path, body, wantStatus, &resp)
	return resp.Code
}

func (c *client) register(email, first string) UserDTO {
	c.t.Helper()
	var resp UserResponse
	c.call(http.MethodPost, "/api/auth/register", RegisterRequest{
		Email: email, Password: "password123", FirstName: first, LastName: "Test",
	}, http.StatusCreated, &resp)
	return resp.User
}

func (c *client) createTeam(name string) TeamDTO {
	c.t.Helper()
	var resp TeamResponse
	c.call(http.MethodPost, "/api/teams", CreateTeamRequest{Name: name}, http.StatusCreated, &resp)
	return resp.Team
}
