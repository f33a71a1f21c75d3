package accounts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/accountd/accountd/internal/shared"
	"github.com/accountd/accountd/internal/testutil"
)

type commitWriter struct {
	http.ResponseWriter
	sess          *shared.Session
	manager       *shared.SessionManager
	ctx           context.Context
	headerWritten bool
}

func (w *commitWriter) WriteHeader(statusCode int) {
	if !w.headerWritten {
		w.headerWritten = true
		_ = w.manager.Commit(w.ctx, w.ResponseWriter, w.sess)
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *commitWriter) Write(data []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

func sessionMiddleware(sm *shared.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sm.Load(r.Context(), r)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			ctx := shared.ContextWithSession(r.Context(), sess)
			wrapped := &commitWriter{ResponseWriter: w, sess: sess, manager: sm, ctx: ctx}
			next.ServeHTTP(wrapped, r.WithContext(ctx))
		})
	}
}

type testClient struct {
	t      *testing.T
	server *httptest.Server
	client *http.Client
}

func newTestClient(t *testing.T) (*testClient, *memoryRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sm := shared.NewSessionManager(redisClient, "test_session", time.Hour, false)

	repo := newMemoryRepo()
	handler := NewHandler(testutil.NopLogger(), NewService(repo), sm)

	r := chi.NewRouter()
	r.Use(sessionMiddleware(sm))
	handler.MountRoutes(r)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testClient{t: t, server: server, client: &http.Client{Jar: jar}}, repo
}

func (c *testClient) do(method, path, body string) (int, map[string]any) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.server.URL+path, strings.NewReader(body))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := c.client.Do(req)
	require.NoError(c.t, err)
	defer res.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(res.Body).Decode(&decoded)
	return res.StatusCode, decoded
}

func TestRegisterEndpoint(t *testing.T) {
	c, _ := newTestClient(t)

	status, body := c.do(http.MethodPost, "/register", `{"name":" alice ","password":"pw1","email":" a@x.com "}`)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "User registered successfully", body["message"])
	user := body["user"].(map[string]any)
	require.Equal(t, float64(1), user["id"])
	require.Equal(t, "alice", user["name"])
	require.Equal(t, "a@x.com", user["email"])
	require.NotContains(t, user, "password")
}

func TestRegisterEndpointValidation(t *testing.T) {
	c, _ := newTestClient(t)

	status, body := c.do(http.MethodPost, "/register", `{"name":"alice","password":"  ","email":"a@x.com"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Missing username, password, or email", body["error"])

	status, body = c.do(http.MethodPost, "/register", `{"name":"alice","password":"pw1","email":"bad-email"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Invalid email format", body["error"])
}

func TestRegisterEndpointConflict(t *testing.T) {
	c, _ := newTestClient(t)

	status, _ := c.do(http.MethodPost, "/register", `{"name":"alice","password":"pw1","email":"a@x.com"}`)
	require.Equal(t, http.StatusCreated, status)

	status, body := c.do(http.MethodPost, "/register", `{"name":"alice","password":"pw2","email":"b@x.com"}`)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "Username already exists", body["error"])

	status, body = c.do(http.MethodPost, "/register", `{"name":"bob","password":"pw2","email":"a@x.com"}`)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "Email already registered", body["error"])
}

func TestLoginEndpoint(t *testing.T) {
	c, repo := newTestClient(t)

	status, _ := c.do(http.MethodPost, "/register", `{"name":"alice","password":"pw1","email":"a@x.com"}`)
	require.Equal(t, http.StatusCreated, status)

	status, body := c.do(http.MethodPost, "/login", `{"username":"alice"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Missing username/email or password", body["error"])

	status, body = c.do(http.MethodPost, "/login", `{"password":"pw1"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Missing username/email or password", body["error"])

	status, body = c.do(http.MethodPost, "/login", `{"username":"alice","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Incorrect password", body["error"])

	status, body = c.do(http.MethodPost, "/login", `{"username":"ghost","password":"pw1"}`)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "User not found", body["error"])

	status, body = c.do(http.MethodPost, "/login", `{"username":"alice","password":"pw1"}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Login successful", body["message"])
	user := body["user"].(map[string]any)
	require.Equal(t, float64(1), user["id"])
	require.Equal(t, "alice", user["name"])
	require.NotContains(t, user, "email")

	// A durable session record was written alongside the Redis state.
	require.Len(t, repo.sessions, 1)
}

func TestLoginByEmail(t *testing.T) {
	c, _ := newTestClient(t)

	status, _ := c.do(http.MethodPost, "/register", `{"name":"alice","password":"pw1","email":"a@x.com"}`)
	require.Equal(t, http.StatusCreated, status)

	status, _ = c.do(http.MethodPost, "/login", `{"email":"a@x.com","password":"pw1"}`)
	require.Equal(t, http.StatusOK, status)

	status, body := c.do(http.MethodGet, "/me", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "alice", body["name"])
}

func TestLogoutIsIdempotent(t *testing.T) {
	c, _ := newTestClient(t)

	status, body := c.do(http.MethodPost, "/logout", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Logged out successfully", body["message"])

	status, body = c.do(http.MethodPost, "/logout", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Logged out successfully", body["message"])
}

func TestLogoutEndsSession(t *testing.T) {
	c, repo := newTestClient(t)

	status, _ := c.do(http.MethodPost, "/register", `{"name":"alice","password":"pw1","email":"a@x.com"}`)
	require.Equal(t, http.StatusCreated, status)
	status, _ = c.do(http.MethodPost, "/login", `{"username":"alice","password":"pw1"}`)
	require.Equal(t, http.StatusOK, status)

	serverURL, err := url.Parse(c.server.URL)
	require.NoError(t, err)
	require.Len(t, c.client.Jar.Cookies(serverURL), 1)
	sessionID := c.client.Jar.Cookies(serverURL)[0].Value

	status, _ = c.do(http.MethodPost, "/logout", "")
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, repo.sessions)

	// The session survives logout anonymously, exactly like self-delete;
	// only the user binding is gone.
	require.Equal(t, sessionID, c.client.Jar.Cookies(serverURL)[0].Value)

	status, body := c.do(http.MethodGet, "/me", "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Unauthorized", body["error"])
}

func TestUpdateEndpoint(t *testing.T) {
	c, _ := newTestClient(t)

	status, _ := c.do(http.MethodPost, "/register", `{"name":"alice","password":"pw1","email":"a@x.com"}`)
	require.Equal(t, http.StatusCreated, status)

	// Anonymous callers are forbidden before existence is considered.
	status, body := c.do(http.MethodPut, "/user/1", `{"name":"newname"}`)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "Forbidden", body["error"])

	status, _ = c.do(http.MethodPost, "/login", `{"username":"alice","password":"pw1"}`)
	require.Equal(t, http.StatusOK, status)

	// Session identity must match the target exactly.
	status, body = c.do(http.MethodPut, "/user/2", `{"name":"newname"}`)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "Forbidden", body["error"])

	status, body = c.do(http.MethodPut, "/user/1", `{"email":"bad-email"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Invalid email format", body["error"])

	status, body = c.do(http.MethodPut, "/user/1", `{"name":"newname"}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "User updated successfully", body["message"])

	status, body = c.do(http.MethodGet, "/me", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(1), body["id"])
	require.Equal(t, "newname", body["name"])
	require.Equal(t, "a@x.com", body["email"])
}

func TestUpdateConflicts(t *testing.T) {
	c, _ := newTestClient(t)

	status, _ := c.do(http.MethodPost, "/register", `{"name":"alice","password":"pw1","email":"a@x.com"}`)
	require.Equal(t, http.StatusCreated, status)
	status, _ = c.do(http.MethodPost, "/register", `{"name":"bob","password":"pw2","email":"b@x.com"}`)
	require.Equal(t, http.StatusCreated, status)

	status, _ = c.do(http.MethodPost, "/login", `{"username":"alice","password":"pw1"}`)
	require.Equal(t, http.StatusOK, status)

	status, body := c.do(http.MethodPut, "/user/1", `{"name":"bob"}`)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "Username already exists", body["error"])

	status, body = c.do(http.MethodPut, "/user/1", `{"email":"b@x.com"}`)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "Email already registered", body["error"])

	// The record's own values do not conflict with themselves.
	status, _ = c.do(http.MethodPut, "/user/1", `{"name":"alice","email":"a@x.com"}`)
	require.Equal(t, http.StatusOK, status)
}

func TestDeleteEndpointClearsSession(t *testing.T) {
	c, repo := newTestClient(t)

	status, _ := c.do(http.MethodPost, "/register", `{"name":"alice","password":"pw1","email":"a@x.com"}`)
	require.Equal(t, http.StatusCreated, status)
	status, _ = c.do(http.MethodPost, "/login", `{"username":"alice","password":"pw1"}`)
	require.Equal(t, http.StatusOK, status)

	status, body := c.do(http.MethodDelete, "/user/2", "")
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "Forbidden", body["error"])

	status, body = c.do(http.MethodDelete, "/user/1", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "User deleted successfully", body["message"])
	require.Empty(t, repo.users)

	status, body = c.do(http.MethodGet, "/me", "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Unauthorized", body["error"])
}

func TestMeDanglingSession(t *testing.T) {
	c, repo := newTestClient(t)

	status, _ := c.do(http.MethodPost, "/register", `{"name":"alice","password":"pw1","email":"a@x.com"}`)
	require.Equal(t, http.StatusCreated, status)
	status, _ = c.do(http.MethodPost, "/login", `{"username":"alice","password":"pw1"}`)
	require.Equal(t, http.StatusOK, status)

	// The record vanishes out from under the bound session.
	delete(repo.users, 1)

	status, body := c.do(http.MethodGet, "/me", "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "User not found", body["error"])
}

func TestPasswordHashNeverLeaves(t *testing.T) {
	c, _ := newTestClient(t)

	paths := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/register", `{"name":"alice","password":"pw1","email":"a@x.com"}`},
		{http.MethodPost, "/login", `{"username":"alice","password":"pw1"}`},
		{http.MethodPut, "/user/1", `{"name":"alice2"}`},
		{http.MethodGet, "/me", ""},
		{http.MethodDelete, "/user/1", ""},
	}
	for _, p := range paths {
		req, err := http.NewRequest(p.method, c.server.URL+p.path, strings.NewReader(p.body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		res, err := c.client.Do(req)
		require.NoError(t, err)
		raw := new(strings.Builder)
		_, err = io.Copy(raw, res.Body)
		require.NoError(t, err)
		res.Body.Close()
		require.NotContains(t, raw.String(), "pw1")
		require.NotContains(t, raw.String(), "$2a$")
	}
}
