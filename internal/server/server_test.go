package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/videotube/internal/apperror"
	"github.com/sakif/videotube/internal/config"
	"github.com/sakif/videotube/internal/model"
)

// These tests drive the real router end to end: chi, middleware, handlers,
// services, an in-memory SQLite database and a local media store in a temp dir.

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Defaults()
	cfg.DBPath = ":memory:"
	cfg.CookieSecure = false
	cfg.Auth.AccessSecret = "access-secret-at-least-16-chars"
	cfg.Auth.RefreshSecret = "refresh-secret-at-least-16-chars"
	cfg.Auth.AccessTTL = 15 * time.Minute
	cfg.Auth.RefreshTTL = 24 * time.Hour
	cfg.Media.Dir = t.TempDir()
	cfg.Media.BaseURL = "http://localhost:8000/static"
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := New(&cfg, logger, WithPasswordCost(4))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Error      string          `json:"error"`
	Field      string          `json:"field"`
	Success    bool            `json:"success"`
}

type call struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	bearer      string
	cookies     []*http.Cookie
}

func (s *Server) do(t *testing.T, c call) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, c.body)
	if c.contentType != "" {
		req.Header.Set("Content-Type", c.contentType)
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var env envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	}
	return rr, env
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func registerForm(t *testing.T, username, email string, withAvatar bool) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"username": username,
		"email":    email,
		"password": "s3cret-pass",
		"fullname": "Full " + username,
	} {
		require.NoError(t, mw.WriteField(k, v))
	}
	if withAvatar {
		fw, err := mw.CreateFormFile("avatar", "me.png")
		require.NoError(t, err)
		_, _ = fw.Write([]byte("avatar-bytes-" + username))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *Server) register(t *testing.T, username, email string) *model.User {
	t.Helper()
	body, ct := registerForm(t, username, email, true)
	rr, env := s.do(t, call{method: http.MethodPost, path: "/api/v1/user/register", body: body, contentType: ct})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var u model.User
	require.NoError(t, json.Unmarshal(env.Data, &u))
	return &u
}

type tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) login(t *testing.T, email string) tokens {
	t.Helper()
	rr, env := s.do(t, call{
		method: http.MethodPost, path: "/api/v1/user/login",
		body: jsonBody(t, map[string]string{"email": email, "password": "s3cret-pass"}),
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var tk tokens
	require.NoError(t, json.Unmarshal(env.Data, &tk))
	require.NotEmpty(t, tk.AccessToken)
	require.NotEmpty(t, tk.RefreshToken)
	return tk
}

func (s *Server) refresh(t *testing.T, refreshToken string) (*httptest.ResponseRecorder, tokens) {
	t.Helper()
	rr, env := s.do(t, call{
		method: http.MethodPost, path: "/api/v1/user/refresh-token",
		cookies: []*http.Cookie{{Name: "refreshToken", Value: refreshToken}},
	})
	var tk tokens
	if rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(env.Data, &tk))
	}
	return rr, tk
}

// =========================================================================
// REGISTRATION
// =========================================================================

func TestRegister_SanitizedAndAvatarServed(t *testing.T) {
	s := newTestServer(t)

	body, ct := registerForm(t, "Chai", "Chai@Example.com", true)
	rr, env := s.do(t, call{method: http.MethodPost, path: "/api/v1/user/register", body: body, contentType: ct})

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.True(t, env.Success)
	assert.Equal(t, 201, env.StatusCode)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &raw))
	assert.Equal(t, "chai", raw["username"])
	assert.Equal(t, "chai@example.com", raw["email"])
	assert.Equal(t, "", raw["coverImage"])
	for _, secret := range []string{"password", "passwordHash", "PasswordHash", "refreshToken", "RefreshToken"} {
		assert.NotContains(t, raw, secret)
	}

	// The avatar URL resolves through the static file server.
	avatarURL, err := url.Parse(raw["avatar"].(string))
	require.NoError(t, err)
	assert.Equal(t, "/static", path.Dir(avatarURL.Path))
	req := httptest.NewRequest(http.MethodGet, avatarURL.Path, nil)
	media := httptest.NewRecorder()
	s.Handler().ServeHTTP(media, req)
	assert.Equal(t, http.StatusOK, media.Code)
	assert.Equal(t, "avatar-bytes-Chai", media.Body.String())
}

func TestRegister_DuplicatesConflict(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "chai", "chai@example.com")

	cases := []struct {
		name     string
		username string
		email    string
	}{
		{"duplicate email", "someone", "chai@example.com"},
		{"username differs only in case", "CHAI", "new@example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := registerForm(t, tc.username, tc.email, true)
			rr, env := s.do(t, call{method: http.MethodPost, path: "/api/v1/user/register", body: body, contentType: ct})

			assert.Equal(t, http.StatusConflict, rr.Code)
			assert.Equal(t, "conflict", env.Error)
			assert.False(t, env.Success)
		})
	}
}

func TestRegister_WithoutAvatarWritesNothing(t *testing.T) {
	s := newTestServer(t)

	body, ct := registerForm(t, "chai", "chai@example.com", false)
	rr, env := s.do(t, call{method: http.MethodPost, path: "/api/v1/user/register", body: body, contentType: ct})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "avatar", env.Field)

	_, err := s.DB().FindUserByEmailOrUsername(context.Background(), "chai@example.com", "chai")
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "no user row may exist, got %v", err)

	entries, err := os.ReadDir(s.config.Media.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no file may be stored")
}

// =========================================================================
// LOGIN / REFRESH / LOGOUT
// =========================================================================

func TestLogin_Failures(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "chai", "chai@example.com")

	rr, _ := s.do(t, call{method: http.MethodPost, path: "/api/v1/user/login",
		body: jsonBody(t, map[string]string{"email": "chai@example.com", "password": "wrong"})})
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "wrong password")

	rr, _ = s.do(t, call{method: http.MethodPost, path: "/api/v1/user/login",
		body: jsonBody(t, map[string]string{"email": "nobody@example.com", "password": "s3cret-pass"})})
	assert.Equal(t, http.StatusNotFound, rr.Code, "unknown email")
}

func TestLogin_ByUsernameSetsCookies(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "chai", "chai@example.com")

	rr, env := s.do(t, call{method: http.MethodPost, path: "/api/v1/user/login",
		body: jsonBody(t, map[string]string{"username": "chai", "password": "s3cret-pass"})})
	require.Equal(t, http.StatusOK, rr.Code)

	names := map[string]*http.Cookie{}
	for _, c := range rr.Result().Cookies() {
		names[c.Name] = c
	}
	require.Contains(t, names, "accessToken")
	require.Contains(t, names, "refreshToken")
	assert.True(t, names["accessToken"].HttpOnly)
	assert.Equal(t, 15*60, names["accessToken"].MaxAge)

	var data struct {
		User map[string]any `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "chai", data.User["username"])
	assert.NotContains(t, data.User, "refreshToken")
}

func TestRefresh_RotatesAndRejectsReplay(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "chai", "chai@example.com")
	first := s.login(t, "chai@example.com")

	rr, second := s.refresh(t, first.RefreshToken)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	rr, _ = s.refresh(t, first.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "replayed refresh token must be rejected")

	rr, _ = s.refresh(t, second.RefreshToken)
	assert.Equal(t, http.StatusOK, rr.Code, "rotated token must work")
}

func TestRefresh_FromBody(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "chai", "chai@example.com")
	tk := s.login(t, "chai@example.com")

	rr, _ := s.do(t, call{method: http.MethodPost, path: "/api/v1/user/refresh-token",
		body: jsonBody(t, map[string]string{"refreshToken": tk.RefreshToken})})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = s.do(t, call{method: http.MethodPost, path: "/api/v1/user/refresh-token"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "no token at all")
}

func TestRefresh_BodyTokenWithBearerAccessToken(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "chai", "chai@example.com")
	tk := s.login(t, "chai@example.com")

	rr, env := s.do(t, call{method: http.MethodPost, path: "/api/v1/user/refresh-token",
		bearer: tk.AccessToken,
		body:   jsonBody(t, map[string]string{"refreshToken": tk.RefreshToken})})
	require.Equal(t, http.StatusOK, rr.Code, env.Message)

	var next tokens
	require.NoError(t, json.Unmarshal(env.Data, &next))
	assert.NotEqual(t, tk.RefreshToken, next.RefreshToken)

	rr, _ = s.do(t, call{method: http.MethodPost, path: "/api/v1/user/refresh-token", bearer: next.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "an access token is never accepted as a refresh token")
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "chai", "chai@example.com")
	tk := s.login(t, "chai@example.com")

	rr, env := s.do(t, call{method: http.MethodPost, path: "/api/v1/user/logout", bearer: tk.AccessToken})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{}`, string(env.Data))

	rr, _ = s.refresh(t, tk.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "chai", "chai@example.com")
	tk := s.login(t, "chai@example.com")

	rr, env := s.do(t, call{method: http.MethodPost, path: "/api/v1/user/change-password", bearer: tk.AccessToken,
		body: jsonBody(t, map[string]string{"oldPassword": "wrong", "newPassword": "n3w"})})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "oldPassword", env.Field)

	rr, _ = s.do(t, call{method: http.MethodPost, path: "/api/v1/user/change-password", bearer: tk.AccessToken,
		body: jsonBody(t, map[string]string{"oldPassword": "s3cret-pass", "newPassword": "n3w-pass"})})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = s.do(t, call{method: http.MethodPost, path: "/api/v1/user/login",
		body: jsonBody(t, map[string]string{"email": "chai@example.com", "password": "n3w-pass"})})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = s.refresh(t, tk.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "the second login replaced the first session")
}

// =========================================================================
// AUTHENTICATED READS
// =========================================================================

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	for _, c := range []call{
		{method: http.MethodGet, path: "/api/v1/user/history"},
		{method: http.MethodGet, path: "/api/v1/user/c/chai"},
		{method: http.MethodPost, path: "/api/v1/user/logout"},
		{method: http.MethodPost, path: "/api/v1/user/change-password"},
		{method: http.MethodGet, path: "/api/v1/user/history", bearer: "not-a-jwt"},
	} {
		rr, env := s.do(t, c)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, c.path)
		assert.False(t, env.Success, c.path)
	}
}

func TestChannelProfile_Counts(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	channel := s.register(t, "channel", "channel@example.com")
	alice := s.register(t, "alice", "alice@example.com")
	bob := s.register(t, "bob", "bob@example.com")
	require.NoError(t, s.DB().Subscribe(ctx, alice.ID, channel.ID))
	require.NoError(t, s.DB().Subscribe(ctx, bob.ID, channel.ID))
	require.NoError(t, s.DB().Subscribe(ctx, channel.ID, bob.ID))

	get := func(viewerEmail, username string) (*httptest.ResponseRecorder, model.ChannelProfile) {
		tk := s.login(t, viewerEmail)
		rr, env := s.do(t, call{method: http.MethodGet, path: "/api/v1/user/c/" + username, bearer: tk.AccessToken})
		var p model.ChannelProfile
		if rr.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(env.Data, &p))
		}
		return rr, p
	}

	rr, p := get("alice@example.com", "channel")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(2), p.SubscribersCount)
	assert.Equal(t, int64(1), p.ChannelsSubscribedToCount)
	assert.True(t, p.IsSubscribed)
	assert.Equal(t, "channel@example.com", p.Email)

	_, p = get("channel@example.com", "alice")
	assert.False(t, p.IsSubscribed)
	assert.Equal(t, int64(0), p.SubscribersCount)
	assert.Equal(t, int64(1), p.ChannelsSubscribedToCount)

	rr, _ = get("alice@example.com", "CHANNEL")
	assert.Equal(t, http.StatusOK, rr.Code, "usernames are matched case-insensitively")

	rr, _ = get("alice@example.com", "ghost")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWatchHistory(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	viewer := s.register(t, "viewer", "viewer@example.com")
	creator := s.register(t, "creator", "creator@example.com")

	v1 := &model.Video{Title: "one", VideoFile: "v1.mp4", Thumbnail: "t1.jpg", OwnerID: creator.ID, IsPublished: true}
	v2 := &model.Video{Title: "two", VideoFile: "v2.mp4", Thumbnail: "t2.jpg", OwnerID: creator.ID, IsPublished: true}
	require.NoError(t, s.DB().CreateVideo(ctx, v1))
	require.NoError(t, s.DB().CreateVideo(ctx, v2))
	require.NoError(t, s.DB().AddToWatchHistory(ctx, viewer.ID, v2.ID))
	require.NoError(t, s.DB().AddToWatchHistory(ctx, viewer.ID, v1.ID))
	require.NoError(t, s.DB().AddToWatchHistory(ctx, viewer.ID, "deleted-video"))

	tk := s.login(t, "viewer@example.com")
	rr, env := s.do(t, call{method: http.MethodGet, path: "/api/v1/user/history", bearer: tk.AccessToken})
	require.Equal(t, http.StatusOK, rr.Code)

	var history []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 2, "dangling entries are skipped")
	assert.Equal(t, "two", history[0]["title"])
	assert.Equal(t, "one", history[1]["title"])

	owner, ok := history[0]["owner"].(map[string]any)
	require.True(t, ok, "owner must be a single object")
	assert.Equal(t, "creator", owner["username"])
	assert.Equal(t, creator.ID, owner["id"])
	assert.NotContains(t, owner, "email")
}

// =========================================================================
// AMBIENT ROUTES
// =========================================================================

func TestAmbientRoutes(t *testing.T) {
	s := newTestServer(t)

	rr, _ := s.do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, env := s.do(t, call{method: http.MethodGet, path: "/test/error"})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.False(t, env.Success)

	rr, env = s.do(t, call{method: http.MethodGet, path: "/api/v1/nope"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", env.Error)

	rr, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/user/login"})
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/user/login", nil)
	req.Header.Set("Origin", "http://localhost:4000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:4000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/user/login", nil)
	req.Header.Set("Origin", "http://evil.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestMountPath(t *testing.T) {
	assert.Equal(t, "/static", mountPath("http://localhost:8000/static"))
	assert.Equal(t, "/media/files", mountPath("https://cdn.test/media/files/"))
	assert.Equal(t, "/static", mountPath("https://cdn.test"))
}
