package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/videotube/internal/apperror"
	"github.com/sakif/videotube/internal/auth"
	"github.com/sakif/videotube/internal/media"
	"github.com/sakif/videotube/internal/model"
	"github.com/sakif/videotube/internal/service"
)

// UserService is what UserHandler needs from the account layer.
// Defined here, where it is consumed, so tests can pass a fake.
type UserService interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.User, error)
	Login(ctx context.Context, in service.LoginInput) (*service.AuthResult, error)
	Logout(ctx context.Context, userID string) error
	RefreshTokens(ctx context.Context, rawToken string) (*auth.TokenPair, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
}

// ChannelService is what UserHandler needs for the channel views.
type ChannelService interface {
	GetChannelProfile(ctx context.Context, username, viewerID string) (*model.ChannelProfile, error)
	GetWatchHistory(ctx context.Context, userID string) ([]model.WatchedVideo, error)
}

// CookieOptions describes the session cookies. It is a plain value: every
// response builds fresh *http.Cookie structs from it, so no request can
// mutate settings another request sees.
type CookieOptions struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (o CookieOptions) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (o CookieOptions) setSession(w http.ResponseWriter, pair *auth.TokenPair) {
	http.SetCookie(w, o.cookie(auth.AccessCookieName, pair.AccessToken, o.AccessTTL))
	http.SetCookie(w, o.cookie(auth.RefreshCookieName, pair.RefreshToken, o.RefreshTTL))
}

// clearSession expires both cookies (MaxAge<0 sends Max-Age=0).
func (o CookieOptions) clearSession(w http.ResponseWriter) {
	for _, name := range []string{auth.AccessCookieName, auth.RefreshCookieName} {
		c := o.cookie(name, "", 0)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

// UserHandler serves everything under /api/v1/user.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister        → multipart form in, sanitized user out
//   - HandleLogin           → credentials in, cookies + tokens out
//   - HandleLogout          → revoke session, expire cookies
//   - HandleRefreshToken    → rotate the token pair
//   - HandleChangePassword  → verify old, store new
//   - HandleChannelProfile  → subscriber counts for /c/{username}
//   - HandleWatchHistory    → the caller's history
type UserHandler struct {
	users     UserService
	channels  ChannelService
	cookies   CookieOptions
	maxUpload int64
	logger    *slog.Logger
}

// NewUserHandler creates a UserHandler. maxUpload caps the whole multipart
// body of a registration.
func NewUserHandler(users UserService, channels ChannelService, cookies CookieOptions, maxUpload int64, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:     users,
		channels:  channels,
		cookies:   cookies,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// HandleRegister creates an account.
//
// HTTP: POST /api/v1/user/register (multipart/form-data)
// Fields: username, email, password, fullname; files: avatar (required), coverImage.
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	// MaxBytesReader makes the body read fail once the limit is crossed, so
	// an oversized upload is rejected without being buffered in full.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		h.logger.Debug("rejecting registration body", slog.String("error", err.Error()))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, apperror.ValidationFailed("body", fmt.Sprintf("upload exceeds %d bytes", h.maxUpload)))
			return
		}
		writeError(w, apperror.ValidationFailed("body", "expected a multipart/form-data body"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	avatar, closeAvatar, err := formFile(r, "avatar")
	if err != nil {
		writeError(w, err)
		return
	}
	defer closeAvatar()

	cover, closeCover, err := formFile(r, "coverImage")
	if err != nil {
		writeError(w, err)
		return
	}
	defer closeCover()

	user, err := h.users.Register(r.Context(), service.RegisterInput{
		Username:   r.FormValue("username"),
		Email:      r.FormValue("email"),
		Password:   r.FormValue("password"),
		FullName:   r.FormValue("fullname"),
		Avatar:     avatar,
		CoverImage: cover,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, user, "User registered successfully")
}

// formFile returns the named upload as a media.File, or nil if the field was
// not sent. The returned func closes the underlying file.
func formFile(r *http.Request, field string) (*media.File, func(), error) {
	noop := func() {}

	f, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, noop, nil
	}
	if err != nil {
		return nil, noop, apperror.ValidationFailed(field, "could not read uploaded file")
	}
	if header.Size == 0 {
		f.Close()
		return nil, noop, nil
	}

	return &media.File{
		Name:        header.Filename,
		ContentType: contentType(header),
		Size:        header.Size,
		Body:        f,
	}, func() { f.Close() }, nil
}

func contentType(h *multipart.FileHeader) string {
	if ct := h.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	User         *model.User `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

// HandleLogin authenticates by email or username.
//
// HTTP: POST /api/v1/user/login
// Body: {"email": "...", "password": "..."} or {"username": "...", "password": "..."}
func (h *UserHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.users.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.cookies.setSession(w, res.Tokens)
	writeSuccess(w, http.StatusOK, loginResponse{
		User:         res.User,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
	}, "User logged in successfully")
}

// HandleLogout ends the caller's session.
//
// HTTP: POST /api/v1/user/logout (auth)
func (h *UserHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("unauthorized request"))
		return
	}

	if err := h.users.Logout(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}

	h.cookies.clearSession(w)
	writeSuccess(w, http.StatusOK, struct{}{}, "User logged out")
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// HandleRefreshToken rotates the token pair.
//
// HTTP: POST /api/v1/user/refresh-token
// The refresh token comes from the refreshToken cookie, then the JSON body
// field "refreshToken". A bearer header holds the access token and is not read.
func (h *UserHandler) HandleRefreshToken(w http.ResponseWriter, r *http.Request) {
	raw := auth.TokenFromCookie(r, auth.RefreshCookieName)
	if raw == "" {
		var req refreshRequest
		// An empty or malformed body just means "no token"; the service
		// answers that with 401.
		_ = json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req)
		raw = req.RefreshToken
	}

	pair, err := h.users.RefreshTokens(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}

	h.cookies.setSession(w, pair)
	writeSuccess(w, http.StatusOK, pair, "Access token refreshed")
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// HandleChangePassword replaces the caller's password.
//
// HTTP: POST /api/v1/user/change-password (auth)
func (h *UserHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("unauthorized request"))
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.users.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, struct{}{}, "Password changed successfully")
}

// HandleChannelProfile returns a channel's public profile.
//
// HTTP: GET /api/v1/user/c/{username} (auth)
func (h *UserHandler) HandleChannelProfile(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := auth.UserIDFromContext(r.Context())

	profile, err := h.channels.GetChannelProfile(r.Context(), chi.URLParam(r, "username"), viewerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, profile, "User channel fetched successfully")
}

// HandleWatchHistory returns the caller's watch history.
//
// HTTP: GET /api/v1/user/history (auth)
func (h *UserHandler) HandleWatchHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("unauthorized request"))
		return
	}

	history, err := h.channels.GetWatchHistory(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, history, "Watch history fetched successfully")
}

// maxJSONBody caps JSON request bodies; anything longer fails to decode.
const maxJSONBody = 16 << 10

// decodeJSON reads a small JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("body", "request body is required")
		}
		return apperror.ValidationFailed("body", "invalid JSON body")
	}
	return nil
}
