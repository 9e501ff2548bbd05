// Package service holds the account and channel business logic.
//
// UserService is the layer between the HTTP handlers and the storage/auth
// utilities:
//
//	UserHandler (HTTP) → UserService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT)  ↘ Uploader (media)
//
// KEY RESPONSIBILITIES:
//   - Registration: validation, uniqueness, media upload, password hashing
//   - Sessions: login, logout, refresh-token rotation
//   - Password change
//
// WHAT THIS LAYER DOES NOT DO:
//   - It does NOT set cookies or read requests (HTTP concerns)
//   - It is NOT tied to Chi or any routing framework
//
// Every error that should reach the client is an *apperror.AppError. Anything
// else is wrapped with context and becomes a 500 in the handler.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/videotube/internal/apperror"
	"github.com/sakif/videotube/internal/auth"
	"github.com/sakif/videotube/internal/media"
	"github.com/sakif/videotube/internal/model"
	"github.com/sakif/videotube/internal/repository"
)

// UserService handles registration and sessions.
//
// DEPENDENCIES (injected via NewUserService):
//   - users      repository.UserRepository → credential store
//   - tokens     *auth.TokenService        → access/refresh JWTs
//   - passwords  *auth.PasswordService     → bcrypt hashing
//   - uploader   media.Uploader            → avatar/cover storage
//   - logger     *slog.Logger              → structured logging
type UserService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	uploader  media.Uploader
	logger    *slog.Logger
}

// NewUserService creates a UserService with all required dependencies.
func NewUserService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	uploader media.Uploader,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		uploader:  uploader,
		logger:    logger,
	}
}

// RegisterInput is the decoded registration form. Avatar is required;
// CoverImage is optional. A nil file means "not sent".
type RegisterInput struct {
	Username   string
	Email      string
	Password   string
	FullName   string
	Avatar     *media.File
	CoverImage *media.File
}

// LoginInput identifies the account by email OR username.
type LoginInput struct {
	Email    string
	Username string
	Password string
}

// AuthResult bundles the logged-in user and the issued tokens so the handler
// can set cookies and respond in one step.
type AuthResult struct {
	User   *model.User
	Tokens *auth.TokenPair
}

// Register creates an account.
//
// Order matters: every check that can fail with a 4xx runs BEFORE any file
// is uploaded or any row is written, so a rejected request leaves nothing
// behind.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	fields := []struct{ name, value string }{
		{"fullname", in.FullName},
		{"email", in.Email},
		{"username", in.Username},
		{"password", in.Password},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return nil, apperror.ValidationFailed(f.name, "All fields are required")
		}
	}

	username := normalize(in.Username)
	email := normalize(in.Email)

	existing, err := s.users.FindUserByEmailOrUsername(ctx, email, username)
	switch {
	case err == nil && existing != nil:
		return nil, apperror.Conflict("user", "user with email or username already exists")
	case err != nil && !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/user: checking existing user: %w", err)
	}

	if in.Avatar == nil {
		return nil, apperror.ValidationFailed("avatar", "Avatar file is required")
	}

	// Hash before uploading: a too-long password is a client error and
	// should not cost an upload.
	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password", err.Error())
		}
		return nil, fmt.Errorf("service/user: hashing password: %w", err)
	}

	avatar, cover, err := s.uploadImages(ctx, in.Avatar, in.CoverImage)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		FullName:     strings.TrimSpace(in.FullName),
		Avatar:       avatar.URL,
		PasswordHash: hash,
	}
	if cover != nil {
		user.CoverImage = cover.URL
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		s.discardUploads(avatar, cover)
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/user: creating user %q: %w", username, err)
	}

	created, err := s.users.GetPublicUserByID(ctx, user.ID)
	if err != nil {
		return nil, apperror.Internal("Something went wrong while registering the user", err)
	}

	s.logger.Info("user registered",
		slog.String("userID", created.ID),
		slog.String("username", created.Username),
	)
	return created.Sanitized(), nil
}

// uploadImages uploads the avatar and, if present, the cover image in
// parallel. An avatar failure fails the registration; a cover failure is
// logged and the cover is left empty.
func (s *UserService) uploadImages(ctx context.Context, avatarFile, coverFile *media.File) (avatar, cover *media.Result, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res, err := s.uploader.Upload(gctx, avatarFile)
		if err != nil {
			return err
		}
		avatar = res
		return nil
	})

	if coverFile != nil {
		g.Go(func() error {
			res, err := s.uploader.Upload(gctx, coverFile)
			if err != nil {
				s.logger.Warn("cover image upload failed",
					slog.String("error", err.Error()),
				)
				return nil
			}
			cover = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.discardUploads(nil, cover)
		return nil, nil, apperror.Internal("Error while uploading avatar", err)
	}
	return avatar, cover, nil
}

// discardUploads removes objects uploaded for a registration that did not
// complete. Failures are only logged.
func (s *UserService) discardUploads(results ...*media.Result) {
	for _, r := range results {
		if r == nil {
			continue
		}
		if err := s.uploader.Delete(context.Background(), r.Key); err != nil {
			s.logger.Warn("discarding orphaned upload failed",
				slog.String("key", r.Key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Login verifies credentials and starts a new session. The refresh token
// replaces whatever session the user had before.
func (s *UserService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	email := normalize(in.Email)
	username := normalize(in.Username)
	if email == "" && username == "" {
		return nil, apperror.ValidationFailed("email", "username or email is required")
	}
	if in.Password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	user, err := s.users.FindUserByEmailOrUsername(ctx, email, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			key := email
			if key == "" {
				key = username
			}
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("service/user: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, in.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthorized("Invalid user credentials")
		}
		return nil, fmt.Errorf("service/user: verifying password for %s: %w", user.ID, err)
	}

	tokens, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return &AuthResult{User: user.Sanitized(), Tokens: tokens}, nil
}

// startSession issues a token pair and stores the refresh token digest.
func (s *UserService) startSession(ctx context.Context, user *model.User) (*auth.TokenPair, error) {
	pair, err := s.tokens.IssuePair(identityOf(user))
	if err != nil {
		return nil, apperror.Internal("Something went wrong while generating refresh and access token", err)
	}
	if err := s.users.SetRefreshToken(ctx, user.ID, auth.HashToken(pair.RefreshToken)); err != nil {
		return nil, fmt.Errorf("service/user: storing refresh token for %s: %w", user.ID, err)
	}
	return pair, nil
}

// Logout revokes the stored refresh token. Access tokens already issued stay
// valid until they expire.
func (s *UserService) Logout(ctx context.Context, userID string) error {
	if err := s.users.SetRefreshToken(ctx, userID, ""); err != nil {
		return fmt.Errorf("service/user: clearing refresh token for %s: %w", userID, err)
	}
	s.logger.Info("user logged out", slog.String("userID", userID))
	return nil
}

// RefreshTokens exchanges a valid refresh token for a new pair.
//
// A refresh token is single-use. The stored digest is swapped with a
// compare-and-swap, so when two requests present the same token at once
// exactly one wins and the other gets 401.
func (s *UserService) RefreshTokens(ctx context.Context, rawToken string) (*auth.TokenPair, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, apperror.Unauthorized("unauthorized request")
	}

	claims, err := s.tokens.Validate(auth.RefreshToken, rawToken)
	if err != nil {
		return nil, apperror.Unauthorized("invalid refresh token")
	}

	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid refresh token")
		}
		return nil, fmt.Errorf("service/user: loading user %s: %w", claims.Subject, err)
	}

	if !auth.TokenMatches(user.RefreshToken, rawToken) {
		return nil, apperror.Unauthorized("refresh token is expired or used")
	}

	pair, err := s.tokens.IssuePair(identityOf(user))
	if err != nil {
		return nil, apperror.Internal("Something went wrong while generating refresh and access token", err)
	}

	swapped, err := s.users.RotateRefreshToken(ctx, user.ID,
		auth.HashToken(rawToken), auth.HashToken(pair.RefreshToken))
	if err != nil {
		return nil, fmt.Errorf("service/user: rotating refresh token for %s: %w", user.ID, err)
	}
	if !swapped {
		return nil, apperror.Unauthorized("refresh token is expired or used")
	}

	s.logger.Info("refresh token rotated", slog.String("userID", user.ID))
	return pair, nil
}

// ChangePassword replaces the password after checking the old one. Existing
// sessions are not revoked.
func (s *UserService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return apperror.ValidationFailed("newPassword", "new password is required")
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return fmt.Errorf("service/user: loading user %s: %w", userID, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, oldPassword); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return apperror.ValidationFailed("oldPassword", "Invalid old password")
		}
		return fmt.Errorf("service/user: verifying password for %s: %w", userID, err)
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return apperror.ValidationFailed("newPassword", err.Error())
		}
		return fmt.Errorf("service/user: hashing password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("service/user: updating password for %s: %w", userID, err)
	}

	s.logger.Info("password changed", slog.String("userID", userID))
	return nil
}

func identityOf(u *model.User) auth.Identity {
	return auth.Identity{
		UserID:   u.ID,
		Email:    u.Email,
		Username: u.Username,
		FullName: u.FullName,
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
