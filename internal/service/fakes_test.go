package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/videotube/internal/apperror"
	"github.com/sakif/videotube/internal/auth"
	"github.com/sakif/videotube/internal/media"
	"github.com/sakif/videotube/internal/model"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory implementation of repository.UserRepository.
// Using a fake (not a mock framework) keeps tests easy to read: you can see
// exactly what the fake does. The mutex makes it safe for the concurrent
// refresh test.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User // keyed by ID
	nextID int

	// set to a non-nil error to simulate a database failure
	findErr      error
	createErr    error
	getPublicErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User), nextID: 1}
}

func (f *fakeUserRepo) CreateUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, u := range f.users {
		if u.Username == user.Username || u.Email == user.Email {
			return apperror.Conflict("user", "user with email or username already exists")
		}
	}
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	f.nextID++
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) GetPublicUserByID(ctx context.Context, id string) (*model.User, error) {
	if f.getPublicErr != nil {
		return nil, f.getPublicErr
	}
	u, err := f.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.Sanitized(), nil
}

func (f *fakeUserRepo) FindUserByEmailOrUsername(_ context.Context, email, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, u := range f.users {
		if (email != "" && u.Email == email) || (username != "" && u.Username == username) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", email+username)
}

func (f *fakeUserRepo) SetRefreshToken(_ context.Context, userID, digest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	u.RefreshToken = digest
	return nil
}

func (f *fakeUserRepo) RotateRefreshToken(_ context.Context, userID, oldDigest, newDigest string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || oldDigest == "" || u.RefreshToken != oldDigest {
		return false, nil
	}
	u.RefreshToken = newDigest
	return true, nil
}

func (f *fakeUserRepo) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

func (f *fakeUserRepo) stored(id string) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *f.users[id]
	return &copied
}

// fakeUploader records uploads in memory. Files whose name starts with
// "fail" are rejected.
type fakeUploader struct {
	mu       sync.Mutex
	uploaded map[string]string // key -> content
	deleted  []string
	n        int
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{uploaded: make(map[string]string)}
}

func (f *fakeUploader) Upload(_ context.Context, file *media.File) (*media.Result, error) {
	if file == nil {
		return nil, media.ErrEmptyFile
	}
	if strings.HasPrefix(file.Name, "fail") {
		return nil, errors.New("upload backend unavailable")
	}
	body, err := io.ReadAll(file.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	key := fmt.Sprintf("obj-%d-%s", f.n, file.Name)
	f.uploaded[key] = string(body)
	return &media.Result{URL: "http://media.test/" + key, Key: key, Size: int64(len(body))}, nil
}

func (f *fakeUploader) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	delete(f.uploaded, key)
	return nil
}

func (f *fakeUploader) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploaded)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestTokenService(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "access-secret-at-least-16-chars",
		AccessTTL:     15 * time.Minute,
		RefreshSecret: "refresh-secret-at-least-16-chars",
		RefreshTTL:    240 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// newTestUserService returns a UserService wired with fake dependencies.
// Cost 4 is the bcrypt minimum and keeps tests fast.
func newTestUserService(t *testing.T, repo *fakeUserRepo, up *fakeUploader) *UserService {
	t.Helper()
	return NewUserService(repo, newTestTokenService(t), auth.NewPasswordServiceWithCost(4), up, testLogger())
}

func imageFile(name, content string) *media.File {
	return &media.File{Name: name, ContentType: "image/png", Size: int64(len(content)), Body: strings.NewReader(content)}
}

func validRegistration() RegisterInput {
	return RegisterInput{
		Username: "Chai",
		Email:    "Chai@Example.com",
		Password: "s3cret-pass",
		FullName: "Chai Aur Code",
		Avatar:   imageFile("avatar.png", "avatar-bytes"),
	}
}

// registerUser registers the default account and fails the test on error.
func registerUser(t *testing.T, svc *UserService) *model.User {
	t.Helper()
	u, err := svc.Register(context.Background(), validRegistration())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return u
}
