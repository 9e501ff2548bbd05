// Package seed loads YAML fixtures into the database.
//
// The HTTP API has no endpoints that create videos, subscriptions or history
// entries, so local development and demos populate them from a fixture file:
//
//	users:
//	  - username: chai
//	    email: chai@example.com
//	    fullname: Chai Latte
//	    password: s3cret-pass
//	    avatar: http://localhost:8000/static/chai.png
//	videos:
//	  - ref: intro
//	    title: Intro
//	    owner: chai
//	    video_file: http://localhost:8000/static/intro.mp4
//	    thumbnail: http://localhost:8000/static/intro.jpg
//	    published: true
//	subscriptions:
//	  - subscriber: milo
//	    channel: chai
//	history:
//	  - user: milo
//	    videos: [intro]
//
// Users and videos are referenced by username and ref respectively. Users
// that already exist are reused, so re-running a file only adds what is new
// for users; videos and history entries are appended every time.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sakif/videotube/internal/apperror"
	"github.com/sakif/videotube/internal/model"
)

type Fixtures struct {
	Users         []UserFixture         `yaml:"users"`
	Videos        []VideoFixture        `yaml:"videos"`
	Subscriptions []SubscriptionFixture `yaml:"subscriptions"`
	History       []HistoryFixture      `yaml:"history"`
}

type UserFixture struct {
	Username   string `yaml:"username"`
	Email      string `yaml:"email"`
	FullName   string `yaml:"fullname"`
	Password   string `yaml:"password"`
	Avatar     string `yaml:"avatar"`
	CoverImage string `yaml:"cover_image"`
}

type VideoFixture struct {
	Ref         string  `yaml:"ref"`
	Title       string  `yaml:"title"`
	Description string  `yaml:"description"`
	Owner       string  `yaml:"owner"` // username; empty for an orphaned video
	VideoFile   string  `yaml:"video_file"`
	Thumbnail   string  `yaml:"thumbnail"`
	Duration    float64 `yaml:"duration"`
	Views       int64   `yaml:"views"`
	Published   bool    `yaml:"published"`
}

type SubscriptionFixture struct {
	Subscriber string `yaml:"subscriber"`
	Channel    string `yaml:"channel"`
}

type HistoryFixture struct {
	User   string   `yaml:"user"`
	Videos []string `yaml:"videos"` // refs, oldest first
}

// Store is the subset of the SQLite repository the seeder writes through.
type Store interface {
	CreateUser(ctx context.Context, user *model.User) error
	FindUserByEmailOrUsername(ctx context.Context, email, username string) (*model.User, error)
	CreateVideo(ctx context.Context, video *model.Video) error
	Subscribe(ctx context.Context, subscriberID, channelID string) error
	AddToWatchHistory(ctx context.Context, userID, videoID string) error
}

// Hasher turns a plaintext password into a stored hash.
type Hasher interface {
	Hash(plaintext string) (string, error)
}

// Summary counts what Apply wrote.
type Summary struct {
	UsersCreated  int
	UsersReused   int
	Videos        int
	Subscriptions int
	HistoryItems  int
}

// Load reads and validates a fixture file.
func Load(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes fixtures and checks their internal references.
func Parse(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seed: parsing fixtures: %w", err)
	}
	f.normalize()
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// normalize lower-cases usernames and emails the same way registration does.
func (f *Fixtures) normalize() {
	lower := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	for i := range f.Users {
		f.Users[i].Username = lower(f.Users[i].Username)
		f.Users[i].Email = lower(f.Users[i].Email)
	}
	for i := range f.Videos {
		f.Videos[i].Owner = lower(f.Videos[i].Owner)
	}
	for i := range f.Subscriptions {
		f.Subscriptions[i].Subscriber = lower(f.Subscriptions[i].Subscriber)
		f.Subscriptions[i].Channel = lower(f.Subscriptions[i].Channel)
	}
	for i := range f.History {
		f.History[i].User = lower(f.History[i].User)
	}
}

func (f *Fixtures) validate() error {
	var errs []error

	users := make(map[string]bool, len(f.Users))
	for i, u := range f.Users {
		if u.Username == "" || u.Email == "" || u.FullName == "" || u.Password == "" || u.Avatar == "" {
			errs = append(errs, fmt.Errorf("users[%d]: username, email, fullname, password and avatar are required", i))
		}
		if users[u.Username] {
			errs = append(errs, fmt.Errorf("users[%d]: duplicate username %q", i, u.Username))
		}
		users[u.Username] = true
	}

	videos := make(map[string]bool, len(f.Videos))
	for i, v := range f.Videos {
		if v.Ref == "" || v.Title == "" {
			errs = append(errs, fmt.Errorf("videos[%d]: ref and title are required", i))
		}
		if videos[v.Ref] {
			errs = append(errs, fmt.Errorf("videos[%d]: duplicate ref %q", i, v.Ref))
		}
		videos[v.Ref] = true
		if v.Owner != "" && !users[v.Owner] {
			errs = append(errs, fmt.Errorf("videos[%d]: unknown owner %q", i, v.Owner))
		}
	}

	for i, s := range f.Subscriptions {
		if !users[s.Subscriber] || !users[s.Channel] {
			errs = append(errs, fmt.Errorf("subscriptions[%d]: unknown user in %s -> %s", i, s.Subscriber, s.Channel))
		}
	}

	for i, h := range f.History {
		if !users[h.User] {
			errs = append(errs, fmt.Errorf("history[%d]: unknown user %q", i, h.User))
		}
		for _, ref := range h.Videos {
			if !videos[ref] {
				errs = append(errs, fmt.Errorf("history[%d]: unknown video %q", i, ref))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("seed: %w", errors.Join(errs...))
	}
	return nil
}

// Apply writes fixtures in dependency order: users, videos, subscriptions,
// history. It stops at the first error.
func Apply(ctx context.Context, store Store, hasher Hasher, f *Fixtures) (*Summary, error) {
	sum := &Summary{}
	userIDs := make(map[string]string, len(f.Users))
	videoIDs := make(map[string]string, len(f.Videos))

	for _, u := range f.Users {
		id, created, err := ensureUser(ctx, store, hasher, u)
		if err != nil {
			return sum, err
		}
		userIDs[u.Username] = id
		if created {
			sum.UsersCreated++
		} else {
			sum.UsersReused++
		}
	}

	for _, v := range f.Videos {
		video := &model.Video{
			Title:       v.Title,
			Description: v.Description,
			VideoFile:   v.VideoFile,
			Thumbnail:   v.Thumbnail,
			Duration:    v.Duration,
			Views:       v.Views,
			IsPublished: v.Published,
			OwnerID:     userIDs[v.Owner],
		}
		if err := store.CreateVideo(ctx, video); err != nil {
			return sum, fmt.Errorf("seed: video %q: %w", v.Ref, err)
		}
		videoIDs[v.Ref] = video.ID
		sum.Videos++
	}

	for _, s := range f.Subscriptions {
		if err := store.Subscribe(ctx, userIDs[s.Subscriber], userIDs[s.Channel]); err != nil {
			return sum, fmt.Errorf("seed: subscription %s -> %s: %w", s.Subscriber, s.Channel, err)
		}
		sum.Subscriptions++
	}

	for _, h := range f.History {
		for _, ref := range h.Videos {
			if err := store.AddToWatchHistory(ctx, userIDs[h.User], videoIDs[ref]); err != nil {
				return sum, fmt.Errorf("seed: history of %s: %w", h.User, err)
			}
			sum.HistoryItems++
		}
	}

	return sum, nil
}

func ensureUser(ctx context.Context, store Store, hasher Hasher, u UserFixture) (string, bool, error) {
	existing, err := store.FindUserByEmailOrUsername(ctx, u.Email, u.Username)
	switch {
	case err == nil:
		if existing.Username != u.Username {
			return "", false, fmt.Errorf("seed: email %s already belongs to %s", u.Email, existing.Username)
		}
		return existing.ID, false, nil
	case !errors.Is(err, apperror.ErrNotFound):
		return "", false, fmt.Errorf("seed: looking up %s: %w", u.Username, err)
	}

	hash, err := hasher.Hash(u.Password)
	if err != nil {
		return "", false, fmt.Errorf("seed: hashing password of %s: %w", u.Username, err)
	}

	user := &model.User{
		Username:     u.Username,
		Email:        u.Email,
		FullName:     u.FullName,
		Avatar:       u.Avatar,
		CoverImage:   u.CoverImage,
		PasswordHash: hash,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return "", false, fmt.Errorf("seed: user %s: %w", u.Username, err)
	}
	return user.ID, true, nil
}
