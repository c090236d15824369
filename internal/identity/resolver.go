// Package identity reconciles external OAuth profiles with local subjects.
// Normalized email is the sole identity key: a profile from a second
// provider with a known email links onto the existing subject, while a
// changed email on the provider side silently forks a new subject.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"devos/identity/internal/model"
	"devos/identity/internal/store"
)

// Profile is the identity a provider vouches for after the authorization
// code exchange.
type Profile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Avatar      string `json:"avatar,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

var ErrMissingEmail = errors.New("identity: profile has no email")

type Resolver struct {
	// mu serializes Resolve so find-or-create by email is atomic under
	// concurrent logins. The store's unique email index is the durable
	// backstop for multi-process deployments.
	mu       sync.Mutex
	subjects store.SubjectStore
}

func NewResolver(subjects store.SubjectStore) *Resolver {
	return &Resolver{subjects: subjects}
}

// Resolve maps the profile onto exactly one subject, creating it on first
// login and backfilling the provider id on later logins from new providers.
func (r *Resolver) Resolve(ctx context.Context, profile Profile) (*model.Subject, error) {
	email := strings.ToLower(strings.TrimSpace(profile.Email))
	if email == "" {
		return nil, ErrMissingEmail
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subject, err := r.subjects.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if subject == nil {
		subject = &model.Subject{
			ID:          uuid.NewString(),
			Email:       email,
			Name:        profile.Name,
			Avatar:      profile.Avatar,
			ProviderIDs: map[string]string{},
			Preferences: model.DefaultPreferences(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if profile.Provider != "" {
			subject.ProviderIDs[profile.Provider] = profile.ID
		}
		if err := r.subjects.Put(ctx, subject); err != nil {
			return nil, err
		}
		return subject, nil
	}

	if profile.Provider != "" {
		if _, linked := subject.ProviderIDs[profile.Provider]; !linked {
			subject.ProviderIDs[profile.Provider] = profile.ID
		}
	}
	if profile.Avatar != "" && subject.Avatar != profile.Avatar {
		subject.Avatar = profile.Avatar
	}
	subject.UpdatedAt = now
	if err := r.subjects.Put(ctx, subject); err != nil {
		return nil, err
	}
	return subject, nil
}

// Lookup returns the subject by id, or nil when absent.
func (r *Resolver) Lookup(ctx context.Context, subjectID string) (*model.Subject, error) {
	return r.subjects.GetByID(ctx, subjectID)
}

// PreferencesUpdate is a partial preference change; nil fields are untouched.
type PreferencesUpdate struct {
	Language      *string `json:"language,omitempty"`
	Theme         *string `json:"theme,omitempty"`
	Notifications *bool   `json:"notifications,omitempty"`
	WakeWord      *string `json:"wakeWord,omitempty"`
}

// UpdatePreferences merges the supplied fields into the subject's preference
// bag. Returns nil when the subject does not exist.
func (r *Resolver) UpdatePreferences(ctx context.Context, subjectID string, update PreferencesUpdate) (*model.Subject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subject, err := r.subjects.GetByID(ctx, subjectID)
	if err != nil || subject == nil {
		return nil, err
	}

	if update.Language != nil {
		subject.Preferences.Language = *update.Language
	}
	if update.Theme != nil {
		subject.Preferences.Theme = *update.Theme
	}
	if update.Notifications != nil {
		subject.Preferences.Notifications = *update.Notifications
	}
	if update.WakeWord != nil {
		subject.Preferences.WakeWord = *update.WakeWord
	}
	subject.UpdatedAt = time.Now().UTC()

	if err := r.subjects.Put(ctx, subject); err != nil {
		return nil, err
	}
	return subject, nil
}
