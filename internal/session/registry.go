// Package session tracks live logins. The registry is a presence index, not
// an expiry enforcer: an expired session stays retrievable until it is
// logged out or bulk-invalidated, and callers compare ExpiresAt themselves.
package session

import (
	"context"
	"encoding/json"
	"time"

	"devos/identity/internal/crypto"
	"devos/identity/internal/model"
	"devos/identity/internal/store"
)

type Registry struct {
	sessions store.SessionStore
}

func NewRegistry(sessions store.SessionStore) *Registry {
	return &Registry{sessions: sessions}
}

// NewID returns a fresh session id. Callers that embed the session id in a
// refresh token mint the id first, then pass it to CreateWithID.
func NewID() (string, error) {
	return crypto.NewSessionID()
}

// Create records a session under a freshly generated id. The session expiry
// derives from the pair's access lifetime.
func (r *Registry) Create(ctx context.Context, subjectID string, pair model.TokenPair, device model.DeviceInfo) (*model.Session, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	return r.CreateWithID(ctx, id, subjectID, pair, device)
}

// CreateWithID records a session under a caller-supplied id, for flows where
// the id was minted before the token pair so the refresh token could carry it.
func (r *Registry) CreateWithID(ctx context.Context, id, subjectID string, pair model.TokenPair, device model.DeviceInfo) (*model.Session, error) {
	now := time.Now().UTC()
	session := &model.Session{
		ID:           id,
		SubjectID:    subjectID,
		Device:       device,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(pair.ExpiresIn) * time.Second),
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := r.sessions.Put(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns the session or nil when absent. Expired sessions are still
// returned; absence only follows logout or invalidation.
func (r *Registry) Get(ctx context.Context, id string) (*model.Session, error) {
	return r.sessions.Get(ctx, id)
}

// Touch bumps the session's last-activity timestamp. Returns false when the
// session is not registered.
func (r *Registry) Touch(ctx context.Context, id string) (bool, error) {
	session, err := r.sessions.Get(ctx, id)
	if err != nil || session == nil {
		return false, err
	}
	session.LastActivity = time.Now().UTC()
	if err := r.sessions.Put(ctx, session); err != nil {
		return false, err
	}
	return true, nil
}

// Rebind replaces the session's token pair after a rotation and refreshes
// the derived expiry. Returns nil when the session is not registered.
func (r *Registry) Rebind(ctx context.Context, id string, pair model.TokenPair) (*model.Session, error) {
	session, err := r.sessions.Get(ctx, id)
	if err != nil || session == nil {
		return nil, err
	}
	now := time.Now().UTC()
	session.AccessToken = pair.AccessToken
	session.RefreshToken = pair.RefreshToken
	session.ExpiresAt = now.Add(time.Duration(pair.ExpiresIn) * time.Second)
	session.LastActivity = now
	if err := r.sessions.Put(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Logout deletes the session and reports whether it existed. Session ids are
// never reused, so a second logout on the same id returns false.
func (r *Registry) Logout(ctx context.Context, id string) (bool, error) {
	return r.sessions.Delete(ctx, id)
}

func (r *Registry) ListBySubject(ctx context.Context, subjectID string) ([]*model.Session, error) {
	return r.sessions.ListBySubject(ctx, subjectID)
}

// InvalidateAllForSubject deletes every session for the subject ("log out
// everywhere") and returns the number removed.
func (r *Registry) InvalidateAllForSubject(ctx context.Context, subjectID string) (int, error) {
	return r.sessions.DeleteBySubject(ctx, subjectID)
}

// sessionRecord is the serialized shape. Token values are deliberately
// excluded: a leaked record must not be usable as a bearer credential.
type sessionRecord struct {
	ID           string           `json:"id"`
	SubjectID    string           `json:"userId"`
	Device       model.DeviceInfo `json:"deviceInfo"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	CreatedAt    time.Time        `json:"createdAt"`
	LastActivity time.Time        `json:"lastActivity"`
}

// Serialize encodes the session as a metadata record without token values.
func Serialize(session *model.Session) (string, error) {
	data, err := json.Marshal(sessionRecord{
		ID:           session.ID,
		SubjectID:    session.SubjectID,
		Device:       session.Device,
		ExpiresAt:    session.ExpiresAt,
		CreatedAt:    session.CreatedAt,
		LastActivity: session.LastActivity,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Deserialize decodes a serialized record. The result carries empty token
// fields and must be treated as metadata, never as a live credential.
// Malformed input yields nil.
func Deserialize(data string) *model.Session {
	var record sessionRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil
	}
	return &model.Session{
		ID:           record.ID,
		SubjectID:    record.SubjectID,
		Device:       record.Device,
		ExpiresAt:    record.ExpiresAt,
		CreatedAt:    record.CreatedAt,
		LastActivity: record.LastActivity,
	}
}
