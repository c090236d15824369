// Package store defines the persistence interfaces for subjects, sessions and
// permission grants. The in-memory implementation is the default; the
// postgres implementation backs the same interfaces for durable deployments.
// Absence is data: lookups return (nil, nil) rather than an error when the
// record does not exist.
package store

import (
	"context"

	"devos/identity/internal/model"
)

type SubjectStore interface {
	// GetByID returns the subject or nil when absent.
	GetByID(ctx context.Context, id string) (*model.Subject, error)
	// GetByEmail looks up by normalized (lower-cased) email.
	GetByEmail(ctx context.Context, email string) (*model.Subject, error)
	// Put upserts the subject keyed by id.
	Put(ctx context.Context, subject *model.Subject) error
}

type SessionStore interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	Put(ctx context.Context, session *model.Session) error
	// Delete removes the session and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	ListBySubject(ctx context.Context, subjectID string) ([]*model.Session, error)
	// DeleteBySubject removes every session for the subject and returns the
	// number removed.
	DeleteBySubject(ctx context.Context, subjectID string) (int, error)
}

type GrantStore interface {
	// Get returns the grant for the (subject, permission) key or nil.
	Get(ctx context.Context, subjectID, permission string) (*model.PermissionGrant, error)
	// Put upserts the grant keyed by (subject, permission).
	Put(ctx context.Context, grant *model.PermissionGrant) error
	ListBySubject(ctx context.Context, subjectID string) ([]*model.PermissionGrant, error)
}
