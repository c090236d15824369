// Package permission is the authorization source of truth. Grants live
// outside token claims so a revocation takes effect mid-session without a
// new token issuance.
package permission

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"devos/identity/internal/model"
	"devos/identity/internal/store"
)

const (
	EventGranted = "permission_granted"
	EventRevoked = "permission_revoked"
)

// Event describes one grant or revoke for a subject.
type Event struct {
	Type       string    `json:"type"`
	SubjectID  string    `json:"userId"`
	Permission string    `json:"permission"`
	Timestamp  time.Time `json:"timestamp"`
}

// Subscriber receives permission change events for one subject. Handlers run
// synchronously inside Grant/Revoke; a panicking handler is recovered and
// logged without affecting the state change or the other subscribers.
type Subscriber interface {
	HandlePermissionChange(event Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(event Event)

func (f SubscriberFunc) HandlePermissionChange(event Event) { f(event) }

type Ledger struct {
	grants store.GrantStore

	mu          sync.Mutex
	subscribers map[string][]Subscriber
}

func NewLedger(grants store.GrantStore) *Ledger {
	return &Ledger{
		grants:      grants,
		subscribers: make(map[string][]Subscriber),
	}
}

// Grant upserts the (subject, permission) record with granted=true and
// notifies the subject's subscribers.
func (l *Ledger) Grant(ctx context.Context, subjectID, permission string) (*model.PermissionGrant, error) {
	grant := &model.PermissionGrant{
		SubjectID:  subjectID,
		Permission: permission,
		Granted:    true,
		GrantedAt:  time.Now().UTC(),
	}
	if err := l.grants.Put(ctx, grant); err != nil {
		return nil, err
	}
	l.notify(subjectID, Event{
		Type:       EventGranted,
		SubjectID:  subjectID,
		Permission: permission,
		Timestamp:  grant.GrantedAt,
	})
	return grant, nil
}

// Revoke marks the record revoked and notifies subscribers. Returns false
// when no record exists for the key.
func (l *Ledger) Revoke(ctx context.Context, subjectID, permission string) (bool, error) {
	l.mu.Lock()
	grant, err := l.grants.Get(ctx, subjectID, permission)
	if err != nil || grant == nil {
		l.mu.Unlock()
		return false, err
	}
	now := time.Now().UTC()
	grant.Granted = false
	grant.RevokedAt = &now
	if err := l.grants.Put(ctx, grant); err != nil {
		l.mu.Unlock()
		return false, err
	}
	l.mu.Unlock()

	l.notify(subjectID, Event{
		Type:       EventRevoked,
		SubjectID:  subjectID,
		Permission: permission,
		Timestamp:  now,
	})
	return true, nil
}

// Has reports whether the subject currently holds the permission. Absent
// records and revoked records both report false.
func (l *Ledger) Has(ctx context.Context, subjectID, permission string) (bool, error) {
	grant, err := l.grants.Get(ctx, subjectID, permission)
	if err != nil || grant == nil {
		return false, err
	}
	return grant.Granted, nil
}

// ListGranted returns the names of the subject's currently granted permissions.
func (l *Ledger) ListGranted(ctx context.Context, subjectID string) ([]string, error) {
	grants, err := l.grants.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(grants))
	for _, grant := range grants {
		if grant.Granted {
			names = append(names, grant.Permission)
		}
	}
	return names, nil
}

// ListAll returns every grant record for the subject, revoked ones included.
func (l *Ledger) ListAll(ctx context.Context, subjectID string) ([]*model.PermissionGrant, error) {
	return l.grants.ListBySubject(ctx, subjectID)
}

// Subscribe registers a handler for the subject's permission changes.
func (l *Ledger) Subscribe(subjectID string, subscriber Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers[subjectID] = append(l.subscribers[subjectID], subscriber)
}

func (l *Ledger) notify(subjectID string, event Event) {
	l.mu.Lock()
	subscribers := make([]Subscriber, len(l.subscribers[subjectID]))
	copy(subscribers, l.subscribers[subjectID])
	l.mu.Unlock()

	for _, subscriber := range subscribers {
		deliver(subscriber, event)
	}
}

func deliver(subscriber Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("permission subscriber panic on %s %q: %v", event.Type, event.Permission, r)
		}
	}()
	subscriber.HandlePermissionChange(event)
}

// Serialize encodes the subject's full grant set as JSON.
func (l *Ledger) Serialize(ctx context.Context, subjectID string) (string, error) {
	grants, err := l.grants.ListBySubject(ctx, subjectID)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(grants)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Deserialize decodes a serialized grant set. Malformed input yields an
// empty list, never an error.
func Deserialize(data string) []model.PermissionGrant {
	var grants []model.PermissionGrant
	if err := json.Unmarshal([]byte(data), &grants); err != nil {
		return []model.PermissionGrant{}
	}
	if grants == nil {
		grants = []model.PermissionGrant{}
	}
	return grants
}
