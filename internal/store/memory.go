package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"devos/identity/internal/model"
)

// MemorySubjectStore keeps subjects in a process-local map. All methods
// return defensive copies so callers never alias stored state.
type MemorySubjectStore struct {
	mu      sync.RWMutex
	byID    map[string]*model.Subject
	byEmail map[string]string
}

func NewMemorySubjectStore() *MemorySubjectStore {
	return &MemorySubjectStore{
		byID:    make(map[string]*model.Subject),
		byEmail: make(map[string]string),
	}
}

func (s *MemorySubjectStore) GetByID(_ context.Context, id string) (*model.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id].Clone(), nil
}

func (s *MemorySubjectStore) GetByEmail(_ context.Context, email string) (*model.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	return s.byID[id].Clone(), nil
}

func (s *MemorySubjectStore) Put(_ context.Context, subject *model.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[subject.ID] = subject.Clone()
	s.byEmail[strings.ToLower(subject.Email)] = subject.ID
	return nil
}

// MemorySessionStore keeps sessions in a process-local map.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*model.Session)}
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	clone := *session
	return &clone, nil
}

func (s *MemorySessionStore) Put(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

func (s *MemorySessionStore) ListBySubject(_ context.Context, subjectID string) ([]*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*model.Session, 0)
	for _, session := range s.sessions {
		if session.SubjectID == subjectID {
			clone := *session
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemorySessionStore) DeleteBySubject(_ context.Context, subjectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, session := range s.sessions {
		if session.SubjectID == subjectID {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// MemoryGrantStore keeps permission grants keyed by (subject, permission).
type MemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[string]*model.PermissionGrant
}

func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: make(map[string]*model.PermissionGrant)}
}

func grantKey(subjectID, permission string) string {
	return subjectID + ":" + permission
}

func (s *MemoryGrantStore) Get(_ context.Context, subjectID, permission string) (*model.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grant, ok := s.grants[grantKey(subjectID, permission)]
	if !ok {
		return nil, nil
	}
	clone := *grant
	return &clone, nil
}

func (s *MemoryGrantStore) Put(_ context.Context, grant *model.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *grant
	s.grants[grantKey(grant.SubjectID, grant.Permission)] = &clone
	return nil
}

func (s *MemoryGrantStore) ListBySubject(_ context.Context, subjectID string) ([]*model.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*model.PermissionGrant, 0)
	for _, grant := range s.grants {
		if grant.SubjectID == subjectID {
			clone := *grant
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Permission < result[j].Permission })
	return result, nil
}

var (
	_ SubjectStore = (*MemorySubjectStore)(nil)
	_ SessionStore = (*MemorySessionStore)(nil)
	_ GrantStore   = (*MemoryGrantStore)(nil)
)
