package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"devos/identity/internal/model"
)

// PostgresSubjectStore persists subjects. The schema carries a unique index
// on lower(email), which is the durable backstop for the resolver's
// one-subject-per-email invariant.
type PostgresSubjectStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSubjectStore(pool *pgxpool.Pool) *PostgresSubjectStore {
	return &PostgresSubjectStore{pool: pool}
}

func (s *PostgresSubjectStore) GetByID(ctx context.Context, id string) (*model.Subject, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, name, avatar, provider_ids, preferences, created_at, updated_at
		FROM subjects
		WHERE id = $1
	`, id)
	return scanSubject(row)
}

func (s *PostgresSubjectStore) GetByEmail(ctx context.Context, email string) (*model.Subject, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, name, avatar, provider_ids, preferences, created_at, updated_at
		FROM subjects
		WHERE lower(email) = lower($1)
	`, email)
	return scanSubject(row)
}

func (s *PostgresSubjectStore) Put(ctx context.Context, subject *model.Subject) error {
	providerIDs, err := json.Marshal(subject.ProviderIDs)
	if err != nil {
		return err
	}
	preferences, err := json.Marshal(subject.Preferences)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO subjects (id, email, name, avatar, provider_ids, preferences, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    name = EXCLUDED.name,
		    avatar = EXCLUDED.avatar,
		    provider_ids = EXCLUDED.provider_ids,
		    preferences = EXCLUDED.preferences,
		    updated_at = EXCLUDED.updated_at
	`, subject.ID, subject.Email, subject.Name, subject.Avatar, providerIDs, preferences, subject.CreatedAt, subject.UpdatedAt)
	return err
}

func scanSubject(row pgx.Row) (*model.Subject, error) {
	var subject model.Subject
	var providerIDs, preferences []byte
	err := row.Scan(
		&subject.ID,
		&subject.Email,
		&subject.Name,
		&subject.Avatar,
		&providerIDs,
		&preferences,
		&subject.CreatedAt,
		&subject.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(providerIDs, &subject.ProviderIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(preferences, &subject.Preferences); err != nil {
		return nil, err
	}
	if subject.ProviderIDs == nil {
		subject.ProviderIDs = make(map[string]string)
	}
	return &subject, nil
}

// PostgresSessionStore persists sessions.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

const sessionColumns = `id, subject_id, user_agent, ip_address, platform, device_name,
	access_token, refresh_token, expires_at, created_at, last_activity`

func (s *PostgresSessionStore) Get(ctx context.Context, id string) (*model.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *PostgresSessionStore) Put(ctx context.Context, session *model.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, subject_id, user_agent, ip_address, platform, device_name,
			access_token, refresh_token, expires_at, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    expires_at = EXCLUDED.expires_at,
		    last_activity = EXCLUDED.last_activity
	`, session.ID, session.SubjectID, session.Device.UserAgent, session.Device.IPAddress,
		session.Device.Platform, session.Device.Name, session.AccessToken, session.RefreshToken,
		session.ExpiresAt, session.CreatedAt, session.LastActivity)
	return err
}

func (s *PostgresSessionStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresSessionStore) ListBySubject(ctx context.Context, subjectID string) ([]*model.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE subject_id = $1 ORDER BY created_at
	`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*model.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	return result, rows.Err()
}

func (s *PostgresSessionStore) DeleteBySubject(ctx context.Context, subjectID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE subject_id = $1`, subjectID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var session model.Session
	err := row.Scan(
		&session.ID,
		&session.SubjectID,
		&session.Device.UserAgent,
		&session.Device.IPAddress,
		&session.Device.Platform,
		&session.Device.Name,
		&session.AccessToken,
		&session.RefreshToken,
		&session.ExpiresAt,
		&session.CreatedAt,
		&session.LastActivity,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// PostgresGrantStore persists permission grants with a
// (subject_id, permission) primary key, so Put is a natural upsert.
type PostgresGrantStore struct {
	pool *pgxpool.Pool
}

func NewPostgresGrantStore(pool *pgxpool.Pool) *PostgresGrantStore {
	return &PostgresGrantStore{pool: pool}
}

func (s *PostgresGrantStore) Get(ctx context.Context, subjectID, permission string) (*model.PermissionGrant, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT subject_id, permission, granted, granted_at, revoked_at
		FROM permission_grants
		WHERE subject_id = $1 AND permission = $2
	`, subjectID, permission)
	return scanGrant(row)
}

func (s *PostgresGrantStore) Put(ctx context.Context, grant *model.PermissionGrant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO permission_grants (subject_id, permission, granted, granted_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id, permission) DO UPDATE
		SET granted = EXCLUDED.granted,
		    granted_at = EXCLUDED.granted_at,
		    revoked_at = EXCLUDED.revoked_at
	`, grant.SubjectID, grant.Permission, grant.Granted, grant.GrantedAt, grant.RevokedAt)
	return err
}

func (s *PostgresGrantStore) ListBySubject(ctx context.Context, subjectID string) ([]*model.PermissionGrant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT subject_id, permission, granted, granted_at, revoked_at
		FROM permission_grants
		WHERE subject_id = $1
		ORDER BY permission
	`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*model.PermissionGrant, 0)
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, grant)
	}
	return result, rows.Err()
}

func scanGrant(row pgx.Row) (*model.PermissionGrant, error) {
	var grant model.PermissionGrant
	err := row.Scan(&grant.SubjectID, &grant.Permission, &grant.Granted, &grant.GrantedAt, &grant.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

var (
	_ SubjectStore = (*PostgresSubjectStore)(nil)
	_ SessionStore = (*PostgresSessionStore)(nil)
	_ GrantStore   = (*PostgresGrantStore)(nil)
)
