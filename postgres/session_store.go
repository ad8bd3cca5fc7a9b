package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsboard/workflow"
)

// SessionStore is a PostgreSQL implementation of workflow.SessionStore. A
// positive TTL makes expired sessions invisible to MutateSession; callers
// schedule DeleteExpiredSessions to reclaim their rows.
type SessionStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewSessionStore creates a new SessionStore with the given TTL. A zero TTL
// keeps sessions until reassembly or explicit deletion.
func NewSessionStore(pool *pgxpool.Pool, ttl time.Duration) *SessionStore {
	return &SessionStore{pool: pool, ttl: ttl}
}

// MutateSession serializes concurrent chunk ingestion for the same upload
// key, so the all-slots-filled check is atomic with the fill. An advisory
// transaction lock covers the key even before the session row exists;
// a row lock alone would let two first-chunk calls both create the session.
func (s *SessionStore) MutateSession(ctx context.Context, organizationID, uploadID string, fn func(session *workflow.UploadSession) (*workflow.UploadSession, error)) (*workflow.UploadSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		organizationID+"/"+uploadID); err != nil {
		return nil, err
	}

	session, err := s.loadSession(ctx, tx, organizationID, uploadID)
	if err != nil {
		return nil, err
	}
	if session != nil && s.ttl > 0 && time.Since(session.UpdatedAt) > s.ttl {
		if _, err := tx.Exec(ctx,
			`DELETE FROM upload_sessions WHERE organization_id = $1 AND upload_id = $2`,
			organizationID, uploadID); err != nil {
			return nil, err
		}
		session = nil
	}

	updated, err := fn(session)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		if err := s.saveSession(ctx, tx, updated); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SessionStore) loadSession(ctx context.Context, tx pgx.Tx, organizationID, uploadID string) (*workflow.UploadSession, error) {
	var session workflow.UploadSession
	err := tx.QueryRow(ctx, `
		SELECT upload_id, step_id, work_item_id, organization_id, file_name, file_type, file_size, total_chunks, finalizing, created_at, updated_at
		FROM upload_sessions
		WHERE organization_id = $1 AND upload_id = $2
		FOR UPDATE`,
		organizationID, uploadID).Scan(
		&session.UploadID, &session.StepID, &session.WorkItemID, &session.OrganizationID,
		&session.FileName, &session.FileType, &session.FileSize, &session.TotalChunks,
		&session.Finalizing, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	session.Chunks = make([][]byte, session.TotalChunks)
	rows, err := tx.Query(ctx, `
		SELECT chunk_index, data FROM upload_session_chunks
		WHERE organization_id = $1 AND upload_id = $2`,
		organizationID, uploadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var index int
		var data []byte
		if err := rows.Scan(&index, &data); err != nil {
			return nil, err
		}
		if index >= 0 && index < session.TotalChunks {
			session.Chunks[index] = data
			session.ReceivedChunks++
		}
	}
	return &session, rows.Err()
}

func (s *SessionStore) saveSession(ctx context.Context, tx pgx.Tx, session *workflow.UploadSession) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO upload_sessions
			(organization_id, upload_id, step_id, work_item_id, file_name, file_type, file_size, total_chunks, finalizing, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (organization_id, upload_id)
		DO UPDATE SET updated_at = EXCLUDED.updated_at, finalizing = EXCLUDED.finalizing`,
		session.OrganizationID, session.UploadID, session.StepID, session.WorkItemID,
		session.FileName, session.FileType, session.FileSize, session.TotalChunks,
		session.Finalizing, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return err
	}
	for index, chunk := range session.Chunks {
		if chunk == nil {
			continue
		}
		// Fill-if-empty: an existing chunk row wins over a re-send.
		_, err = tx.Exec(ctx, `
			INSERT INTO upload_session_chunks (organization_id, upload_id, chunk_index, data)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (organization_id, upload_id, chunk_index) DO NOTHING`,
			session.OrganizationID, session.UploadID, index, chunk)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, organizationID, uploadID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM upload_sessions WHERE organization_id = $1 AND upload_id = $2`,
		organizationID, uploadID)
	return err
}

// DeleteExpiredSessions removes sessions idle past the TTL. It is a no-op
// when no TTL is configured.
func (s *SessionStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM upload_sessions WHERE updated_at < $1`,
		time.Now().Add(-s.ttl))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
