package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledgermark/internal/pipeline"
	"ledgermark/internal/services"
)

// ErrNotFound is returned when no session matches an id.
var ErrNotFound = errors.New("session not found")

// Session is a persisted pipeline plus the columns used for listing.
type Session struct {
	ID           string
	Filename     string
	MediaType    string
	Fingerprint  string
	Stage        pipeline.Stage
	Variant      string
	CID          string
	Owner        string
	ErrorKind    string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Snapshot     pipeline.Snapshot
}

const selectColumns = `id, filename, media_type, fingerprint, stage, variant, snapshot_json,
    original_path, artifact_path, cid, owner, error_kind, error_message, created_at, updated_at`

// Create inserts a new session for content in the Selected state.
func (s *Store) Create(ctx context.Context, snap pipeline.Snapshot) (*Session, error) {
	if _, ok := pipeline.ContentOf(snap.State); !ok {
		return nil, services.Wrap(services.ErrValidation, "", "create session", "no content selected", nil)
	}
	id := uuid.NewString()
	now := formatTime(s.now())
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO sessions (id, filename, variant, snapshot_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id, "", "idle", "{}", now, now,
	); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	if err := s.Save(ctx, id, snap); err != nil {
		_, _ = s.execWithRetry(context.WithoutCancel(ctx), `DELETE FROM sessions WHERE id = ?`, id)
		_ = s.removeArtifacts(id)
		return nil, err
	}
	return s.Get(ctx, id)
}

// Save persists snap for id, writing artifact bytes to the staging directory.
func (s *Store) Save(ctx context.Context, id string, snap pipeline.Snapshot) error {
	if err := validateID(id); err != nil {
		return err
	}
	paths, err := s.writeArtifacts(id, snap.State)
	if err != nil {
		return fmt.Errorf("write artifacts: %w", err)
	}
	encoded, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	state := snap.State
	if state == nil {
		state = pipeline.Idle{}
	}
	content, _ := pipeline.ContentOf(state)
	var cid, owner string
	if receipt, ok := pipeline.ReceiptOf(state); ok {
		cid = receipt.CID
	}
	if record, ok := pipeline.RecordOf(state); ok {
		owner = record.Owner
		if cid == "" {
			cid = record.CID
		}
	}
	var errKind, errMessage string
	if snap.LastError != nil {
		errKind, errMessage = snap.LastError.Kind, snap.LastError.Message
	}

	res, err := s.execWithRetry(ctx,
		`UPDATE sessions SET
            filename = ?, media_type = ?, fingerprint = ?, stage = ?, variant = ?,
            snapshot_json = ?, original_path = ?, artifact_path = ?, cid = ?, owner = ?,
            error_kind = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		content.Filename,
		nullableString(content.MediaType),
		nullableString(content.Fingerprint),
		int(state.Stage()),
		state.Variant(),
		string(encoded),
		nullableString(paths.original),
		nullableString(paths.transformed),
		nullableString(cid),
		nullableString(owner),
		nullableString(errKind),
		nullableString(errMessage),
		formatTime(s.now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Get loads a session with its artifact bytes restored.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+selectColumns+` FROM sessions WHERE id = ?`, id)
	sess, paths, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	original, transformed, err := readArtifacts(paths)
	if err != nil {
		return nil, fmt.Errorf("read artifacts for %s: %w", id, err)
	}
	sess.Snapshot.State = pipeline.WithArtifacts(sess.Snapshot.State, original, transformed)
	return sess, nil
}

// List returns all sessions, newest first, without artifact bytes.
func (s *Store) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+selectColumns+` FROM sessions ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, _, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// FindByFingerprint returns sessions whose original content has fingerprint.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) ([]*Session, error) {
	fingerprint = strings.ToLower(strings.TrimSpace(fingerprint))
	if fingerprint == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+selectColumns+` FROM sessions WHERE fingerprint = ? ORDER BY created_at`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("find sessions by fingerprint: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, _, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Resolve expands a unique id prefix to a full session id.
func (s *Store) Resolve(ctx context.Context, prefix string) (string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return "", services.Wrap(services.ErrValidation, "", "resolve session", "session id is required", nil)
	}
	if _, err := uuid.Parse(prefix); err == nil {
		return prefix, nil
	}
	if strings.ContainsAny(prefix, "%_") {
		return "", services.Wrap(services.ErrValidation, "", "resolve session", fmt.Sprintf("invalid session id %q", prefix), nil)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT id FROM sessions WHERE id LIKE ? ORDER BY id LIMIT 2`, prefix+"%")
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return ids[0], nil
	default:
		return "", services.Wrap(services.ErrValidation, "", "resolve session", fmt.Sprintf("session id prefix %q is ambiguous", prefix), nil)
	}
}

// Delete removes a session row and its staged artifacts.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	res, err := s.execWithRetry(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.removeArtifacts(id); err != nil {
		return fmt.Errorf("remove artifacts: %w", err)
	}
	s.removeLockFile(id)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, artifactPaths, error) {
	var (
		sess                                   Session
		stage                                  int
		snapshotJSON, created, updated         string
		mediaType, fingerprint                 sql.NullString
		originalPath, artifactPath, cid, owner sql.NullString
		errKind, errMessage                    sql.NullString
	)
	if err := row.Scan(
		&sess.ID, &sess.Filename, &mediaType, &fingerprint, &stage, &sess.Variant, &snapshotJSON,
		&originalPath, &artifactPath, &cid, &owner, &errKind, &errMessage, &created, &updated,
	); err != nil {
		return nil, artifactPaths{}, err
	}
	if err := json.Unmarshal([]byte(snapshotJSON), &sess.Snapshot); err != nil {
		return nil, artifactPaths{}, fmt.Errorf("decode snapshot for %s: %w", sess.ID, err)
	}
	sess.Stage = pipeline.Stage(stage)
	sess.MediaType = mediaType.String
	sess.Fingerprint = fingerprint.String
	sess.CID = cid.String
	sess.Owner = owner.String
	sess.ErrorKind = errKind.String
	sess.ErrorMessage = errMessage.String
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return &sess, artifactPaths{original: originalPath.String, transformed: artifactPath.String}, nil
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return services.Wrap(services.ErrValidation, "", "load session", fmt.Sprintf("invalid session id %q", id), err)
	}
	return nil
}
