package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusQueued   = "queued"
	StatusBuilding = "building"
	StatusBuilt    = "built"
	StatusFailed   = "failed"
)

type Build struct {
	ID           string     `json:"id"`
	ContextDir   string     `json:"context_dir"`
	CommitSHA    string     `json:"commit_sha"`
	BranchName   string     `json:"branch_name"`
	Tag          string     `json:"tag,omitempty"`
	Status       string     `json:"status"`
	ImageID      *string    `json:"image_id,omitempty"`
	BaseDigest   *string    `json:"base_digest,omitempty"`
	ArtifactPath *string    `json:"artifact_path,omitempty"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

const buildColumns = `id, context_dir, commit_sha, branch_name, tag, status,
	image_id, base_digest, artifact_path, error, created_at, started_at, finished_at`

// InsertBuild queues a new build.
func (s *Store) InsertBuild(ctx context.Context, contextDir, commitSHA, branchName, tag string) (*Build, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate build id: %w", err)
	}
	now := time.Now().Unix()

	query := `
		INSERT INTO builds (id, context_dir, commit_sha, branch_name, tag, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.conn.ExecContext(ctx, query, id.String(), contextDir, commitSHA, branchName, tag, StatusQueued, now)
	if err != nil {
		return nil, fmt.Errorf("insert build: %w", err)
	}

	return &Build{
		ID:         id.String(),
		ContextDir: contextDir,
		CommitSHA:  commitSHA,
		BranchName: branchName,
		Tag:        tag,
		Status:     StatusQueued,
		CreatedAt:  time.Unix(now, 0).UTC(),
	}, nil
}

// ClaimNextBuild atomically moves the oldest queued build to building and
// returns it. It returns nil when nothing is queued.
func (s *Store) ClaimNextBuild(ctx context.Context) (*Build, error) {
	query := `
		UPDATE builds SET status = ?, started_at = ?
		WHERE id = (SELECT id FROM builds WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1)
		RETURNING ` + buildColumns

	build, err := scanBuild(s.conn.QueryRowContext(ctx, query, StatusBuilding, time.Now().Unix(), StatusQueued))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim build: %w", err)
	}

	return build, nil
}

// GetBuild returns the build with the given id, or nil when unknown.
func (s *Store) GetBuild(ctx context.Context, id string) (*Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE id = ?`

	build, err := scanBuild(s.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get build %s: %w", id, err)
	}

	return build, nil
}

// ListBuilds returns up to limit builds, newest first.
func (s *Store) ListBuilds(ctx context.Context, limit int) ([]Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	builds := []Build{}
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("list builds: %w", err)
		}
		builds = append(builds, *build)
	}

	return builds, rows.Err()
}

// MarkBuildBuilt records a successful build's outputs.
func (s *Store) MarkBuildBuilt(ctx context.Context, id, imageID, baseDigest, artifactPath string) error {
	query := `
		UPDATE builds SET status = ?, image_id = ?, base_digest = ?, artifact_path = ?, finished_at = ?
		WHERE id = ?
	`

	_, err := s.conn.ExecContext(ctx, query, StatusBuilt, imageID, baseDigest, artifactPath, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark build built: %w", err)
	}

	return nil
}

// MarkBuildFailed records the terminal failure with its cause.
func (s *Store) MarkBuildFailed(ctx context.Context, id, cause string) error {
	query := `UPDATE builds SET status = ?, error = ?, finished_at = ? WHERE id = ?`

	_, err := s.conn.ExecContext(ctx, query, StatusFailed, cause, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark build failed: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*Build, error) {
	var (
		b          Build
		imageID    sql.NullString
		baseDigest sql.NullString
		artifact   sql.NullString
		cause      sql.NullString
		createdAt  int64
		startedAt  sql.NullInt64
		finishedAt sql.NullInt64
	)

	err := row.Scan(&b.ID, &b.ContextDir, &b.CommitSHA, &b.BranchName, &b.Tag, &b.Status,
		&imageID, &baseDigest, &artifact, &cause, &createdAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	b.CreatedAt = time.Unix(createdAt, 0).UTC()
	if imageID.Valid {
		b.ImageID = &imageID.String
	}
	if baseDigest.Valid {
		b.BaseDigest = &baseDigest.String
	}
	if artifact.Valid {
		b.ArtifactPath = &artifact.String
	}
	if cause.Valid {
		b.Error = &cause.String
	}
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0).UTC()
		b.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		b.FinishedAt = &t
	}

	return &b, nil
}
