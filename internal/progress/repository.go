package progress

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the lesson-progress adapter over the external store. Each
// user identity owns a partition of lesson_progress; nothing here crosses it.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Append(ctx context.Context, userID, lessonID string, passedAt time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate record id: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO lesson_progress (id, user_id, lesson_id, passed_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id.String(), userID, lessonID, passedAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert lesson progress: %w", err)
	}

	return nil
}

func (r *Repository) List(ctx context.Context, userID string) ([]CompletionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT lesson_id, passed_at
		FROM lesson_progress
		WHERE user_id = $1
		ORDER BY passed_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query lesson progress: %w", err)
	}
	defer rows.Close()

	records := make([]CompletionRecord, 0)
	for rows.Next() {
		var record CompletionRecord
		var passedAt time.Time
		if err := rows.Scan(&record.LessonID, &passedAt); err != nil {
			return nil, fmt.Errorf("scan lesson progress: %w", err)
		}
		record.PassedAt = NewTimestamp(passedAt)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lesson progress: %w", err)
	}

	return records, nil
}

// DeleteOlderThan prunes records whose passed_at predates the cutoff. Only
// the maintenance path calls this; the public API exposes no delete.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM lesson_progress
			WHERE passed_at < $1
			ORDER BY passed_at ASC
			LIMIT $2
		)
		DELETE FROM lesson_progress t
		USING stale
		WHERE t.id = stale.id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale lesson progress: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale lesson progress rows affected: %w", err)
	}

	return affected, nil
}
