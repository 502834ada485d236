package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rank-tracker/internal/apperrors"
	"github.com/rank-tracker/internal/models"
)

// ClassRepository handles tracked class persistence. The general class CRUD
// surface lives elsewhere; the pipeline needs the search parameters, the
// schedule fields and the last-checked stamp.
type ClassRepository struct {
	db *PostgresDB
}

// NewClassRepository creates a new class repository
func NewClassRepository(db *PostgresDB) *ClassRepository {
	return &ClassRepository{db: db}
}

const classColumns = `
	id, user_id, name, domain, competitors, country_id, language_code,
	device, top_results, location_id, recurrence, check_hour,
	check_weekday, check_month_day, last_checked_at, created_at, updated_at
`

// Create inserts a new class
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) error {
	if class.ID == "" {
		class.ID = uuid.New().String()
	}

	now := time.Now()
	class.CreatedAt = now
	class.UpdatedAt = now

	competitorsJSON, err := json.Marshal(class.Competitors)
	if err != nil {
		return fmt.Errorf("failed to marshal competitors: %w", err)
	}

	query := `
		INSERT INTO classes (` + classColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.db.Pool().Exec(ctx, query,
		class.ID,
		class.UserID,
		class.Name,
		class.Domain,
		competitorsJSON,
		class.CountryID,
		class.LanguageCode,
		class.Device,
		class.TopResults,
		class.LocationID,
		class.Recurrence,
		class.CheckHour,
		class.CheckWeekday,
		class.CheckMonthDay,
		class.LastCheckedAt,
		class.CreatedAt,
		class.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create class: %w", err)
	}

	return nil
}

// GetByID retrieves a class by ID
func (r *ClassRepository) GetByID(ctx context.Context, id string) (*models.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes WHERE id = $1`

	class, err := r.scanClass(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewClassNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to get class: %w", err)
	}

	return class, nil
}

// ListScheduled returns all classes with a non-null recurrence
func (r *ClassRepository) ListScheduled(ctx context.Context) ([]*models.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes WHERE recurrence IS NOT NULL ORDER BY created_at`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled classes: %w", err)
	}
	defer rows.Close()

	var classes []*models.Class
	for rows.Next() {
		class, err := r.scanClass(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan class: %w", err)
		}
		classes = append(classes, class)
	}

	return classes, rows.Err()
}

// StampLastChecked records when the class's keywords were last checked. Used
// both on job completion and as a provisional stamp at scheduler trigger
// time to reduce duplicate-enqueue races between overlapping trigger runs.
func (r *ClassRepository) StampLastChecked(ctx context.Context, classID string, checkedAt time.Time) error {
	query := `UPDATE classes SET last_checked_at = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Pool().Exec(ctx, query, classID, checkedAt)
	if err != nil {
		return fmt.Errorf("failed to stamp last checked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewClassNotFoundError(classID)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ClassRepository) scanClass(row rowScanner) (*models.Class, error) {
	var class models.Class
	var competitorsJSON []byte

	err := row.Scan(
		&class.ID,
		&class.UserID,
		&class.Name,
		&class.Domain,
		&competitorsJSON,
		&class.CountryID,
		&class.LanguageCode,
		&class.Device,
		&class.TopResults,
		&class.LocationID,
		&class.Recurrence,
		&class.CheckHour,
		&class.CheckWeekday,
		&class.CheckMonthDay,
		&class.LastCheckedAt,
		&class.CreatedAt,
		&class.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(competitorsJSON) > 0 {
		if err := json.Unmarshal(competitorsJSON, &class.Competitors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal competitors: %w", err)
		}
	}

	return &class, nil
}
