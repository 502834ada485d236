package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rank-tracker/internal/apperrors"
	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/types"
)

// KeywordRepository handles keyword persistence. Listing orders are stable
// (created_at, id) because the processor slices keyword lists by offset and
// a reordering between invocations would re-process or skip keywords.
type KeywordRepository struct {
	db *PostgresDB
}

// NewKeywordRepository creates a new keyword repository
func NewKeywordRepository(db *PostgresDB) *KeywordRepository {
	return &KeywordRepository{db: db}
}

const keywordColumns = `
	id, class_id, text, ranking_position, first_position, best_position,
	previous_position, found_url, competitor_rankings, serp_results,
	last_checked_at, created_at
`

// Create inserts a keyword. Text is lower-cased; duplicates within a class
// are silently dropped.
func (r *KeywordRepository) Create(ctx context.Context, keyword *models.Keyword) error {
	if keyword.ID == "" {
		keyword.ID = uuid.New().String()
	}
	keyword.Text = strings.ToLower(strings.TrimSpace(keyword.Text))
	if keyword.Text == "" {
		return apperrors.NewInvalidParameterError("text", "keyword text is required")
	}
	keyword.CreatedAt = time.Now()

	query := `
		INSERT INTO keywords (id, class_id, text, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (class_id, text) DO NOTHING
	`

	_, err := r.db.Pool().Exec(ctx, query, keyword.ID, keyword.ClassID, keyword.Text, keyword.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create keyword: %w", err)
	}

	return nil
}

// GetByID retrieves a keyword by ID
func (r *KeywordRepository) GetByID(ctx context.Context, id string) (*models.Keyword, error) {
	query := `SELECT ` + keywordColumns + ` FROM keywords WHERE id = $1`

	keyword, err := r.scanKeyword(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("keyword", id)
		}
		return nil, fmt.Errorf("failed to get keyword: %w", err)
	}

	return keyword, nil
}

// CountByClass returns the number of keywords tracked for a class
func (r *KeywordRepository) CountByClass(ctx context.Context, classID string) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM keywords WHERE class_id = $1`, classID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count keywords: %w", err)
	}
	return count, nil
}

// ListByClass returns all keywords of a class in stable insertion order
func (r *KeywordRepository) ListByClass(ctx context.Context, classID string) ([]*models.Keyword, error) {
	query := `SELECT ` + keywordColumns + ` FROM keywords WHERE class_id = $1 ORDER BY created_at, id`
	return r.queryKeywords(ctx, query, classID)
}

// ListByIDs returns the given keywords of a class in stable insertion order.
// Unknown ids are ignored.
func (r *KeywordRepository) ListByIDs(ctx context.Context, classID string, ids []string) ([]*models.Keyword, error) {
	query := `SELECT ` + keywordColumns + ` FROM keywords
		WHERE class_id = $1 AND id = ANY($2)
		ORDER BY created_at, id`
	return r.queryKeywords(ctx, query, classID, ids)
}

// UpdateRanking persists the position fields written by the processor after
// a successful fetch.
func (r *KeywordRepository) UpdateRanking(ctx context.Context, keyword *models.Keyword) error {
	competitorsJSON, err := json.Marshal(keyword.CompetitorRankings)
	if err != nil {
		return fmt.Errorf("failed to marshal competitor rankings: %w", err)
	}
	serpJSON, err := json.Marshal(keyword.SerpResults)
	if err != nil {
		return fmt.Errorf("failed to marshal serp results: %w", err)
	}

	query := `
		UPDATE keywords
		SET ranking_position = $2, first_position = $3, best_position = $4,
			previous_position = $5, found_url = $6, competitor_rankings = $7,
			serp_results = $8, last_checked_at = $9
		WHERE id = $1
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		keyword.ID,
		keyword.RankingPosition,
		keyword.FirstPosition,
		keyword.BestPosition,
		keyword.PreviousPosition,
		keyword.FoundURL,
		competitorsJSON,
		serpJSON,
		keyword.LastCheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update keyword ranking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("keyword", keyword.ID)
	}

	return nil
}

func (r *KeywordRepository) queryKeywords(ctx context.Context, query string, args ...any) ([]*models.Keyword, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	defer rows.Close()

	var keywords []*models.Keyword
	for rows.Next() {
		keyword, err := r.scanKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan keyword: %w", err)
		}
		keywords = append(keywords, keyword)
	}

	return keywords, rows.Err()
}

func (r *KeywordRepository) scanKeyword(row rowScanner) (*models.Keyword, error) {
	var keyword models.Keyword
	var competitorsJSON, serpJSON []byte

	err := row.Scan(
		&keyword.ID,
		&keyword.ClassID,
		&keyword.Text,
		&keyword.RankingPosition,
		&keyword.FirstPosition,
		&keyword.BestPosition,
		&keyword.PreviousPosition,
		&keyword.FoundURL,
		&competitorsJSON,
		&serpJSON,
		&keyword.LastCheckedAt,
		&keyword.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(competitorsJSON) > 0 {
		rankings, err := DecodeCompetitorRankings(competitorsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal competitor rankings: %w", err)
		}
		keyword.CompetitorRankings = rankings
	}
	if len(serpJSON) > 0 {
		if err := json.Unmarshal(serpJSON, &keyword.SerpResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal serp results: %w", err)
		}
	}

	return &keyword, nil
}

// DecodeCompetitorRankings decodes the competitor_rankings JSON column.
// Historically some rows stored a bare position number per domain instead of
// the typed record; those decode into a record with only Position set.
func DecodeCompetitorRankings(data []byte) (map[string]types.CompetitorRanking, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	rankings := make(map[string]types.CompetitorRanking, len(raw))
	for domain, value := range raw {
		var ranking types.CompetitorRanking
		if err := json.Unmarshal(value, &ranking); err == nil {
			rankings[domain] = ranking
			continue
		}

		// Legacy encoding: a bare number (or null).
		var position *int
		if err := json.Unmarshal(value, &position); err != nil {
			return nil, fmt.Errorf("unrecognized competitor ranking encoding for %q", domain)
		}
		rankings[domain] = types.CompetitorRanking{Position: position}
	}

	return rankings, nil
}
