// Package models defines the persisted entities of the rank tracker.
package models

import (
	"time"

	"github.com/rank-tracker/internal/types"
)

// Class is a tracked configuration grouping a set of keywords: the domain
// being tracked, its competitors, the search locale/device, the requested
// result depth and the optional automatic check schedule.
type Class struct {
	ID           string   `json:"id"`
	UserID       string   `json:"userId"`
	Name         string   `json:"name"`
	Domain       string   `json:"domain"`
	Competitors  []string `json:"competitors"`
	CountryID    int      `json:"countryId"`
	LanguageCode string   `json:"languageCode"`
	Device       types.Device `json:"device"`
	TopResults   int          `json:"topResults"`
	LocationID   *int         `json:"locationId,omitempty"`

	// Schedule; Recurrence nil means manual checks only.
	Recurrence    *types.Recurrence `json:"recurrence,omitempty"`
	CheckHour     int               `json:"checkHour"`
	CheckWeekday  int               `json:"checkWeekday"`  // 0=Sunday, anchor for weekly
	CheckMonthDay int               `json:"checkMonthDay"` // 1-28, anchor for monthly

	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Keyword is a tracked search term scoped to one class. Text is lower-cased
// and de-duplicated on insert. best_position, once set, only improves
// (numerically decreases) or stays equal.
type Keyword struct {
	ID      string `json:"id"`
	ClassID string `json:"classId"`
	Text    string `json:"text"`

	RankingPosition  *int   `json:"rankingPosition"`
	FirstPosition    *int   `json:"firstPosition,omitempty"`
	BestPosition     *int   `json:"bestPosition,omitempty"`
	PreviousPosition *int   `json:"previousPosition,omitempty"`
	FoundURL         string `json:"foundUrl,omitempty"`

	CompetitorRankings map[string]types.CompetitorRanking `json:"competitorRankings,omitempty"`
	SerpResults        []types.SerpResult                 `json:"serpResults,omitempty"`

	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// RankCheckJob is one admitted ranking-check request. At most one job with an
// active status exists per class at any time.
type RankCheckJob struct {
	ID         string   `json:"id"`
	ClassID    string   `json:"classId"`
	UserID     string   `json:"userId"`
	KeywordIDs []string `json:"keywordIds,omitempty"` // empty = all keywords of the class

	TotalKeywords     int             `json:"totalKeywords"`
	ProcessedKeywords int             `json:"processedKeywords"`
	Status            types.JobStatus `json:"status"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// RankingHistoryRecord is an append-only snapshot of a keyword's ranking at
// one check event. Never updated or deleted.
type RankingHistoryRecord struct {
	ID                 string                             `json:"id"`
	KeywordID          string                             `json:"keywordId"`
	ClassID            string                             `json:"classId"`
	RankingPosition    *int                               `json:"rankingPosition"`
	FoundURL           string                             `json:"foundUrl,omitempty"`
	CompetitorRankings map[string]types.CompetitorRanking `json:"competitorRankings,omitempty"`
	CheckedAt          time.Time                          `json:"checkedAt"`
}

// CreditAccount is the per-user metering state. Balance is never driven
// negative by a debit.
type CreditAccount struct {
	UserID         string    `json:"userId"`
	Balance        int       `json:"balance"`
	TotalPurchased int       `json:"totalPurchased"`
	TotalUsed      int       `json:"totalUsed"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// CreditTransaction is an append-only ledger entry. BalanceAfter records the
// resulting balance for auditability. Reference carries the upstream payment
// transaction id for purchases and is unique when set.
type CreditTransaction struct {
	ID           string                      `json:"id"`
	UserID       string                      `json:"userId"`
	Type         types.CreditTransactionType `json:"type"`
	Amount       int                         `json:"amount"`
	BalanceAfter int                         `json:"balanceAfter"`
	Reference    string                      `json:"reference,omitempty"`
	Description  string                      `json:"description,omitempty"`
	CreatedAt    time.Time                   `json:"createdAt"`
}

// CreditOrder is a credit purchase awaiting (or settled by) payment. The
// payment webhook resolves orders by invoice number.
type CreditOrder struct {
	ID            string            `json:"id"`
	UserID        string            `json:"userId"`
	InvoiceNumber string            `json:"invoiceNumber"`
	Credits       int               `json:"credits"`
	Status        types.OrderStatus `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	PaidAt        *time.Time        `json:"paidAt,omitempty"`
}
