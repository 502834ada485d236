// Package types provides common type definitions for the rank tracker system.
package types

// JobStatus represents the lifecycle state of a ranking check job
type JobStatus string

const (
	// JobStatusPending represents a job admitted but not yet picked up
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing represents a job currently being worked on
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted represents a job whose keywords were all processed
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed represents a job terminated by an unrecoverable error
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal reports whether the status permits no further transitions
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether the job still occupies its class's single slot
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Device represents the device class a search is performed as
type Device string

const (
	// DeviceDesktop represents desktop search results
	DeviceDesktop Device = "desktop"
	// DevicePhone represents mobile phone search results
	DevicePhone Device = "phone"
	// DeviceTablet represents tablet search results
	DeviceTablet Device = "tablet"
)

// Recurrence represents a class's automatic check cadence
type Recurrence string

const (
	// RecurrenceDaily checks once per day at the configured hour
	RecurrenceDaily Recurrence = "daily"
	// RecurrenceWeekly checks once per week on the anchor weekday
	RecurrenceWeekly Recurrence = "weekly"
	// RecurrenceMonthly checks once per month on the anchor day of month
	RecurrenceMonthly Recurrence = "monthly"
)

// CreditTransactionType classifies ledger entries
type CreditTransactionType string

const (
	// CreditTxPurchase represents credits added by a settled payment
	CreditTxPurchase CreditTransactionType = "purchase"
	// CreditTxUsage represents credits consumed by ranking checks
	CreditTxUsage CreditTransactionType = "usage"
	// CreditTxAdjustment represents a manual administrative correction
	CreditTxAdjustment CreditTransactionType = "adjustment"
)

// OrderStatus represents the settlement state of a credit order
type OrderStatus string

const (
	// OrderStatusPending represents an order awaiting payment
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid represents an order settled by the payment provider
	OrderStatusPaid OrderStatus = "paid"
)

// SerpResult is a single organic search result. Position is the 1-based rank
// among organic results only; ads and feature panels never receive a position.
type SerpResult struct {
	Position    int    `json:"position"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Breadcrumbs string `json:"breadcrumbs,omitempty"`
}

// CompetitorRanking holds the tracked position state for one competitor
// domain on one keyword
type CompetitorRanking struct {
	Position         *int   `json:"position"`
	URL              string `json:"url,omitempty"`
	FirstPosition    *int   `json:"firstPosition,omitempty"`
	BestPosition     *int   `json:"bestPosition,omitempty"`
	PreviousPosition *int   `json:"previousPosition,omitempty"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
