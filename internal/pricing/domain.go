package pricing

import "time"

// DefaultDailyRate applies when no config row is active.
const DefaultDailyRate = 1.0

// Config is one pricing configuration version. Versions are copy-on-write:
// creating a new one deactivates all others, so at most one row is active.
type Config struct {
	ID        string
	DailyRate float64
	IsActive  bool
	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}
