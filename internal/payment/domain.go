// Package payment implements distribution setup and settlement of an
// agreement's shared cost across its participants.
package payment

import (
	"errors"
	"time"
)

// ErrSettled reports a settle attempt against an already-completed payment
// row. The guard lives in the store so two racing pay calls cannot both
// debit.
var ErrSettled = errors.New("payment: already settled")

// Status enumerates payment states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Entry is one participant's share of a distribution. Percentage and amount
// are snapshots taken at setup; a later pricing change never alters an
// agreed split.
type Entry struct {
	PrincipalID string
	Percentage  float64
	Amount      float64
}

// Distribution is the agreed cost split for one agreement. At most one per
// agreement; a new setup replaces the old one wholesale.
type Distribution struct {
	AgreementID  string
	TotalAmount  float64
	DurationDays int
	Entries      []Entry
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Payment is one participant's settlement of their share. One effective row
// per (agreement, principal); re-payment overwrites rather than duplicates.
type Payment struct {
	ID            string
	AgreementID   string
	PrincipalID   string
	Amount        float64
	DurationDays  int
	Percentage    float64
	Status        Status
	CorrelationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EntryStatus is one participant's line in a settlement report.
type EntryStatus struct {
	PrincipalID string
	Percentage  float64
	Amount      float64
	Paid        bool
}

// Report summarizes an agreement's settlement state.
type Report struct {
	AgreementID string
	TotalAmount float64
	TotalPaid   float64
	Remaining   float64
	FullyPaid   bool
	Entries     []EntryStatus
}

// Quote is a duration and cost estimate derived from an agreement's
// commercial terms.
type Quote struct {
	DailyRate   float64
	TotalDays   int
	TotalAmount float64
}

func (d *Distribution) entryFor(principalID string) *Entry {
	for i := range d.Entries {
		if d.Entries[i].PrincipalID == principalID {
			return &d.Entries[i]
		}
	}
	return nil
}
