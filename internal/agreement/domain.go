// Package agreement holds the central aggregate and its lifecycle rules.
package agreement

import "time"

// Status is an agreement lifecycle state.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPending         Status = "pending"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusFinalized       Status = "finalized"
	StatusRejected        Status = "rejected"
)

// Agreement is the central aggregate. Commercial terms are snapshots taken at
// creation; a later pricing change never alters an existing agreement.
type Agreement struct {
	ID          string
	Code        string
	Name        string
	Location    string
	StartDate   *time.Time
	EndDate     *time.Time
	PrimaryID   string
	RawDocs     []string
	FinalDocs   []string
	DailyRate   float64
	TotalDays   int
	TotalAmount float64
	Status      Status
	Locked      bool
	ChainHash   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Member is one participant row. The primary row is created at agreement
// creation, always approved, and never removable.
type Member struct {
	AgreementID      string
	PrincipalID      string
	Approved         bool
	ApprovedAt       *time.Time
	IsPrimary        bool
	VerificationRefs []string
}

// TotalDays derives the inclusive day count from an optional date range,
// minimum 1.
func TotalDays(start, end *time.Time) int {
	if start == nil || end == nil {
		return 1
	}
	days := int(end.Sub(*start).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	return days
}

// AllApproved reports whether every member row shows approved.
func AllApproved(members []Member) bool {
	if len(members) == 0 {
		return false
	}
	for _, m := range members {
		if !m.Approved {
			return false
		}
	}
	return true
}

func memberIDs(members []Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.PrincipalID)
	}
	return ids
}

func findMember(members []Member, principalID string) *Member {
	for i := range members {
		if members[i].PrincipalID == principalID {
			return &members[i]
		}
	}
	return nil
}
