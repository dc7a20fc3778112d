package shared

import (
	"github.com/google/uuid"
)

// RefKind tags how an identifier string should be looked up.
type RefKind int

const (
	// RefByID marks a durable storage id.
	RefByID RefKind = iota
	// RefByCode marks a short human-shareable code.
	RefByCode
)

// Ref is an identifier parsed up front as either a durable id or a share code.
// Callers never need to know which form they hold.
type Ref struct {
	Kind RefKind
	ID   uuid.UUID
	Code string
}

// ParseRef classifies an identifier string. Anything that is not a valid UUID
// is treated as a share code.
func ParseRef(s string) Ref {
	if id, err := uuid.Parse(s); err == nil {
		return Ref{Kind: RefByID, ID: id}
	}
	return Ref{Kind: RefByCode, Code: s}
}

// String returns the original identifier form.
func (r Ref) String() string {
	if r.Kind == RefByID {
		return r.ID.String()
	}
	return r.Code
}
