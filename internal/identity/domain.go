package identity

import "time"

// Principal is a registered party. Identity is immutable: created at
// registration and referenced everywhere else.
type Principal struct {
	ID           string
	Code         string
	Name         string
	Email        string
	PasscodeHash string
	Active       bool
	CreatedAt    time.Time
}

// RegisterInput carries registration fields.
type RegisterInput struct {
	Name     string
	Email    string
	Passcode string
}
