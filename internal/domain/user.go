package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is an account identified by email. Accounts are created on first
// OTP request and verified on first successful sign-in.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Phone        *string    `json:"phone"`
	Verified     bool       `json:"verified"`
	Role         string     `json:"role"`
	LastLoggedIn *time.Time `json:"last_logged_in"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// IsAdmin reports whether the user may call admin endpoints.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// NewUser returns an unverified user with the default role. The id is a
// dashless uuid so it fits the felt encoding used by downstream wallet calls.
func NewUser(email string, phone *string) *User {
	return &User{
		ID:    NewUserID(),
		Email: NormalizeEmail(email),
		Phone: phone,
		Role:  RoleUser,
	}
}

// NewUserID returns a 32-character lowercase hex uuid.
func NewUserID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
