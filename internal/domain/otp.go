package domain

import (
	"math"
	"time"
)

const (
	// OTPLifetime is how long an issued code can be redeemed.
	OTPLifetime = 2 * time.Minute
	// OTPCooldown is the minimum gap between two issuances for one user.
	OTPCooldown = 2 * time.Minute

	OTPMin = 100000
	OTPMax = 999999
)

// OneTimeCode is the single live sign-in code of a user.
type OneTimeCode struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Code      int       `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewOneTimeCode builds a code issued at now.
func NewOneTimeCode(id, userID string, code int, now time.Time) *OneTimeCode {
	return &OneTimeCode{
		ID:        id,
		UserID:    userID,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(OTPLifetime),
	}
}

// Expired reports whether now is past the code's expiry.
func (o *OneTimeCode) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// CooldownRemaining returns how long until a new code may be issued, or
// zero when the cooldown has elapsed.
func (o *OneTimeCode) CooldownRemaining(now time.Time) time.Duration {
	left := OTPCooldown - now.Sub(o.CreatedAt)
	if left < 0 {
		return 0
	}
	return left
}

// RetryAfter splits a cooldown into whole seconds and rounded-up minutes.
// Any positive cooldown reports at least one second.
func RetryAfter(d time.Duration) (seconds, minutes int64) {
	seconds = int64(d / time.Second)
	if d > 0 && seconds == 0 {
		seconds = 1
	}
	minutes = int64(math.Ceil(float64(seconds) / 60))
	return seconds, minutes
}

// Issued describes a code that was sent.
type Issued struct {
	Email            string `json:"email"`
	ExpiresInMinutes int    `json:"expires_in_minutes"`
}
