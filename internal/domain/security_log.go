package domain

import "time"

// FlagThreshold is the cumulative number of failed sign-ins at which an
// account is flagged for manual review. Failures never decay.
const FlagThreshold = 3

// Unknown fills location fields that could not be resolved.
const Unknown = "unknown"

// SecurityLog is one authentication outcome. Entries are append-only.
type SecurityLog struct {
	ID                  string    `json:"log_id"`
	UserID              string    `json:"user_id"`
	IPAddress           string    `json:"ip_address"`
	City                string    `json:"city"`
	Country             string    `json:"country"`
	FailedLoginAttempts int       `json:"failed_login_attempts"`
	FlaggedForReview    bool      `json:"flagged_for_review"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Succeeded reports whether the entry records a successful sign-in.
func (l *SecurityLog) Succeeded() bool {
	return l.FailedLoginAttempts == 0
}

// ShouldFlag reports whether a new failure on top of priorFailures reaches
// the review threshold.
func ShouldFlag(priorFailures int64) bool {
	return priorFailures+1 >= FlagThreshold
}

// LoginStats summarises a user's sign-in history for admins.
type LoginStats struct {
	UserID               string     `json:"user_id"`
	TotalLogins          int64      `json:"total_logins"`
	SuccessfulLogins     int64      `json:"successful_logins"`
	FailedLogins         int64      `json:"failed_logins"`
	LastSuccessfulLogin  *time.Time `json:"last_successful_login"`
	LastFailedLogin      *time.Time `json:"last_failed_login"`
	IsFlaggedForReview   bool       `json:"is_flagged_for_review"`
	RecentFailedAttempts int        `json:"recent_failed_attempts"`
}

// RecentWindow bounds which entries count as recent failures.
const RecentWindow = 24 * time.Hour

// RecentLogsForStats is how many of the newest entries feed the
// last-seen, flag and recent-failure fields.
const RecentLogsForStats = 10

// BuildLoginStats derives stats from the all-time totals and the newest
// entries, which must be ordered newest first.
func BuildLoginStats(userID string, total, failed int64, recent []SecurityLog, now time.Time) LoginStats {
	stats := LoginStats{
		UserID:           userID,
		TotalLogins:      total,
		FailedLogins:     failed,
		SuccessfulLogins: total - failed,
	}

	cutoff := now.Add(-RecentWindow)
	for i := range recent {
		entry := recent[i]
		at := entry.CreatedAt
		if entry.Succeeded() {
			if stats.LastSuccessfulLogin == nil {
				stats.LastSuccessfulLogin = &at
			}
		} else {
			if stats.LastFailedLogin == nil {
				stats.LastFailedLogin = &at
			}
			if at.After(cutoff) {
				stats.RecentFailedAttempts += entry.FailedLoginAttempts
			}
		}
		if entry.FlaggedForReview {
			stats.IsFlaggedForReview = true
		}
	}
	return stats
}

// LoginHistoryItem is one row of the admin login history.
type LoginHistoryItem struct {
	ID                  string    `json:"id"`
	Timestamp           time.Time `json:"timestamp"`
	IPAddress           string    `json:"ip_address"`
	City                string    `json:"city"`
	Country             string    `json:"country"`
	WasSuccessful       bool      `json:"was_successful"`
	FailedLoginAttempts int       `json:"failed_login_attempts"`
	FlaggedForReview    bool      `json:"flagged_for_review"`
}

// HistoryItem converts a log entry into its admin view.
func (l *SecurityLog) HistoryItem() LoginHistoryItem {
	return LoginHistoryItem{
		ID:                  l.ID,
		Timestamp:           l.CreatedAt,
		IPAddress:           l.IPAddress,
		City:                l.City,
		Country:             l.Country,
		WasSuccessful:       l.Succeeded(),
		FailedLoginAttempts: l.FailedLoginAttempts,
		FlaggedForReview:    l.FlaggedForReview,
	}
}
