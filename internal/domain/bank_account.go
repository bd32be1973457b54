package domain

import "time"

// BankAccount is a payout account verified against the bank's records.
type BankAccount struct {
	ID            string    `json:"bank_details_id"`
	UserID        string    `json:"user_id"`
	BankName      string    `json:"bank_name"`
	AccountNumber string    `json:"bank_account_number"`
	AccountName   string    `json:"account_name,omitempty"`
	CreatedAt     time.Time `json:"-"`
	UpdatedAt     time.Time `json:"-"`
}

// Bank is an entry of the provider's bank directory.
type Bank struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// ResolvedAccount is the provider's answer for an account lookup.
type ResolvedAccount struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}
