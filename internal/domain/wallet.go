package domain

import "time"

// Wallet is the on-chain address a user last paid from.
type Wallet struct {
	ID              string    `json:"-"`
	UserID          string    `json:"user_id"`
	WalletAddress   string    `json:"wallet_address"`
	NetworkUsedLast string    `json:"network_used_last"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
