package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is owned by the account services; the matching core only reads balance and
// blocked state, moves balance on settlement and sets the blocked flag on default.
type Wallet struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	UserID         uuid.UUID       `db:"user_id" json:"user_id"`
	Currency       string          `db:"currency" json:"currency"`
	Balance        decimal.Decimal `db:"balance" json:"balance"`
	TotalDeposited decimal.Decimal `db:"total_deposited" json:"total_deposited"`
	IsBlocked      bool            `db:"is_blocked" json:"is_blocked"`
	BlockReason    string          `db:"block_reason" json:"block_reason"`
	BankDetailsID  uuid.NullUUID   `db:"bank_details_id" json:"bank_details_id"`
	WalletAddress  string          `db:"wallet_address" json:"wallet_address"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

type BalanceChangeType string

const (
	BalanceDeposit    BalanceChangeType = "DEPOSIT"
	BalanceWithdrawal BalanceChangeType = "WITHDRAWAL"
)

// BalanceChange is the wallet history row appended for every settlement movement.
type BalanceChange struct {
	ID           uuid.UUID         `db:"id" json:"id"`
	WalletID     uuid.UUID         `db:"wallet_id" json:"wallet_id"`
	Type         BalanceChangeType `db:"type" json:"type"`
	Amount       decimal.Decimal   `db:"amount" json:"amount"`
	BalanceAfter decimal.Decimal   `db:"balance_after" json:"balance_after"`
	Description  string            `db:"description" json:"description"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
}

// AdminWallet is the per-currency liquidity pool used as counterparty of last resort.
type AdminWallet struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	Currency      string          `db:"currency" json:"currency"`
	Balance       decimal.Decimal `db:"balance" json:"balance"`
	TotalFunded   decimal.Decimal `db:"total_funded" json:"total_funded"`
	TotalReceived decimal.Decimal `db:"total_received" json:"total_received"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}
