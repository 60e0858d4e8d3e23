package api

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateRequestBody is the body of POST /api/requests/{side}
type CreateRequestBody struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type ManualMatchBody struct {
	FundingRequestID    uuid.UUID       `json:"funding_request_id"`
	WithdrawalRequestID uuid.UUID       `json:"withdrawal_request_id"`
	Amount              decimal.Decimal `json:"amount"`
}

type PoolMatchBody struct {
	RequestID uuid.UUID `json:"request_id"`
}

type ResolveDisputeBody struct {
	Resolution string `json:"resolution"`
}

type UnblockResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	Unblocked int       `json:"unblocked_wallets"`
}

type CancelResponse struct {
	RequestID uuid.UUID `json:"request_id"`
	Cancelled bool      `json:"cancelled"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
