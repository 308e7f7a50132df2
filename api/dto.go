/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// UserDTO represents a user in API responses.
type UserDTO struct {
	ID       int64  `json:"user_id"`
	Username string `json:"username"`
}

// CreateUserRequest is the request to create a user.
type CreateUserRequest struct {
	Username string `json:"username"`
}

// PayerDTO represents a payer in API responses.
type PayerDTO struct {
	ID   int64  `json:"payer_id"`
	Name string `json:"payer"`
}

// CreatePayerRequest is the request to create a payer.
type CreatePayerRequest struct {
	Name string `json:"payer"`
}

// EntryDTO represents one ledger row in API responses. Points reflects the
// entry's current (possibly partially spent) value.
type EntryDTO struct {
	ID        int64  `json:"user_points_id"`
	PayerID   int64  `json:"payer_id"`
	Payer     string `json:"payer,omitempty"`
	Points    int64  `json:"points"`
	Timestamp string `json:"timestamp"`
}

// EarnRequest is the request to record earned points.
type EarnRequest struct {
	PayerID int64 `json:"payer_id"`
	Points  int64 `json:"points"`

	// Timestamp is RFC 3339. Empty means "now".
	Timestamp string `json:"timestamp,omitempty"`

	// IdempotencyKey guards against duplicate submission. Optional.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// SpendRequest is the request to spend points.
type SpendRequest struct {
	Points int64 `json:"points"`
}

// PayerPointsDTO pairs a payer with a point quantity. Used both for balance
// breakdowns (non-negative) and for spend deltas (negative).
type PayerPointsDTO struct {
	PayerID int64  `json:"payer_id"`
	Payer   string `json:"payer,omitempty"`
	Points  int64  `json:"points"`
}

// SpendResponse is returned after a successful spend.
type SpendResponse struct {
	SpendID string           `json:"spend_id"`
	Deltas  []PayerPointsDTO `json:"deltas"`
}

// BalanceDTO is the per-user balance summary.
type BalanceDTO struct {
	UserID int64            `json:"user_id"`
	Total  int64            `json:"total"`
	Payers []PayerPointsDTO `json:"payers"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
