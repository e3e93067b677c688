package milestone

import (
	"time"

	"github.com/shopspring/decimal"

	"escrowflow/fees"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Milestone mirrors the milestones table.
type Milestone struct {
	ID                    int64           `json:"id"`
	ContractID            int64           `json:"contractId"`
	Name                  string          `json:"name"`
	Amount                decimal.Decimal `json:"amount"`
	Description           string          `json:"description"`
	DueDate               *time.Time      `json:"dueDate,omitempty"`
	Documents             []string        `json:"documents"`
	Status                Status          `json:"status"`
	MilestoneEscrowAmount decimal.Decimal `json:"milestoneEscrowAmount"`
	MilestoneTaxAmount    decimal.Decimal `json:"milestoneTaxAmount"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// Input is one incoming milestone. A zero ID, or an ID that does not belong to
// the contract, inserts a new row.
type Input struct {
	ID          int64
	Name        string
	Amount      decimal.Decimal
	Description string
	DueDate     *time.Time
	Documents   []string
	Status      Status
}

// Terms are the parent contract's split parameters applied to every milestone.
type Terms struct {
	CommissionRate decimal.Decimal
	TaxRate        decimal.Decimal
	Policy         fees.PayerPolicy
}
