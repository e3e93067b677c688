package dispute

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"escrowflow/contract"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusResolved   Status = "Resolved"
)

// ParseStatus matches raw against the dispute statuses, ignoring case.
func ParseStatus(raw string) (Status, error) {
	raw = strings.TrimSpace(raw)
	for _, s := range []Status{StatusPending, StatusInProgress, StatusResolved} {
		if strings.EqualFold(string(s), raw) {
			return s, nil
		}
	}
	return "", ErrInvalidStatus
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusInProgress:
		return 2
	case StatusResolved:
		return 3
	default:
		return 0
	}
}

// Record mirrors the disputes table.
type Record struct {
	ID                 int64               `json:"id"`
	ContractID         int64               `json:"contractId"`
	DisputeRaisedBy    int64               `json:"disputeRaisedBy"`
	DisputeReason      string              `json:"disputeReason"`
	DisputeDescription string              `json:"disputeDescription"`
	DisputeDoc         string              `json:"disputeDoc"`
	Status             Status              `json:"status"`
	ReleaseTo          *string             `json:"releaseTo,omitempty"`
	ReleaseAmount      decimal.NullDecimal `json:"releaseAmount"`
	BuyerNote          string              `json:"buyerNote"`
	SellerNote         string              `json:"sellerNote"`
	DisputeDateTime    time.Time           `json:"disputeDateTime"`
	ResolvedAt         *time.Time          `json:"resolvedAt,omitempty"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

type CreateParams struct {
	ContractID  int64
	Reason      string
	Description string
	Doc         string
}

// UpdateParams changes a dispute's status and resolution details. Nil fields
// are left unchanged. ContractStatus, when set, is applied to the contract in
// the same transaction and only together with StatusResolved.
type UpdateParams struct {
	DisputeID      int64
	Status         Status
	ReleaseTo      *string
	ReleaseAmount  *decimal.Decimal
	BuyerNote      *string
	SellerNote     *string
	ContractStatus contract.Status
}

type Result struct {
	Dispute  Record
	Contract contract.Contract
	Warnings []string
}
