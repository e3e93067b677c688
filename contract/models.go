package contract

import (
	"time"

	"github.com/shopspring/decimal"

	"escrowflow/fees"
	"escrowflow/milestone"
)

type Status string

const (
	StatusDraft     Status = "Draft"
	StatusPending   Status = "Pending"
	StatusAccepted  Status = "Accepted"
	StatusEscrow    Status = "Escrow"
	StatusDispute   Status = "Dispute"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
	StatusRejected  Status = "Rejected"
	StatusExpired   Status = "Expired"
)

var allStatuses = []Status{
	StatusDraft, StatusPending, StatusAccepted, StatusEscrow, StatusDispute,
	StatusCompleted, StatusCancelled, StatusRejected, StatusExpired,
}

func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports the soft-terminal states. They only affect dashboard
// counters; edits on terminal contracts are still accepted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Contract mirrors the contracts table. It is also the audit snapshot shape.
type Contract struct {
	ID                    int64                 `json:"id"`
	Title                 string                `json:"title"`
	Description           string                `json:"description"`
	TransactionType       string                `json:"transactionType"`
	CreatorID             int64                 `json:"creatorId"`
	BuyerID               *int64                `json:"buyerId,omitempty"`
	SellerID              *int64                `json:"sellerId,omitempty"`
	BuyerMobile           string                `json:"buyerMobile"`
	SellerMobile          string                `json:"sellerMobile"`
	FeeAmount             decimal.Decimal       `json:"feeAmount"`
	FeesPaidBy            fees.PayerPolicy      `json:"feesPaidBy"`
	CommissionRate        decimal.Decimal       `json:"commissionRate"`
	TaxRate               decimal.Decimal       `json:"taxRate"`
	EscrowTax             decimal.Decimal       `json:"escrowTax"`
	TaxAmount             decimal.Decimal       `json:"taxAmount"`
	BuyerPayableAmount    string                `json:"buyerPayableAmount"`
	SellerPayableAmount   string                `json:"sellerPayableAmount"`
	Status                Status                `json:"status"`
	StatusReason          *string               `json:"statusReason,omitempty"`
	EscrowStatusUpdatedAt *time.Time            `json:"escrowStatusUpdatedAt,omitempty"`
	IsActive              bool                  `json:"isActive"`
	IsDeleted             bool                  `json:"isDeleted"`
	CreatedAt             time.Time             `json:"createdAt"`
	CreatedBy             *int64                `json:"createdBy,omitempty"`
	LastModifiedAt        time.Time             `json:"lastModifiedAt"`
	LastModifiedBy        *int64                `json:"lastModifiedBy,omitempty"`
	Milestones            []milestone.Milestone `json:"milestones,omitempty"`
}

// IsParty reports whether userID is the creator, buyer or seller.
func (c Contract) IsParty(userID int64) bool {
	if userID == 0 {
		return false
	}
	return c.CreatorID == userID || eqID(c.BuyerID, userID) || eqID(c.SellerID, userID)
}

// RoleOf names the side userID plays on the contract, preferring buyer/seller
// over creator.
func (c Contract) RoleOf(userID int64) string {
	switch {
	case eqID(c.BuyerID, userID):
		return "buyer"
	case eqID(c.SellerID, userID):
		return "seller"
	case c.CreatorID == userID:
		return "creator"
	default:
		return ""
	}
}

// applySplit stores rates and the derived amounts on the contract.
func (c *Contract) applySplit(commissionRate, taxRate decimal.Decimal) {
	b := fees.Split(c.FeeAmount, commissionRate, taxRate, c.FeesPaidBy)
	c.CommissionRate = commissionRate
	c.TaxRate = taxRate
	c.EscrowTax = b.EscrowAmount
	c.TaxAmount = b.TaxAmount
	c.BuyerPayableAmount = b.BuyerPayable.String()
	c.SellerPayableAmount = b.SellerPayable.String()
}

func (c Contract) terms() milestone.Terms {
	return milestone.Terms{CommissionRate: c.CommissionRate, TaxRate: c.TaxRate, Policy: c.FeesPaidBy}
}

func eqID(p *int64, id int64) bool {
	return p != nil && *p == id
}

type CreateParams struct {
	Title           string
	Description     string
	TransactionType string
	BuyerName       string
	BuyerMobile     string
	SellerName      string
	SellerMobile    string
	FeeAmount       decimal.Decimal
	FeesPaidBy      string
	Milestones      []milestone.Input
}

// EditParams carries optional field updates; nil leaves the field unchanged.
type EditParams struct {
	ContractID      int64
	Title           *string
	Description     *string
	TransactionType *string
	BuyerName       string
	BuyerMobile     *string
	SellerName      string
	SellerMobile    *string
	FeeAmount       *decimal.Decimal
	FeesPaidBy      *string
	Remark          string
}

type StatusParams struct {
	ContractID int64
	Status     Status
	Reason     string
}

type ListFilter struct {
	UserID   int64
	Status   Status
	Page     int
	PageSize int
}

// Counts are dashboard counters over non-deleted contracts.
type Counts struct {
	Total    int64            `json:"total"`
	Active   int64            `json:"active"`
	Inactive int64            `json:"inactive"`
	ByStatus map[Status]int64 `json:"byStatus"`
}

// Result is a committed mutation plus notification warnings.
type Result struct {
	Contract Contract
	Warnings []string
}
