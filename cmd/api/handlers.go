package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"escrowflow/commission"
	"escrowflow/contract"
	"escrowflow/dispute"
	"escrowflow/milestone"
)

type milestoneRequest struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	DueDate     *time.Time      `json:"dueDate"`
	Documents   []string        `json:"documents"`
	Status      string          `json:"status"`
}

func toInputs(reqs []milestoneRequest) []milestone.Input {
	out := make([]milestone.Input, 0, len(reqs))
	for _, m := range reqs {
		out = append(out, milestone.Input{
			ID:          m.ID,
			Name:        m.Name,
			Amount:      m.Amount,
			Description: m.Description,
			DueDate:     m.DueDate,
			Documents:   m.Documents,
			Status:      milestone.Status(m.Status),
		})
	}
	return out
}

type createContractRequest struct {
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	TransactionType string             `json:"transactionType"`
	BuyerName       string             `json:"buyerName"`
	BuyerMobile     string             `json:"buyerMobile"`
	SellerName      string             `json:"sellerName"`
	SellerMobile    string             `json:"sellerMobile"`
	FeeAmount       decimal.Decimal    `json:"feeAmount"`
	FeesPaidBy      string             `json:"feesPaidBy"`
	Milestones      []milestoneRequest `json:"milestones"`
}

type editContractRequest struct {
	Title           *string            `json:"title"`
	Description     *string            `json:"description"`
	TransactionType *string            `json:"transactionType"`
	BuyerName       string             `json:"buyerName"`
	BuyerMobile     *string            `json:"buyerMobile"`
	SellerName      string             `json:"sellerName"`
	SellerMobile    *string            `json:"sellerMobile"`
	FeeAmount       *decimal.Decimal   `json:"feeAmount"`
	FeesPaidBy      *string            `json:"feesPaidBy"`
	Remark          string             `json:"remark"`
	Milestones      []milestoneRequest `json:"milestones"`
}

func (req editContractRequest) params(contractID int64) contract.EditParams {
	return contract.EditParams{
		ContractID:      contractID,
		Title:           req.Title,
		Description:     req.Description,
		TransactionType: req.TransactionType,
		BuyerName:       req.BuyerName,
		BuyerMobile:     req.BuyerMobile,
		SellerName:      req.SellerName,
		SellerMobile:    req.SellerMobile,
		FeeAmount:       req.FeeAmount,
		FeesPaidBy:      req.FeesPaidBy,
		Remark:          req.Remark,
	}
}

func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	var req createContractRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.contracts.Create(r.Context(), actorFrom(r), contract.CreateParams{
		Title:           req.Title,
		Description:     req.Description,
		TransactionType: req.TransactionType,
		BuyerName:       req.BuyerName,
		BuyerMobile:     req.BuyerMobile,
		SellerName:      req.SellerName,
		SellerMobile:    req.SellerMobile,
		FeeAmount:       req.FeeAmount,
		FeesPaidBy:      req.FeesPaidBy,
		Milestones:      toInputs(req.Milestones),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusCreated, "contract.created", res.Contract, res.Warnings)
}

func (s *Server) handleEditContract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "contractID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req editContractRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.contracts.Edit(r.Context(), actorFrom(r), req.params(id))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "contract.updated", res.Contract, res.Warnings)
}

func (s *Server) handleModifyContract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "contractID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req editContractRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.contracts.Modify(r.Context(), actorFrom(r), req.params(id), toInputs(req.Milestones))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "contract.updated", res.Contract, res.Warnings)
}

func (s *Server) handleDeleteContract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "contractID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.contracts.Delete(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "contract.deleted", res.Contract, res.Warnings)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "contractID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := contract.ParseStatus(req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.contracts.UpdateStatus(r.Context(), actorFrom(r), contract.StatusParams{
		ContractID: id,
		Status:     status,
		Reason:     req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "contract.status_updated", res.Contract, res.Warnings)
}

func (s *Server) handleToggleActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "contractID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.contracts.ToggleActive(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "contract.active_toggled", res.Contract, res.Warnings)
}

func (s *Server) handleUpsertMilestones(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "contractID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Milestones []milestoneRequest `json:"milestones"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.contracts.UpsertMilestones(r.Context(), actorFrom(r), id, toInputs(req.Milestones))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "milestone.upserted", res.Contract, res.Warnings)
}

func (s *Server) handleDeleteMilestone(w http.ResponseWriter, r *http.Request) {
	contractID, err := pathID(r, "contractID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	milestoneID, err := pathID(r, "milestoneID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.contracts.DeleteMilestone(r.Context(), actorFrom(r), contractID, milestoneID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "milestone.deleted", res.Contract, res.Warnings)
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "contractID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.contracts.Get(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "contract.fetched", c, nil)
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := contract.ListFilter{
		Page:     atoiDefault(q.Get("page"), 1),
		PageSize: atoiDefault(q.Get("pageSize"), 20),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := contract.ParseStatus(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		filter.Status = status
	}
	items, err := s.contracts.List(r.Context(), actorFrom(r), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "common.success", map[string]any{
		"items": items,
		"page":  filter.Page,
	}, nil)
}

func (s *Server) handleContractCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.contracts.Counts(r.Context(), actorFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "common.success", counts, nil)
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "contractID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.contracts.AuditLog(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "common.success", map[string]any{"items": entries}, nil)
}

type createDisputeRequest struct {
	Reason      string `json:"disputeReason"`
	Description string `json:"disputeDescription"`
	Doc         string `json:"disputeDoc"`
}

func (s *Server) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "contractID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createDisputeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.disputes.Create(r.Context(), actorFrom(r), dispute.CreateParams{
		ContractID:  id,
		Reason:      req.Reason,
		Description: req.Description,
		Doc:         req.Doc,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusCreated, "dispute.created", res.Dispute, res.Warnings)
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "contractID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.disputes.List(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "dispute.fetched", map[string]any{"items": records}, nil)
}

type updateDisputeRequest struct {
	Status         string           `json:"status"`
	ReleaseTo      *string          `json:"releaseTo"`
	ReleaseAmount  *decimal.Decimal `json:"releaseAmount"`
	BuyerNote      *string          `json:"buyerNote"`
	SellerNote     *string          `json:"sellerNote"`
	ContractStatus string           `json:"contractStatus"`
}

func (s *Server) handleUpdateDispute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "disputeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateDisputeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := dispute.ParseStatus(req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	params := dispute.UpdateParams{
		DisputeID:     id,
		Status:        status,
		ReleaseTo:     req.ReleaseTo,
		ReleaseAmount: req.ReleaseAmount,
		BuyerNote:     req.BuyerNote,
		SellerNote:    req.SellerNote,
	}
	if req.ContractStatus != "" {
		status, err := contract.ParseStatus(req.ContractStatus)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		params.ContractStatus = status
	}
	res, err := s.disputes.UpdateStatus(r.Context(), actorFrom(r), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "dispute.updated", map[string]any{
		"dispute":  res.Dispute,
		"contract": res.Contract,
	}, res.Warnings)
}

type commissionRequest struct {
	TransactionType string           `json:"transactionType"`
	CommissionRate  decimal.Decimal  `json:"commissionRate"`
	TaxRate         decimal.Decimal  `json:"taxRate"`
	AppliedGlobally bool             `json:"appliedGlobally"`
	MinAmount       *decimal.Decimal `json:"minAmount"`
}

func (s *Server) handleListCommissions(w http.ResponseWriter, r *http.Request) {
	items, err := s.commissions.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "commission.fetched", map[string]any{"items": items}, nil)
}

// handleUpsertCommission creates on POST and overwrites the addressed row on PUT.
func (s *Server) handleUpsertCommission(w http.ResponseWriter, r *http.Request) {
	var id int64
	if r.Method == http.MethodPut {
		parsed, err := pathID(r, "commissionID")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		id = parsed
	}
	var req commissionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	saved, err := s.commissions.Upsert(r.Context(), commission.UpsertParams{
		ID:              id,
		TransactionType: req.TransactionType,
		CommissionRate:  req.CommissionRate,
		TaxRate:         req.TaxRate,
		AppliedGlobally: req.AppliedGlobally,
		MinAmount:       req.MinAmount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if id == 0 {
		status = http.StatusCreated
	}
	s.writeSuccess(w, r, status, "commission.saved", saved, nil)
}

func (s *Server) handleSetGlobalCommission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "commissionID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.commissions.SetGlobal(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "commission.global_set", map[string]int64{"id": id}, nil)
}

func (s *Server) handleDeleteCommission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "commissionID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.commissions.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "commission.deleted", map[string]int64{"id": id}, nil)
}

func (s *Server) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mobile string `json:"mobile"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.auth.RequestOTP(r.Context(), req.Mobile); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "auth.otp_sent", nil, nil)
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mobile string `json:"mobile"`
		Code   string `json:"code"`
		Name   string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.auth.VerifyOTP(r.Context(), req.Mobile, req.Code, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "auth.logged_in", map[string]any{
		"token": res.Token,
		"user":  res.User,
	}, nil)
}

func (s *Server) handleDeviceToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceToken string `json:"deviceToken"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.auth.SetDeviceToken(r.Context(), actorFrom(r).UserID, req.DeviceToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, http.StatusOK, "auth.device_token_saved", nil, nil)
}

func atoiDefault(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
