package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/smallbiznis/bankcore/internal/account/domain"
	"github.com/smallbiznis/bankcore/internal/service"
)

type Handler struct {
	svc *service.Service
	log *zap.Logger
}

func NewHandler(svc *service.Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log.Named("http")}
}

type openAccountRequest struct {
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

type amountRequest struct {
	IdempotencyKey uuid.UUID       `json:"idempotency_key" binding:"required"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
}

type statusChangeRequest struct {
	IdempotencyKey uuid.UUID `json:"idempotency_key" binding:"required"`
}

type transferRequest struct {
	IdempotencyKey uuid.UUID       `json:"idempotency_key" binding:"required"`
	FromAccountID  uuid.UUID       `json:"from_account_id" binding:"required"`
	ToAccountID    uuid.UUID       `json:"to_account_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
}

type submissionResponse struct {
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate"`
	Status    string `json:"status"`
}

func (h *Handler) OpenAccount(c *gin.Context) {
	var req openAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := h.svc.OpenAccount(c.Request.Context(), req.InitialBalance)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (h *Handler) GetAccount(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	account, err := h.svc.GetAccount(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *Handler) GetBalance(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	balance, err := h.svc.GetBalance(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "balance": balance})
}

func (h *Handler) GetHistory(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	entries, err := h.svc.History(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "entries": entries})
}

func (h *Handler) Deposit(c *gin.Context) {
	h.amountOp(c, h.svc.Deposit)
}

func (h *Handler) Withdraw(c *gin.Context) {
	h.amountOp(c, h.svc.Withdraw)
}

func (h *Handler) amountOp(c *gin.Context, op func(ctx context.Context, key, accountID uuid.UUID, amount decimal.Decimal) (bool, error)) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	accepted, err := op(c.Request.Context(), req.IdempotencyKey, id, req.Amount)
	if err != nil {
		h.renderError(c, err)
		return
	}
	h.renderSubmission(c, accepted)
}

func (h *Handler) statusOp(c *gin.Context, op func(ctx context.Context, key, accountID uuid.UUID) (bool, error)) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	var req statusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	accepted, err := op(c.Request.Context(), req.IdempotencyKey, id)
	if err != nil {
		h.renderError(c, err)
		return
	}
	h.renderSubmission(c, accepted)
}

func (h *Handler) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	accepted, err := h.svc.Transfer(c.Request.Context(), req.IdempotencyKey, req.FromAccountID, req.ToAccountID, req.Amount)
	if err != nil {
		h.renderError(c, err)
		return
	}
	h.renderSubmission(c, accepted)
}

func (h *Handler) Freeze(c *gin.Context) {
	h.statusOp(c, h.svc.Freeze)
}

func (h *Handler) Unfreeze(c *gin.Context) {
	h.statusOp(c, h.svc.Unfreeze)
}

func (h *Handler) CloseAccount(c *gin.Context) {
	h.statusOp(c, h.svc.CloseAccount)
}

func (h *Handler) GetTransactionStatus(c *gin.Context) {
	key, err := uuid.Parse(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid idempotency key"})
		return
	}
	status, err := h.svc.GetTransactionStatus(c.Request.Context(), key)
	if err != nil {
		h.renderError(c, err)
		return
	}
	code := http.StatusOK
	if status == service.StatusNotFound {
		code = http.StatusNotFound
	}
	c.JSON(code, gin.H{"idempotency_key": key, "status": status})
}

func (h *Handler) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) renderSubmission(c *gin.Context, accepted bool) {
	c.JSON(http.StatusAccepted, submissionResponse{
		Accepted:  accepted,
		Duplicate: !accepted,
		Status:    string(service.StatusPending),
	})
}

func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSelfTransfer):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
