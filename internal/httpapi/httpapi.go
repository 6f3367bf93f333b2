// Package httpapi exposes ApiEngine (spec §4.8) over HTTP. Grounded on the
// teacher's internal/proxy/handler.go for route registration shape (a
// Handler struct wired with its collaborators, a Register(*gin.RouterGroup)
// entry point) and internal/auth/middleware.go for the header-driven
// request-parsing idiom, adapted here from wallet-auth headers to a
// JSON voucher envelope.
package httpapi

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/felborne/voucher-gateway/internal/engine"
	"github.com/felborne/voucher-gateway/internal/voucher"
)

var (
	errInvalidSignatureLength = errors.New("httpapi: signature must be 65 bytes")
	errInvalidChainID         = errors.New("httpapi: invalid chain_id")
)

// Handler wires ApiEngine onto Gin routes.
type Handler struct {
	engine *engine.Engine
	log    *zap.Logger
}

func NewHandler(e *engine.Engine, log *zap.Logger) *Handler {
	return &Handler{engine: e, log: log}
}

// Register mounts the VGC admission/settlement routes onto rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/session/accept", h.handleAcceptSession)
	rg.POST("/query/accept", h.handleAcceptQuery)
	rg.POST("/query", h.handleQuery)
	rg.POST("/query/settle", h.handleSettleQuery)
}

// voucherDTO is the wire shape of a signed voucher (§4.4, §6).
type voucherDTO struct {
	Client            string `json:"client" binding:"required"`
	Vendor            string `json:"vendor" binding:"required"`
	Atoms             uint64 `json:"atoms"`
	Nonce             uint64 `json:"nonce"`
	Signature         string `json:"signature" binding:"required"` // 0x-prefixed 65-byte hex
	ChainID           string `json:"chain_id" binding:"required"`
	VerifyingContract string `json:"verifying_contract" binding:"required"`
}

func (d voucherDTO) toVoucher() (*voucher.SignedVoucher, error) {
	sigBytes := common.FromHex(d.Signature)
	if len(sigBytes) != 65 {
		return nil, errInvalidSignatureLength
	}
	chainID, ok := new(big.Int).SetString(d.ChainID, 10)
	if !ok {
		return nil, errInvalidChainID
	}
	var sig [65]byte
	copy(sig[:], sigBytes)
	return &voucher.SignedVoucher{
		Client:            common.HexToAddress(d.Client),
		Vendor:            common.HexToAddress(d.Vendor),
		Atoms:             d.Atoms,
		VNonce:            d.Nonce,
		Signature:         sig,
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(d.VerifyingContract),
	}, nil
}

func (h *Handler) handleAcceptSession(c *gin.Context) {
	var dto voucherDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := dto.toVoucher()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.AcceptSession(c.Request.Context(), v); err != nil {
		h.log.Debug("accept_session denied", zap.String("client", dto.Client), zap.Error(err))
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) handleAcceptQuery(c *gin.Context) {
	var dto voucherDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := dto.toVoucher()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.AcceptQuery(c.Request.Context(), v); err != nil {
		h.log.Debug("accept_query denied", zap.String("client", dto.Client), zap.Error(err))
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type queryRequest struct {
	Client     string `json:"client" binding:"required"`
	ApproxCost uint64 `json:"approx_cost"`
}

type queryResponse struct {
	LockedCost     uint64 `json:"locked_cost"`
	ShouldContinue bool   `json:"should_continue"`
}

func (h *Handler) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	qc, err := h.engine.Query(c.Request.Context(), common.HexToAddress(req.Client), req.ApproxCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, queryResponse{LockedCost: qc.LockedCost, ShouldContinue: qc.ShouldContinue})
}

type settleRequest struct {
	Client     string `json:"client" binding:"required"`
	LockedCost uint64 `json:"locked_cost"`
	ActualCost uint64 `json:"actual_cost"`
}

func (h *Handler) handleSettleQuery(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	qc := engine.QueryCont{LockedCost: req.LockedCost, ShouldContinue: true}
	if err := h.engine.SettleQuery(c.Request.Context(), common.HexToAddress(req.Client), qc, req.ActualCost); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
