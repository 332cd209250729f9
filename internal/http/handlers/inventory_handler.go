// README: Inventory ledger handlers for vendors and admins.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropmart/internal/logger"
	"dropmart/internal/modules/inventory"
	"dropmart/internal/types"
)

type InventoryHandler struct {
	ledger *inventory.Ledger
	log    *zap.Logger
}

func NewInventoryHandler(ledger *inventory.Ledger, log *zap.Logger) *InventoryHandler {
	return &InventoryHandler{ledger: ledger, log: logger.OrNop(log)}
}

type applyTxnReq struct {
	StoreID     string `json:"storeId" binding:"required"`
	ProductID   string `json:"productId" binding:"required"`
	Quantity    int    `json:"quantity" binding:"required"`
	Type        string `json:"type" binding:"required,oneof=restock sale return adjustment transfer"`
	ReferenceID string `json:"referenceId"`
	Notes       string `json:"notes" binding:"max=500"`
}

func (h *InventoryHandler) ApplyTransaction(c *gin.Context) {
	var req applyTxnReq
	if !bindJSON(c, &req) {
		return
	}
	if !ownsStore(c, types.ID(req.StoreID)) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	uid, _ := caller(c)
	t, err := h.ledger.ApplyTransaction(c.Request.Context(), inventory.Entry{
		StoreID:     types.ID(req.StoreID),
		ProductID:   types.ID(req.ProductID),
		Delta:       req.Quantity,
		Kind:        inventory.Kind(req.Type),
		ReferenceID: req.ReferenceID,
		Actor:       uid,
		Notes:       req.Notes,
	})
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, t)
}

func (h *InventoryHandler) Stock(c *gin.Context) {
	rec, err := h.ledger.GetStock(c.Request.Context(), types.ID(c.Param("storeId")), types.ID(c.Param("productId")))
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (h *InventoryHandler) LowStock(c *gin.Context) {
	storeID := types.ID(c.Param("storeId"))
	if !ownsStore(c, storeID) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	recs, err := h.ledger.GetLowStock(c.Request.Context(), storeID)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	if recs == nil {
		recs = []inventory.StockRecord{}
	}
	writeJSON(c, http.StatusOK, gin.H{"items": recs})
}

// Availability accepts productId repeated or comma separated.
func (h *InventoryHandler) Availability(c *gin.Context) {
	var ids []types.ID
	for _, raw := range c.QueryArray("productId") {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				ids = append(ids, types.ID(p))
			}
		}
	}
	if len(ids) == 0 {
		writeError(c, http.StatusBadRequest, "productId required")
		return
	}
	avail, err := h.ledger.GetAvailability(c.Request.Context(), ids)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, avail)
}

type thresholdsReq struct {
	MinStockLevel int `json:"minStockLevel" binding:"gte=0"`
	MaxStockLevel int `json:"maxStockLevel" binding:"gtefield=MinStockLevel"`
	ReorderPoint  int `json:"reorderPoint" binding:"gte=0"`
}

func (h *InventoryHandler) SetThresholds(c *gin.Context) {
	var req thresholdsReq
	if !bindJSON(c, &req) {
		return
	}
	storeID := types.ID(c.Param("storeId"))
	if !ownsStore(c, storeID) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	rec, err := h.ledger.SetThresholds(c.Request.Context(), storeID, types.ID(c.Param("productId")),
		req.MinStockLevel, req.MaxStockLevel, req.ReorderPoint)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (h *InventoryHandler) History(c *gin.Context) {
	storeID := types.ID(c.Param("storeId"))
	if !ownsStore(c, storeID) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	txns, err := h.ledger.History(c.Request.Context(), storeID, types.ID(c.Param("productId")), limit)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	if txns == nil {
		txns = []inventory.Transaction{}
	}
	writeJSON(c, http.StatusOK, gin.H{"transactions": txns})
}
