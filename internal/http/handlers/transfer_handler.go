// README: Store-to-store transfer handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropmart/internal/logger"
	"dropmart/internal/modules/transfer"
	"dropmart/internal/types"
)

type TransferHandler struct {
	transfers *transfer.Service
	log       *zap.Logger
}

func NewTransferHandler(svc *transfer.Service, log *zap.Logger) *TransferHandler {
	return &TransferHandler{transfers: svc, log: logger.OrNop(log)}
}

type createTransferReq struct {
	FromStoreID string `json:"fromStoreId" binding:"required"`
	ToStoreID   string `json:"toStoreId" binding:"required,nefield=FromStoreID"`
	Items       []struct {
		ProductID string `json:"productId" binding:"required"`
		Quantity  int    `json:"quantity" binding:"required,gt=0"`
	} `json:"items" binding:"required,min=1,dive"`
	Notes string `json:"notes" binding:"max=500"`
}

func (h *TransferHandler) Create(c *gin.Context) {
	var req createTransferReq
	if !bindJSON(c, &req) {
		return
	}
	if !ownsStore(c, types.ID(req.FromStoreID)) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	uid, _ := caller(c)
	items := make([]transfer.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = transfer.Item{ProductID: types.ID(it.ProductID), Quantity: it.Quantity}
	}
	t, err := h.transfers.Create(c.Request.Context(), transfer.CreateCommand{
		FromStoreID: types.ID(req.FromStoreID),
		ToStoreID:   types.ID(req.ToStoreID),
		Items:       items,
		InitiatedBy: uid,
		Notes:       req.Notes,
	})
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, t)
}

func (h *TransferHandler) Get(c *gin.Context) {
	t, ok := h.load(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func (h *TransferHandler) Dispatch(c *gin.Context) { h.move(c, h.transfers.Dispatch) }
func (h *TransferHandler) Complete(c *gin.Context) { h.move(c, h.transfers.Complete) }
func (h *TransferHandler) Cancel(c *gin.Context)   { h.move(c, h.transfers.Cancel) }

func (h *TransferHandler) move(c *gin.Context, fn func(ctx context.Context, id, actor types.ID) (*transfer.Transfer, error)) {
	t, ok := h.load(c)
	if !ok {
		return
	}
	uid, _ := caller(c)
	t, err := fn(c.Request.Context(), t.ID, uid)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

// load fetches the transfer and checks that the caller is an admin or one of its two stores.
func (h *TransferHandler) load(c *gin.Context) (*transfer.Transfer, bool) {
	t, err := h.transfers.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDomainError(c, h.log, err)
		return nil, false
	}
	if !ownsStore(c, t.FromStoreID) && !ownsStore(c, t.ToStoreID) {
		writeError(c, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return t, true
}
