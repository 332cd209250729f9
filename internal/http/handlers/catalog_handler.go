// README: Catalog administration and nearby vendor lookup.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropmart/internal/logger"
	"dropmart/internal/modules/catalog"
	"dropmart/internal/modules/location"
	"dropmart/internal/types"
)

const defaultNearbyKm = 5.0

type CatalogHandler struct {
	catalog *catalog.Service
	index   *location.VendorIndex
	log     *zap.Logger
}

func NewCatalogHandler(svc *catalog.Service, index *location.VendorIndex, log *zap.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: svc, index: index, log: logger.OrNop(log)}
}

type productReq struct {
	ID       string `json:"id" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Category string `json:"category"`
	Price    int64  `json:"price" binding:"gte=0"`
	Currency string `json:"currency" binding:"omitempty,len=3"`
	Unit     string `json:"unit"`
}

func (h *CatalogHandler) RegisterProduct(c *gin.Context) {
	var req productReq
	if !bindJSON(c, &req) {
		return
	}
	p := catalog.Product{
		ID:        types.ID(req.ID),
		Name:      req.Name,
		Category:  req.Category,
		UnitPrice: types.Money{Amount: req.Price, Currency: req.Currency},
		Unit:      req.Unit,
	}
	if err := h.catalog.RegisterProduct(c.Request.Context(), p); err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, p)
}

type vendorReq struct {
	ID      string  `json:"id" binding:"required"`
	Name    string  `json:"name" binding:"required"`
	Kind    string  `json:"kind" binding:"required,oneof=grocery restaurant"`
	Lat     float64 `json:"lat" binding:"latitude"`
	Lng     float64 `json:"lng" binding:"longitude"`
	Address string  `json:"address"`
}

func (h *CatalogHandler) RegisterVendor(c *gin.Context) {
	var req vendorReq
	if !bindJSON(c, &req) {
		return
	}
	v := catalog.Vendor{
		ID:       types.ID(req.ID),
		Name:     req.Name,
		Kind:     catalog.VendorKind(req.Kind),
		Location: types.Point{Lat: req.Lat, Lng: req.Lng},
		Address:  req.Address,
	}
	if err := h.catalog.RegisterVendor(c.Request.Context(), v); err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, v)
}

func (h *CatalogHandler) Nearby(c *gin.Context) {
	if h.index == nil {
		writeError(c, http.StatusServiceUnavailable, "vendor index not configured")
		return
	}
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng required")
		return
	}
	radius := defaultNearbyKm
	if raw := c.Query("radiusKm"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r <= 0 {
			writeError(c, http.StatusBadRequest, "invalid radiusKm")
			return
		}
		radius = r
	}
	out, err := h.index.NearbyVendors(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		writeDomainError(c, h.log, err)
		return
	}
	if out == nil {
		out = []location.Nearby{}
	}
	writeJSON(c, http.StatusOK, gin.H{"vendors": out})
}
