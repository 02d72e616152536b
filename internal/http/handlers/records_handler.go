package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/avecha/wikigate/internal/domain"
	"github.com/avecha/wikigate/internal/linker"
	"github.com/avecha/wikigate/internal/services"
	"github.com/avecha/wikigate/internal/store"
)

// Handler bundles the collaborators the API endpoints need.
type Handler struct {
	Store *store.Store
	Gate  *services.GateService
	Links *linker.Registry
}

// New constructs the API handler set.
func New(st *store.Store, gate *services.GateService, links *linker.Registry) *Handler {
	return &Handler{Store: st, Gate: gate, Links: links}
}

// recordsResponse wraps the record list with its size.
type recordsResponse struct {
	Count   int             `json:"count"`
	Records []domain.Record `json:"records"`
}

// ListRecords returns every moderation record, ordered by user id.
//
//	GET /api/v1/records
func (h *Handler) ListRecords(c *gin.Context) {
	recs := h.Store.All()
	ok(c, http.StatusOK, recordsResponse{Count: len(recs), Records: recs})
}

// GetRecord returns the record for one user id.
//
//	GET /api/v1/records/:id
func (h *Handler) GetRecord(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id must be a numeric user id")
		return
	}
	rec, found := h.Store.Get(id)
	if !found {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "record not found")
		return
	}
	ok(c, http.StatusOK, rec)
}
