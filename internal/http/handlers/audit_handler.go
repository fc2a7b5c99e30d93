// Audit HTTP handlers.
//
// /audit/init hands out an interaction id in the tracking cookie; clients
// then post event batches to /audit/batch. Once a session has been quiet for
// the inactivity window its events are summarized and persisted in the
// background. The record endpoints read those results back.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-edge-state/internal/domain"
	"github.com/tbourn/go-edge-state/internal/http/middleware"
	"github.com/tbourn/go-edge-state/internal/sysutil"
	"github.com/tbourn/go-edge-state/internal/utils"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
)

// InitResponse is returned by POST /audit/init.
type InitResponse struct {
	Success       bool   `json:"success"`
	InteractionID string `json:"interaction_id"`
}

// BatchRequest is the JSON payload of POST /audit/batch. InteractionID may be
// omitted when the tracking cookie is present.
type BatchRequest struct {
	InteractionID string   `json:"interaction_id"`
	Event         []string `json:"event"`
}

// ListRecordsResponse wraps one page of an interaction's records.
type ListRecordsResponse struct {
	InteractionID string               `json:"interaction_id"`
	Records       []domain.FlushRecord `json:"records"`
	Page          int                  `json:"page"`
	PageSize      int                  `json:"page_size"`
	Total         int64                `json:"total"`
}

// InitAudit godoc
// @ID          initAudit
// @Summary     Start an interaction
// @Description Mints an interaction id and stores it in the tracking cookie.
// @Tags        Audit
// @Produce     json
//
// @Success     200  {object} handlers.InitResponse
// @Header      200  {string} Set-Cookie  "auth-track_interaction"
// @Router      /audit/init [post]
func (h *Handlers) InitAudit(c *gin.Context) {
	id := h.audit.StartInteraction()
	setCookie(c, CookieTracking, id, h.Cookies.InteractionTTL)
	ok(c, http.StatusOK, InitResponse{Success: true, InteractionID: id})
}

// AuditBatch godoc
// @ID          auditBatch
// @Summary     Buffer interaction events
// @Description Appends events to the interaction and re-arms its inactivity timer. The id falls back to the tracking cookie.
// @Tags        Audit
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.BatchRequest  true  "Events to buffer"
//
// @Success     200  {object} handlers.OKResponse
// @Failure     400  {object} handlers.ErrorResponse "Missing id, empty or oversized batch"
// @Failure     429  {object} handlers.ErrorResponse "Flood guard"
// @Failure     503  {object} handlers.ErrorResponse "Cache unavailable"
// @Router      /audit/batch [post]
func (h *Handlers) AuditBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	id := sysutil.FirstNonEmpty(req.InteractionID, cookie(c, CookieTracking))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "interaction_id is required")
		return
	}

	if err := h.audit.Record(c.Request.Context(), id, req.Event); err != nil {
		serviceError(c, err)
		return
	}
	middleware.LoggerFrom(c).Debug().
		Str("interaction_id", id).
		Int("events", len(req.Event)).
		Msg("events buffered")
	ok(c, http.StatusOK, OKResponse{OK: true})
}

// ListRecords godoc
// @ID          listRecords
// @Summary     List flush records (paginated)
// @Description Returns one page of an interaction's flush records, oldest first.
// @Tags        Audit
// @Produce     json
//
// @Param       id         path   string  true  "Interaction ID"  format(uuid)
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRecordsResponse
// @Failure     404  {object} handlers.ErrorResponse "Record storage disabled"
// @Failure     503  {object} handlers.ErrorResponse "Database unavailable"
// @Router      /audit/interactions/{id}/records [get]
func (h *Handlers) ListRecords(c *gin.Context) {
	id := c.Param("id")
	page, pageSize := utils.ParsePage(c.Query("page"), c.Query("page_size"), defaultPage, defaultPageSize)

	recs, total, err := h.records.List(c.Request.Context(), id, page, pageSize)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, ListRecordsResponse{
		InteractionID: id,
		Records:       recs,
		Page:          page,
		PageSize:      pageSize,
		Total:         total,
	})
}

// GetRecord godoc
// @ID          getRecord
// @Summary     Get a flush record
// @Tags        Audit
// @Produce     json
//
// @Param       id  path  string  true  "Record ID"  format(uuid)
//
// @Success     200  {object} domain.FlushRecord
// @Failure     404  {object} handlers.ErrorResponse "Not found or storage disabled"
// @Failure     503  {object} handlers.ErrorResponse "Database unavailable"
// @Router      /audit/records/{id} [get]
func (h *Handlers) GetRecord(c *gin.Context) {
	rec, err := h.records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}
