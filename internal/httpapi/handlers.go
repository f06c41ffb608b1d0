package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"guest-messaging/internal/auth"
	"guest-messaging/internal/chatlog"
	"guest-messaging/internal/guests"
	"guest-messaging/internal/models"
	"guest-messaging/internal/reporting"
	"guest-messaging/internal/store"
	"guest-messaging/internal/usage"
	"guest-messaging/pkg/logger"

	"github.com/gin-gonic/gin"
)

// maxImportRows bounds one import batch; callers chunk larger lists.
const maxImportRows = 500

// Handlers groups admin HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Store    store.Store
	Guests   *guests.Service
	Importer *guests.Importer
	// Counts is optional; without it counts are read from the store.
	Counts  *guests.CountCache
	Logs    *chatlog.Service
	Reports *reporting.Service
	Usage   *usage.Service
}

func organizationID(c *gin.Context) (string, bool) {
	oid, err := auth.OrganizationID(c.Request.Context())
	if err != nil || oid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
		return "", false
	}
	return oid, true
}

// eventScope resolves :event_id and checks it belongs to the caller's
// organization. Other organizations' events read as not found.
func (h Handlers) eventScope(c *gin.Context) (guests.Scope, bool) {
	oid, ok := organizationID(c)
	if !ok {
		return guests.Scope{}, false
	}
	eventID := c.Param("event_id")
	if _, err := h.Store.GetEvent(c.Request.Context(), oid, eventID); err != nil {
		writeError(c, err)
		return guests.Scope{}, false
	}
	return guests.Scope{OrganizationID: oid, EventID: eventID}, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, guests.ErrGroupHasMembers):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "guest leads a party with other members; remove them first"})
	case errors.Is(err, guests.ErrInvalidArgument), errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h Handlers) Me(c *gin.Context) {
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	oid, _ := auth.OrganizationID(ctx)
	role, _ := auth.Role(ctx)
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "organization_id": oid, "role": role})
}

// --- Guests ---

type importRequest struct {
	Rows []guests.ImportRow `json:"rows"`
}

// ImportGuests processes one batch. Per-row failures are in the report; the
// request itself only fails on bad input.
func (h Handlers) ImportGuests(c *gin.Context) {
	scope, ok := h.eventScope(c)
	if !ok {
		return
	}
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.Rows) == 0 || len(req.Rows) > maxImportRows {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "rows must contain 1 to " + strconv.Itoa(maxImportRows) + " entries"})
		return
	}

	report, err := h.Importer.Import(c.Request.Context(), scope, req.Rows)
	if err != nil {
		writeError(c, err)
		return
	}
	if report.Failed > 0 {
		logger.FromGin(c).Warn("guest import had failures", "event_id", scope.EventID, "failed", report.Failed)
	}
	c.JSON(http.StatusOK, report)
}

func (h Handlers) GuestCount(c *gin.Context) {
	scope, ok := h.eventScope(c)
	if !ok {
		return
	}
	load := func(ctx context.Context) (int, error) { return h.Store.CountGuests(ctx, scope.EventID) }

	var (
		n   int
		err error
	)
	if h.Counts != nil {
		n, err = h.Counts.Get(c.Request.Context(), scope.EventID, load)
	} else {
		n, err = load(c.Request.Context())
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": scope.EventID, "count": n})
}

// DeleteGuest applies the same lead-refusal policy as the chat tools.
func (h Handlers) DeleteGuest(c *gin.Context) {
	scope, ok := h.eventScope(c)
	if !ok {
		return
	}
	if _, err := h.Guests.Delete(c.Request.Context(), scope, c.Param("guest_id")); err != nil {
		if errors.Is(err, guests.ErrGroupHasMembers) {
			logger.FromGin(c).Info("refused lead deletion", "guest_id", c.Param("guest_id"))
		}
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Chat ---

func (h Handlers) SessionLogs(c *gin.Context) {
	oid, ok := organizationID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.Logs.Timeline(c.Request.Context(), oid, c.Param("session_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("session_id"), "logs": logs})
}

// --- Reports ---

// DeliveryReport defaults to the last 30 days; from/to are RFC3339.
func (h Handlers) DeliveryReport(c *gin.Context) {
	oid, ok := organizationID(c)
	if !ok {
		return
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		to = t
	}

	out, err := h.Reports.DeliverySummary(c.Request.Context(), reporting.DeliverySummaryRequest{
		OrganizationID: oid,
		Range:          reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// UsageReport returns monthly counters; from/to are YYYY-MM and default to
// the current month.
func (h Handlers) UsageReport(c *gin.Context) {
	oid, ok := organizationID(c)
	if !ok {
		return
	}
	current := models.UsagePeriod(time.Now())
	from := c.DefaultQuery("from", current)
	to := c.DefaultQuery("to", from)

	if from == to {
		counter, err := h.Usage.GetUsage(c.Request.Context(), oid, from)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, reporting.UsageSummary{
			OrganizationID: oid,
			Months:         []models.UsageCounter{counter},
			TotalMessages:  counter.MessagesCount,
		})
		return
	}

	out, err := h.Reports.UsageSummary(c.Request.Context(), reporting.UsageSummaryRequest{
		OrganizationID: oid, FromPeriod: from, ToPeriod: to,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
