package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/alarmdispatch/core/internal/breaker"
	"github.com/alarmdispatch/core/internal/dlq"
	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/alarmdispatch/core/internal/syscontrol"
	"github.com/alarmdispatch/core/internal/wire"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Handlers implements the admin/config HTTP surface spec §6 names as
// core-owned: circuit breaker read/reset, system-state pause/mock,
// DLQ list/reprocess, modem CRUD + package reset + usage report, and the
// alarm reprocess-pending-by-channel endpoint. Contacts/template CRUD are
// out of scope — they're external collaborators per spec §1.
type Handlers struct {
	breakers     *breaker.Set
	state        *syscontrol.Manager
	dlqStore     *dlq.Store
	reprocessor  *dlq.Reprocessor
	modems       repo.ModemRepository
	alarms       repo.AlarmRepository
	queue        repo.Queue
	logger       zerolog.Logger
}

func NewHandlers(
	breakers *breaker.Set,
	state *syscontrol.Manager,
	dlqStore *dlq.Store,
	reprocessor *dlq.Reprocessor,
	modems repo.ModemRepository,
	alarms repo.AlarmRepository,
	queue repo.Queue,
	logger *zerolog.Logger,
) *Handlers {
	return &Handlers{
		breakers:    breakers,
		state:       state,
		dlqStore:    dlqStore,
		reprocessor: reprocessor,
		modems:      modems,
		alarms:      alarms,
		queue:       queue,
		logger:      logger.With().Str("component", "admin_http").Logger(),
	}
}

// RegisterRoutes wires every admin route onto router.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	admin := router.Group("/admin")

	admin.GET("/breakers", h.listBreakers)
	admin.POST("/breakers/:channel/reset", h.resetBreaker)

	admin.GET("/state", h.getState)
	admin.POST("/state/pause", h.setPause)
	admin.POST("/state/mock", h.setMock)

	admin.GET("/dlq", h.listDLQ)
	admin.POST("/dlq/:id/reprocess", h.reprocessOneDLQ)
	admin.POST("/dlq/reprocess-batch", h.reprocessBatchDLQ)

	admin.GET("/modems", h.listModems)
	admin.GET("/modems/:id", h.getModem)
	admin.POST("/modems", h.createModem)
	admin.PUT("/modems/:id", h.updateModem)
	admin.DELETE("/modems/:id", h.deleteModem)
	admin.POST("/modems/:id/reset-package", h.resetModemPackage)
	admin.GET("/modems/:id/usage", h.modemUsage)

	admin.POST("/alarms/reprocess-pending", h.reprocessPendingAlarms)
}

func (h *Handlers) listBreakers(c *gin.Context) {
	out := make([]breakerResponse, 0, len(model.AllChannels))
	for _, ch := range model.AllChannels {
		out = append(out, breakerResponse{Channel: string(ch), State: h.breakers.State(ch).String()})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) resetBreaker(c *gin.Context) {
	ch := model.Channel(c.Param("channel"))
	if !validChannel(ch) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	h.breakers.ForceReset(ch)
	c.JSON(http.StatusOK, breakerResponse{Channel: string(ch), State: h.breakers.State(ch).String()})
}

func (h *Handlers) getState(c *gin.Context) {
	s := h.state.Current(c.Request.Context())
	c.JSON(http.StatusOK, stateResponse{
		Paused: s.Paused, PauseReason: s.PauseReason, PausedBy: s.PausedBy,
		MockSMS: s.MockSMS, MockEmail: s.MockEmail,
	})
}

func (h *Handlers) setPause(c *gin.Context) {
	var req pauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.state.SetPaused(c.Request.Context(), req.Paused, req.Reason, req.By); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.getState(c)
}

func (h *Handlers) setMock(c *gin.Context) {
	var req mockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.state.SetMock(c.Request.Context(), req.MockSMS, req.MockEmail); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.getState(c)
}

func (h *Handlers) listDLQ(c *gin.Context) {
	filter := repo.DLQFilter{
		Channel:   model.Channel(c.Query("channel")),
		ErrorType: c.Query("error_type"),
		Limit:     atoiOr(c.Query("limit"), 50),
	}
	if older := c.Query("older_than"); older != "" {
		if d, err := time.ParseDuration(older); err == nil {
			filter.OlderThan = d
		}
	}
	items, err := h.dlqStore.ListPending(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]dlqItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, dlqItemResponse{
			ID: it.ID, AlarmID: it.AlarmID, IMEI: it.IMEI, Channel: string(it.Channel),
			ErrorMessage: it.ErrorMessage, ErrorType: it.ErrorType, Attempts: it.Attempts,
			LastAttemptAt: it.LastAttemptAt, CreatedAt: it.CreatedAt,
			Reprocessed: it.Reprocessed, ReprocessedAt: it.ReprocessedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) reprocessOneDLQ(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.reprocessor.ReprocessOne(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reprocessed"})
}

func (h *Handlers) reprocessBatchDLQ(c *gin.Context) {
	var req dlqBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter := repo.DLQFilter{Channel: model.Channel(req.Channel), ErrorType: req.ErrorType, Limit: req.Limit}
	if req.OlderThan != "" {
		if d, err := time.ParseDuration(req.OlderThan); err == nil {
			filter.OlderThan = d
		}
	}
	replayed, err := h.reprocessor.ReprocessBatch(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"replayed": replayed})
}

func (h *Handlers) listModems(c *gin.Context) {
	modems, err := h.modems.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]modemResponse, 0, len(modems))
	for _, m := range modems {
		out = append(out, toModemResponse(m))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) getModem(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	m, err := h.modems.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "modem not found"})
		return
	}
	c.JSON(http.StatusOK, toModemResponse(*m))
}

func (h *Handlers) createModem(c *gin.Context) {
	var req modemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.modems.Create(c.Request.Context(), fromModemRequest(0, req))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handlers) updateModem(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req modemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.modems.Update(c.Request.Context(), fromModemRequest(id, req)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *Handlers) deleteModem(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.modems.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) resetModemPackage(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req packageResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.modems.ResetPackage(c.Request.Context(), id, req.Start, req.End); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (h *Handlers) modemUsage(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	since := time.Now().UTC().AddDate(0, 0, -30)
	if days := c.Query("days"); days != "" {
		if n, err := strconv.Atoi(days); err == nil {
			since = time.Now().UTC().AddDate(0, 0, -n)
		}
	}
	rows, err := h.modems.UsageReport(c.Request.Context(), id, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]usageResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, usageResponse{Date: r.Date.Format("2006-01-02"), Count: r.Count})
	}
	c.JSON(http.StatusOK, out)
}

// reprocessPendingAlarms enqueues pending alarms filtered by channel and
// limit back onto the bus (spec §6), for operators who want to replay
// alarms that were never sent rather than ones already terminal in the
// dead-letter store.
func (h *Handlers) reprocessPendingAlarms(c *gin.Context) {
	var req reprocessPendingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ch := model.Channel(req.Channel)
	if !validChannel(ch) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	ctx := c.Request.Context()
	pending, err := h.alarms.ListPending(ctx, ch, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	enqueued := 0
	for _, alarm := range pending {
		body, err := json.Marshal(wire.FromAlarm(alarm))
		if err != nil {
			h.logger.Error().Err(err).Int64("alarm_id", alarm.ID).Msg("failed to marshal alarm for requeue")
			continue
		}
		if err := h.queue.PublishDelayed(ctx, body, 0); err != nil {
			h.logger.Error().Err(err).Int64("alarm_id", alarm.ID).Msg("failed to requeue alarm")
			continue
		}
		enqueued++
	}
	c.JSON(http.StatusOK, gin.H{"enqueued": enqueued, "considered": len(pending)})
}

func toModemResponse(m model.Modem) modemResponse {
	return modemResponse{
		ID: m.ID, Name: m.Name, Host: m.Host, ModemID: m.ModemID, Enabled: m.Enabled,
		Priority: m.Priority, MaxConcurrentSMS: m.MaxConcurrentSMS, SMSSentCount: m.SMSSentCount,
		SMSLimit: m.SMSLimit, PackageCost: m.PackageCost, PackageCurrency: m.PackageCurrency,
		PackageStart: m.PackageStart, PackageEnd: m.PackageEnd, AllowedServices: m.AllowedServices,
		HealthStatus: string(m.HealthStatus), LastHealthCheck: m.LastHealthCheck, DedicatedIMEI: m.DedicatedIMEI,
	}
}

func fromModemRequest(id int64, req modemRequest) model.Modem {
	return model.Modem{
		ID: id, Name: req.Name, Host: req.Host, Credentials: req.Credentials,
		CertFingerprint: req.CertFingerprint, ModemID: req.ModemID, Enabled: req.Enabled,
		Priority: req.Priority, MaxConcurrentSMS: req.MaxConcurrentSMS, SMSLimit: req.SMSLimit,
		PackageCost: req.PackageCost, PackageCurrency: req.PackageCurrency,
		PackageStart: req.PackageStart, PackageEnd: req.PackageEnd,
		AllowedServices: req.AllowedServices, DedicatedIMEI: req.DedicatedIMEI,
	}
}

func validChannel(ch model.Channel) bool {
	for _, c := range model.AllChannels {
		if c == ch {
			return true
		}
	}
	return false
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
