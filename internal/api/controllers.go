package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"risk-core/internal/admission"
	"risk-core/internal/audit"
	"risk-core/internal/ledger"
	"risk-core/internal/risk"
	"risk-core/pkg/db"
	"risk-core/pkg/errs"
	"risk-core/pkg/i18n"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"ok":    false,
		"code":  code,
		"error": msg,
	})
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var v *errs.ValidationError
	if errors.As(err, &v) {
		c.JSON(http.StatusBadRequest, gin.H{
			"ok":      false,
			"code":    "VALIDATION_ERROR",
			"error":   err.Error(),
			"field":   v.Field,
			"message": validationMessage(v),
		})
		return
	}
	if pb, ok := errs.AsPolicyBlocked(err); ok {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"ok":          false,
			"accepted":    false,
			"code":        "POLICY_BLOCKED",
			"error":       pb.Error(),
			"gate":        pb.Gate,
			"reason":      pb.Reason,
			"symbol":      pb.Symbol,
			"pnlTodayUsd": pb.PnLTodayUSD,
			"limitUsd":    pb.LimitUSD,
			"message":     blockedMessage(pb),
		})
		return
	}
	switch {
	case errors.Is(err, errs.ErrCollaboratorUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ok":       false,
			"accepted": false,
			"code":     "QUEUE_UNAVAILABLE",
			"error":    err.Error(),
			"message":  i18n.M().QueueUnavailable,
		})
	case errors.Is(err, errs.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		respondError(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

func validationMessage(v *errs.ValidationError) string {
	m := i18n.M()
	switch v.Reason {
	case errs.ReasonRequired:
		return fmt.Sprintf(m.MissingField, v.Field)
	case errs.ReasonNotPositive:
		return fmt.Sprintf(m.NonPositiveField, v.Field)
	case errs.ReasonInvalidSide:
		return m.InvalidSide
	case errs.ReasonInvalidTimestamp:
		return fmt.Sprintf(m.InvalidTimestamp, v.Field)
	case errs.ReasonInvalidLimit:
		return m.InvalidGlobalLimit
	default:
		return m.InvalidRequest
	}
}

func blockedMessage(pb *errs.PolicyBlocked) string {
	m := i18n.M()
	switch pb.Gate {
	case string(risk.GateManualKillSwitch):
		return m.BlockedManualKillSwitch
	case string(risk.GateDailyDrawdown):
		return m.BlockedDailyDrawdown
	default:
		return fmt.Sprintf(m.BlockedSymbolDrawdown, pb.Symbol)
	}
}

func (s *Server) recordTrade(c *gin.Context) {
	var in ledger.TradeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", i18n.M().InvalidRequest)
		return
	}
	rec, err := s.Engine.RecordTrade(in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "trade": rec})
}

// getTradeStats accepts symbol, timeframe, from, to. Unparsable bounds are ignored.
func (s *Server) getTradeStats(c *gin.Context) {
	filter := ledger.StatsFilter{
		Symbol:    strings.TrimSpace(c.Query("symbol")),
		Timeframe: strings.TrimSpace(c.Query("timeframe")),
		From:      queryTime(c, "from"),
		To:        queryTime(c, "to"),
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "stats": s.Ledger.Stats(filter)})
}

func queryTime(c *gin.Context, key string) *time.Time {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	return &t
}

func (s *Server) getDailyPnL(c *gin.Context) {
	if s.Queries == nil {
		respondError(c, http.StatusServiceUnavailable, "MIRROR_DISABLED", "database mirror is disabled")
		return
	}
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))
	rows, err := s.Queries.DailyPnL(c.Request.Context(), c.Query("symbol"), days)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if rows == nil {
		rows = []db.DailyPnL{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "days": rows})
}

func (s *Server) enqueueSignal(c *gin.Context) {
	var in admission.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", i18n.M().InvalidRequest)
		return
	}
	job, err := s.Admission.Admit(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"accepted":       true,
		"jobId":          job.JobID,
		"idempotencyKey": job.IdempotencyKey,
		"message":        i18n.M().SignalAccepted,
	})
}

func (s *Server) setKillSwitch(c *gin.Context) {
	var req struct {
		Active any `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", i18n.M().InvalidRequest)
		return
	}
	active := s.Engine.SetKillSwitch(truthy(req.Active))
	s.log.Warn().Bool("active", active).Str("admin", CurrentAdmin(c)).Msg("manual kill switch set")
	c.JSON(http.StatusOK, gin.H{"ok": true, "active": active})
}

// truthy accepts true, 1 and "1"/"true"; anything else is off.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t == 1
	case string:
		return t == "1" || strings.EqualFold(t, "true")
	default:
		return false
	}
}

func (s *Server) getDrawdownLimit(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "global": s.Engine.GlobalStatus()})
}

func (s *Server) setDrawdownLimit(c *gin.Context) {
	var req struct {
		USD     *float64 `json:"usd"`
		Pct     *float64 `json:"pct"`
		BaseUSD *float64 `json:"baseUsd"`
		Base    *float64 `json:"base"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", i18n.M().InvalidRequest)
		return
	}
	if req.BaseUSD == nil {
		req.BaseUSD = req.Base
	}

	var limit risk.GlobalLimit
	switch {
	case req.USD != nil && *req.USD > 0:
		limit = risk.USDLimit(*req.USD)
	case req.Pct != nil && req.BaseUSD != nil:
		limit = risk.PercentLimit{Pct: *req.Pct, BaseUSD: *req.BaseUSD}
	}
	st, err := s.Engine.SetGlobalLimit(limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.log.Warn().Str("mode", string(st.Mode)).Float64("limit_usd", st.LimitUSD).Str("admin", CurrentAdmin(c)).Msg("global drawdown limit set")
	c.JSON(http.StatusOK, gin.H{"ok": true, "mode": st.Mode, "limitUsd": st.LimitUSD, "global": st})
}

func (s *Server) clearDrawdownLimit(c *gin.Context) {
	st := s.Engine.ClearGlobalLimit()
	s.log.Warn().Str("admin", CurrentAdmin(c)).Msg("global drawdown limit cleared")
	c.JSON(http.StatusOK, gin.H{"ok": true, "global": st})
}

func (s *Server) setSymbolLimit(c *gin.Context) {
	var req struct {
		Symbol string   `json:"symbol"`
		USD    *float64 `json:"usd"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", i18n.M().InvalidRequest)
		return
	}
	usd := 0.0
	if req.USD != nil {
		usd = *req.USD
	}
	st, err := s.Engine.SetSymbolLimit(req.Symbol, usd)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.log.Warn().Str("symbol", st.Symbol).Float64("limit_usd", st.LimitUSD).Str("admin", CurrentAdmin(c)).Msg("symbol drawdown limit set")
	c.JSON(http.StatusOK, gin.H{"ok": true, "symbol": st})
}

func (s *Server) getSymbolLimit(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	if symbol == "" {
		s.writeError(c, errs.Invalid("symbol", errs.ReasonRequired))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "symbol": s.Engine.SymbolStatus(symbol)})
}

func (s *Server) getRiskStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "risk": s.Engine.Status()})
}

// getRecentAudit returns up to limit events (default 50, capped at the buffer size), oldest first.
func (s *Server) getRecentAudit(c *gin.Context) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = audit.DefaultRecent
	}
	if limit > audit.DefaultCapacity {
		limit = audit.DefaultCapacity
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "events": s.Audit.Recent(limit)})
}

func (s *Server) exportAudit(c *gin.Context) {
	rc, err := s.Audit.Export()
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", i18n.M().AuditFileNotFound)
			return
		}
		s.writeError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", "application/jsonl; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="risk_audit.jsonl"`)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		s.log.Warn().Err(err).Msg("audit export interrupted")
	}
}

func (s *Server) getMetricsSummary(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_DISABLED", "metrics are disabled")
		return
	}
	records := 0
	if s.Ledger != nil {
		records = s.Ledger.Len()
	}
	summary, err := s.Metrics.Summary(records)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "summary": summary})
}
