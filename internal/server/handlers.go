package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rfonn/betguard/internal/audit"
	"github.com/rfonn/betguard/internal/counter"
	"github.com/rfonn/betguard/internal/engine"
	"github.com/rfonn/betguard/internal/logging"
	"github.com/rfonn/betguard/internal/metrics"
	"github.com/rfonn/betguard/internal/money"
	"github.com/rfonn/betguard/internal/traces"
	"github.com/rfonn/betguard/internal/validation"
)

// CheckTransactionRequest is the payload for POST /api/v1/check-transaction
type CheckTransactionRequest struct {
	TransactionID string  `json:"transaction_id"`
	UserID        string  `json:"user_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Type          string  `json:"type"`
}

// CheckTransactionResponse is the decision returned to the wallet backend
type CheckTransactionResponse struct {
	Allowed         bool    `json:"allowed"`
	RiskScore       int     `json:"risk_score"`
	FlagReason      string  `json:"flag_reason"`
	Current24hTotal float64 `json:"current_24h_total"`
}

// RecordWagerRequest is the payload for POST /api/v1/record-wager
type RecordWagerRequest struct {
	UserID      string  `json:"user_id"`
	WagerAmount float64 `json:"wager_amount"`
}

// RecordWagerResponse confirms a recorded wager
type RecordWagerResponse struct {
	Success         bool    `json:"success"`
	UserID          string  `json:"user_id"`
	TotalWagered24h float64 `json:"total_wagered_24h"`
}

func (s *Server) checkTransactionHandler(c *gin.Context) {
	var req CheckTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	req.UserID = validation.SanitizeString(req.UserID, validation.MaxIDLength)
	req.TransactionID = validation.SanitizeString(req.TransactionID, validation.MaxIDLength)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = "USD"
	}
	txnType := strings.ToUpper(strings.TrimSpace(req.Type))

	if errs := validation.Validate(
		validation.Required("user_id", req.UserID),
		validation.Required("transaction_id", req.TransactionID),
		validation.PositiveAmount("amount", req.Amount, s.cfg.MaxCheckAmount),
		validation.OneOf("currency", req.Currency, s.cfg.AllowedCurrencies),
		validation.OneOf("transaction_type", txnType, []string{string(engine.TypeDeposit), string(engine.TypeWithdrawal)}),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	ctx, span := traces.StartSpan(c.Request.Context(), "engine.CheckTransaction",
		traces.UserID(req.UserID),
		traces.TxnID(req.TransactionID),
		traces.TxnType(txnType),
		traces.Amount(req.Amount),
	)
	defer span.End()

	// Idempotency: a transaction ID we have already judged gets a
	// replay of the stored verdict, without touching any counter.
	if prior, err := s.audit.GetByExternalID(ctx, req.TransactionID); err == nil {
		c.JSON(http.StatusOK, replayResponse(prior))
		return
	} else if !errors.Is(err, audit.ErrNotFound) {
		logging.Txn(ctx, req.UserID, req.TransactionID).Error("audit lookup failed", "error", err)
		c.JSON(http.StatusOK, CheckTransactionResponse{
			Allowed:    false,
			RiskScore:  100,
			FlagReason: "System error: Unable to verify transaction history",
		})
		return
	}

	start := time.Now()
	outcome := s.engine.CheckTransaction(ctx, req.UserID, req.Amount, engine.Type(txnType))
	metrics.CheckDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(traces.RiskScore(outcome.RiskScore))

	decision := "allowed"
	if !outcome.Allowed {
		decision = "denied"
		metrics.DenialsTotal.WithLabelValues(ruleLabel(outcome.Reason)).Inc()
	}
	metrics.ChecksTotal.WithLabelValues(txnType, decision).Inc()

	rec := &audit.Record{
		UserID:        req.UserID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		ExternalTxnID: req.TransactionID,
		Type:          txnType,
		Flagged:       !outcome.Allowed,
		FlagReason:    outcome.Reason,
	}
	if err := s.audit.Create(ctx, rec); err != nil {
		if errors.Is(err, audit.ErrDuplicate) {
			// Lost a race with a concurrent retry; replay its verdict.
			if prior, getErr := s.audit.GetByExternalID(ctx, req.TransactionID); getErr == nil {
				c.JSON(http.StatusOK, replayResponse(prior))
				return
			}
		}
		logging.Txn(ctx, req.UserID, req.TransactionID).Error("failed to record audit entry", "error", err)
	}

	if !outcome.Allowed {
		logging.Txn(ctx, req.UserID, req.TransactionID).Warn("transaction denied",
			"type", txnType,
			"risk_score", outcome.RiskScore,
			"reason", outcome.Reason,
		)
	}

	c.JSON(http.StatusOK, CheckTransactionResponse{
		Allowed:         outcome.Allowed,
		RiskScore:       outcome.RiskScore,
		FlagReason:      outcome.Reason,
		Current24hTotal: outcome.RunningTotal,
	})
}

// replayResponse rebuilds a decision from a stored audit record. The
// 24h total is reported as zero because the counters have moved on
// since the original call.
func replayResponse(rec *audit.Record) CheckTransactionResponse {
	score := 0
	if rec.Flagged {
		score = 100
	}
	return CheckTransactionResponse{
		Allowed:         !rec.Flagged,
		RiskScore:       score,
		FlagReason:      rec.FlagReason,
		Current24hTotal: 0,
	}
}

func (s *Server) recordWagerHandler(c *gin.Context) {
	var req RecordWagerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	req.UserID = validation.SanitizeString(req.UserID, validation.MaxIDLength)
	if errs := validation.Validate(
		validation.Required("user_id", req.UserID),
		validation.PositiveAmount("wager_amount", req.WagerAmount, engine.MaxWagerAmount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	ctx, span := traces.StartSpan(c.Request.Context(), "engine.RecordWager",
		traces.UserID(req.UserID),
		traces.Amount(req.WagerAmount),
	)
	defer span.End()

	result := s.engine.RecordWager(ctx, req.UserID, req.WagerAmount)

	if result.Success {
		metrics.WagersTotal.WithLabelValues("recorded").Inc()
	} else {
		metrics.WagersTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "wager_not_recorded",
			"message": result.Reason,
		})
		return
	}

	c.JSON(http.StatusOK, RecordWagerResponse{
		Success:         true,
		UserID:          req.UserID,
		TotalWagered24h: result.TotalWagered24h,
	})
}

func (s *Server) userStatsHandler(c *gin.Context) {
	userID := validation.SanitizeString(c.Param("id"), validation.MaxIDLength)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": "user id is required",
		})
		return
	}

	ctx := c.Request.Context()

	stats := gin.H{"user_id": userID}
	for _, m := range []struct {
		field  string
		metric string
		asUSD  bool
	}{
		{"current_24h_deposits", counter.MetricDepositVolume24h, true},
		{"current_24h_withdrawals", counter.MetricWithdrawalVolume24h, true},
		{"current_1h_withdrawal_count", counter.MetricWithdrawalCount1h, false},
		{"current_24h_withdrawal_count", counter.MetricWithdrawalCount24h, false},
		{"current_24h_wagered", counter.MetricWagered24h, true},
	} {
		val, _, err := s.counters.Get(ctx, counter.Key(userID, m.metric))
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "store_unavailable",
				"message": "Unable to read activity counters",
			})
			return
		}
		if m.asUSD {
			stats[m.field] = money.FromCents(val)
		} else {
			stats[m.field] = val
		}
	}

	flagged, err := s.audit.CountFlagged(ctx, userID)
	if err != nil {
		logging.L(ctx).Error("failed to count flagged transactions", "error", err, "user_id", userID)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "store_unavailable",
			"message": "Unable to read transaction history",
		})
		return
	}
	stats["total_flagged_transactions"] = flagged

	c.JSON(http.StatusOK, stats)
}

// ruleLabel maps a denial reason to a low-cardinality metric label.
func ruleLabel(reason string) string {
	switch {
	case strings.HasPrefix(reason, "Daily deposit limit"):
		return "deposit_limit"
	case strings.HasPrefix(reason, "Structuring detected"):
		return "structuring"
	case strings.HasPrefix(reason, "Daily withdrawal limit"):
		return "withdrawal_limit"
	case strings.HasPrefix(reason, "Velocity exceeded"):
		return "withdrawal_velocity_1h"
	case strings.HasPrefix(reason, "Suspicious activity"):
		return "withdrawal_velocity_24h"
	case strings.HasPrefix(reason, "Quick withdrawal"):
		return "quick_withdrawal"
	case strings.HasPrefix(reason, "Insufficient betting activity"):
		return "low_wagering"
	case strings.HasPrefix(reason, "System error"):
		return "system_error"
	case strings.HasPrefix(reason, "Invalid"):
		return "invalid_input"
	default:
		return "other"
	}
}
