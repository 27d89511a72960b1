package api

import (
	"errors"
	"net/http"
	"strconv"

	"quantdinger-engine/internal/database"
	"quantdinger-engine/internal/logging"
	"quantdinger-engine/internal/runner"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		errorResponse(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// handleEngineStatus reports the runner fleet at a glance.
func (s *Server) handleEngineStatus(c *gin.Context) {
	successResponse(c, gin.H{
		"runners": s.supervisor.Count(),
	})
}

func strategyView(st *database.Strategy, running bool) gin.H {
	return gin.H{
		"id":              st.ID,
		"name":            st.StrategyName,
		"status":          st.Status,
		"running":         running,
		"symbol":          st.Symbol(),
		"timeframe":       st.Timeframe(),
		"market_type":     st.MarketType(),
		"execution_mode":  st.ExecutionMode,
		"leverage":        st.Leverage,
		"initial_capital": st.InitialCapital,
		"created_at":      st.CreatedAt,
		"updated_at":      st.UpdatedAt,
	}
}

func (s *Server) handleListStrategies(c *gin.Context) {
	strategies, err := s.repo.ListStrategies(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]gin.H, 0, len(strategies))
	for _, st := range strategies {
		out = append(out, strategyView(st, s.supervisor.IsRunning(st.ID)))
	}
	successResponse(c, out)
}

func (s *Server) handleGetStrategy(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	st, err := s.repo.GetStrategy(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			errorResponse(c, http.StatusNotFound, "strategy not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	view := strategyView(st, s.supervisor.IsRunning(st.ID))
	view["trading_config"] = st.TradingConfig
	view["exchange_config"] = st.ExchangeConfig
	view["notification_config"] = st.NotificationConfig
	successResponse(c, view)
}

func (s *Server) handleStartStrategy(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.supervisor.Start(c.Request.Context(), id); err != nil {
		logging.FromContext(c.Request.Context()).Warn("Strategy start failed",
			"strategy_id", id, "error", err)
		switch {
		case errors.Is(err, runner.ErrAlreadyRunning):
			errorResponse(c, http.StatusConflict, err.Error())
		case errors.Is(err, runner.ErrRunnerCapacity):
			errorResponse(c, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, pgx.ErrNoRows):
			errorResponse(c, http.StatusNotFound, "strategy not found")
		default:
			errorResponse(c, http.StatusInternalServerError, err.Error())
		}
		return
	}
	successResponse(c, gin.H{"strategy_id": id, "running": true})
}

func (s *Server) handleStopStrategy(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.supervisor.Stop(c.Request.Context(), id); err != nil {
		logging.FromContext(c.Request.Context()).Warn("Strategy stop failed",
			"strategy_id", id, "error", err)
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"strategy_id": id, "running": false})
}

func positionView(p *database.Position) gin.H {
	return gin.H{
		"strategy_id":   p.StrategyID,
		"symbol":        p.Symbol,
		"side":          p.Side,
		"size":          p.Size,
		"entry_price":   p.EntryPrice,
		"current_price": p.CurrentPrice,
		"updated_at":    p.UpdatedAt,
	}
}

func (s *Server) handleGetStrategyPositions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	positions, err := s.repo.GetPositions(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]gin.H, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionView(p))
	}
	successResponse(c, out)
}

func (s *Server) handleListPositions(c *gin.Context) {
	positions, err := s.repo.ListAllPositions(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]gin.H, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionView(p))
	}
	successResponse(c, out)
}

func (s *Server) handleGetStrategyTrades(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	trades, err := s.repo.GetTrades(c.Request.Context(), id, queryLimit(c, 100, 1000))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]gin.H, 0, len(trades))
	for _, t := range trades {
		out = append(out, gin.H{
			"id":             t.ID,
			"symbol":         t.Symbol,
			"type":           t.Type,
			"price":          t.Price,
			"amount":         t.Amount,
			"value":          t.Value,
			"commission":     t.Commission,
			"commission_ccy": t.CommissionCcy,
			"profit":         t.Profit,
			"created_at":     t.CreatedAt,
		})
	}
	successResponse(c, out)
}

func (s *Server) handleGetStrategyNotifications(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	notifications, err := s.repo.ListNotifications(c.Request.Context(), id, queryLimit(c, 50, 500))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]gin.H, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, gin.H{
			"id":          n.ID,
			"symbol":      n.Symbol,
			"signal_type": n.SignalType,
			"channels":    n.Channels,
			"title":       n.Title,
			"message":     n.Message,
			"created_at":  n.CreatedAt,
		})
	}
	successResponse(c, out)
}

func orderView(o *database.PendingOrder) gin.H {
	return gin.H{
		"id":             o.ID,
		"strategy_id":    o.StrategyID,
		"symbol":         o.Symbol,
		"signal_type":    o.SignalType,
		"signal_ts":      o.SignalTS,
		"market_type":    o.MarketType,
		"amount":         o.Amount,
		"price":          o.Price,
		"execution_mode": o.ExecutionMode,
		"status":         o.Status,
		"priority":       o.Priority,
		"attempts":       o.Attempts,
		"last_error":     o.LastError,
		"exchange_id":    o.ExchangeID,
		"filled":         o.Filled,
		"avg_price":      o.AvgPrice,
		"dispatch_note":  o.DispatchNote,
		"created_at":     o.CreatedAt,
		"executed_at":    o.ExecutedAt,
	}
}

func (s *Server) handleListOrders(c *gin.Context) {
	orders, err := s.repo.ListRecentOrders(c.Request.Context(), queryLimit(c, 100, 1000))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]gin.H, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView(o))
	}
	successResponse(c, out)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := s.repo.GetPendingOrder(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			errorResponse(c, http.StatusNotFound, "order not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	view := orderView(order)
	view["payload"] = order.Payload()
	view["exchange_response"] = order.ExchangeResponseJSON
	successResponse(c, view)
}
