package api

import (
	"encoding/json"
	"time"

	models "TradeCore/internal/domain/models"
	"TradeCore/internal/engine/consensus"
	"TradeCore/internal/engine/exits"
	"TradeCore/internal/engine/regime"
	"TradeCore/internal/engine/sizing"
	svcCache "TradeCore/internal/service/cache"
	"TradeCore/internal/service/ratelimit"
	"TradeCore/internal/usecase"
	xhttp "TradeCore/pkg/http"
	xlogger "TradeCore/pkg/logger"

	"github.com/labstack/echo/v4"
)

const snapshotTTL = 2 * time.Second

// DecisionsHandler exposes the decision core over HTTP: agent registration,
// signal submission, vote triggering and read-only views of regimes, plans
// and performance stats.
type DecisionsHandler struct {
	logger     *xlogger.Logger
	svc        *usecase.DecisionService
	classifier *regime.Classifier
	engine     *consensus.Engine
	sizer      *sizing.Sizer
	planner    *exits.Planner

	limiter    *ratelimit.Limiter
	rateCap    float64
	rateRefill float64

	cache svcCache.BytesCache
}

func NewDecisionsHandler(
	logger *xlogger.Logger,
	svc *usecase.DecisionService,
	classifier *regime.Classifier,
	engine *consensus.Engine,
	sizer *sizing.Sizer,
	planner *exits.Planner,
	limiter *ratelimit.Limiter,
	rateCap, rateRefill float64,
	cache svcCache.BytesCache,
) *DecisionsHandler {
	return &DecisionsHandler{
		logger:     logger,
		svc:        svc,
		classifier: classifier,
		engine:     engine,
		sizer:      sizer,
		planner:    planner,
		limiter:    limiter,
		rateCap:    rateCap,
		rateRefill: rateRefill,
		cache:      cache,
	}
}

func (h *DecisionsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.POST("/agent", h.RegisterAgent)
	g.POST("/signal", h.SubmitSignal)
	g.POST("/vote", h.Vote)
	g.POST("/close", h.Close)
	g.POST("/outcome", h.Outcome)
	g.GET("/regime", h.Regime)
	g.GET("/agents", h.Agents)
	g.GET("/plan", h.Plan)
	g.GET("/stats", h.Stats)
}

func (h *DecisionsHandler) RegisterAgent(c echo.Context) error {
	req := &models.RegisterAgentRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.svc.RegisterAgent(req.AgentID, req.AgentType, req.Specialization, req.BaseWeight)
	agent, _ := h.engine.Agent(req.AgentID)
	return xhttp.CreatedResponse(c, agent)
}

func (h *DecisionsHandler) SubmitSignal(c echo.Context) error {
	req := &models.SubmitSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.limiter != nil && !h.limiter.Allow("signal:"+req.AgentID, h.rateCap, h.rateRefill) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("signal rate limit exceeded for agent "+req.AgentID))
	}
	if _, ok := h.engine.Agent(req.AgentID); !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("agent %s is not registered", req.AgentID))
	}
	h.svc.SubmitSignal(models.AgentSignal{
		AgentID:    req.AgentID,
		Type:       models.SignalType(req.Type),
		Confidence: req.Confidence,
		Strength:   req.Strength,
		Instrument: req.Instrument,
		Rationale:  req.Rationale,
		Extra:      req.Extra,
		Timestamp:  time.Now(),
	})
	return xhttp.SuccessResponse(c, map[string]any{
		"accepted": true,
		"pending":  h.engine.PendingCount(req.Instrument),
	})
}

func (h *DecisionsHandler) Vote(c echo.Context) error {
	req := &models.VoteRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, dec, err := h.svc.RunVote(c.Request().Context(), req.Instrument)
	if err != nil {
		h.logger.Error("vote failed", xlogger.String("instrument", req.Instrument), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]any{
		"consensus": res,
		"sizing":    dec,
	})
}

func (h *DecisionsHandler) Close(c echo.Context) error {
	req := &models.ClosePositionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sig, err := h.svc.ForceClose(c.Request().Context(), req.Instrument, req.Price)
	if err != nil {
		h.logger.Error("close failed", xlogger.String("instrument", req.Instrument), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	return xhttp.SuccessResponse(c, sig)
}

func (h *DecisionsHandler) Outcome(c echo.Context) error {
	req := &models.OutcomeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.svc.ApplyOutcome(req.Instrument, req.Outcome, models.Regime(req.Regime)); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()))
	}
	return xhttp.SuccessResponse(c, map[string]any{"applied": true})
}

func (h *DecisionsHandler) Regime(c echo.Context) error {
	req := &models.RegimeQueryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	key := "regime:" + req.Instrument
	if body, ok := h.cached(key); ok {
		return c.JSONBlob(200, body)
	}
	rec, ok := h.classifier.Latest(req.Instrument)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no regime for %s yet", req.Instrument))
	}
	payload := map[string]any{
		"regime":    rec,
		"stability": h.classifier.Stability(req.Instrument),
	}
	h.store(key, payload)
	return xhttp.SuccessResponse(c, payload)
}

func (h *DecisionsHandler) Agents(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.Agents())
}

func (h *DecisionsHandler) Plan(c echo.Context) error {
	req := &models.PlanQueryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	plan, ok := h.planner.Plan(req.Instrument)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no exit plan for %s", req.Instrument))
	}
	payload := map[string]any{"plan": plan}
	if stats, ok := h.planner.Stats(req.Instrument); ok {
		payload["stats"] = stats
	}
	return xhttp.SuccessResponse(c, payload)
}

func (h *DecisionsHandler) Stats(c echo.Context) error {
	const key = "stats:global"
	if body, ok := h.cached(key); ok {
		return c.JSONBlob(200, body)
	}
	payload := map[string]any{
		"consensus":      h.engine.Stats(),
		"sizing_history": h.sizer.History(),
		"exit_stats":     h.planner.AllStats(),
		"open_positions": h.svc.OpenPositions(),
	}
	h.store(key, payload)
	return xhttp.SuccessResponse(c, payload)
}

func (h *DecisionsHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]any{
		"status": "ok",
		"agents": len(h.engine.Agents()),
	})
}

// cached returns a previously marshaled success envelope for key.
func (h *DecisionsHandler) cached(key string) ([]byte, bool) {
	if h.cache == nil {
		return nil, false
	}
	body, ok, err := h.cache.GetBytes(key)
	if err != nil || !ok {
		return nil, false
	}
	return body, true
}

func (h *DecisionsHandler) store(key string, payload any) {
	if h.cache == nil {
		return
	}
	body, err := json.Marshal(xhttp.APIResponse{Status: 200, Message: "OK", Data: payload})
	if err != nil {
		return
	}
	if err := h.cache.SetBytes(key, body, snapshotTTL); err != nil {
		h.logger.Warn("snapshot cache write failed", xlogger.String("key", key), xlogger.Error(err))
	}
}
