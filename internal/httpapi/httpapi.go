// Package httpapi exposes the Orchestrator's control surface over
// HTTP (spec §6), plus the supplemental health/readiness/diagnostics
// endpoints, following the teacher's gin-based handler style in
// internal/handlers.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"modelops/orchestrator/internal/domain"
	"modelops/orchestrator/internal/kernel"
	"modelops/orchestrator/internal/orchestrator"
	"modelops/orchestrator/internal/store"
)

// Ready reports whether the service is ready to accept Submit calls:
// the retrieval corpus is loaded and the store is reachable.
type Ready func() (bool, string)

// API bundles the dependencies every handler needs.
type API struct {
	orch  *orchestrator.Orchestrator
	ready Ready
}

// New constructs an API. ready may be nil, in which case /ready always
// reports true.
func New(orch *orchestrator.Orchestrator, ready Ready) *API {
	return &API{orch: orch, ready: ready}
}

// Register wires every route onto router.
func (a *API) Register(router gin.IRouter) {
	router.GET("/health", a.health)
	router.GET("/ready", a.readyCheck)

	plans := router.Group("/plans")
	plans.POST("", a.submit)
	plans.GET("", a.list)
	plans.GET("/:id", a.get)
	plans.GET("/:id/memories", a.memories)
	plans.POST("/:id/approve", a.approve)
	plans.POST("/:id/pause", a.pause)
	plans.POST("/:id/restart", a.restart)
	plans.DELETE("/:id", a.delete)
}

// CorrelationMiddleware threads an X-Request-ID (or a freshly minted
// uuid) through context so it lands in every audit record's metadata,
// the way cmd/orchestrator/main.go's logging middleware captures
// request-scoped fields.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		ctx := kernel.WithCorrelationID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "healthy"})
}

type readyResponse struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

func (a *API) readyCheck(c *gin.Context) {
	if a.ready == nil {
		c.JSON(http.StatusOK, readyResponse{Ready: true})
		return
	}
	ok, reason := a.ready()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, readyResponse{Ready: false, Reason: reason})
		return
	}
	c.JSON(http.StatusOK, readyResponse{Ready: true})
}

type submitRequest struct {
	UserID      string             `json:"user_id" binding:"required"`
	Intent      string             `json:"intent" binding:"required"`
	Env         domain.Environment `json:"env" binding:"required"`
	Constraints domain.Constraints `json:"constraints"`
}

type submitResponse struct {
	PlanID string            `json:"plan_id"`
	Status domain.PlanStatus `json:"status"`
}

func (a *API) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err))
		return
	}
	planID, status, err := a.orch.Submit(c.Request.Context(), req.UserID, req.Intent, req.Env, req.Constraints)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err))
		return
	}
	c.JSON(http.StatusAccepted, submitResponse{PlanID: planID, Status: status})
}

func (a *API) get(c *gin.Context) {
	plan, err := a.orch.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (a *API) list(c *gin.Context) {
	filter := store.Filter{
		UserID: c.Query("user_id"),
		Env:    domain.Environment(c.Query("env")),
		Status: domain.PlanStatus(c.Query("status")),
	}
	plans, err := a.orch.ListPlans(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err))
		return
	}
	c.JSON(http.StatusOK, plans)
}

func (a *API) memories(c *gin.Context) {
	entries, err := a.orch.Memories(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

type approveRequest struct {
	Approver string                  `json:"approver" binding:"required"`
	Decision domain.ApprovalDecision `json:"decision" binding:"required"`
	Reason   string                  `json:"reason"`
}

func (a *API) approve(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err))
		return
	}
	status, err := a.orch.Approve(c.Request.Context(), c.Param("id"), req.Approver, req.Decision, req.Reason)
	if err != nil {
		writeOrchestratorErr(c, err)
		return
	}
	c.JSON(http.StatusOK, submitResponse{PlanID: c.Param("id"), Status: status})
}

func (a *API) pause(c *gin.Context) {
	if err := a.orch.Pause(c.Request.Context(), c.Param("id")); err != nil {
		writeOrchestratorErr(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (a *API) restart(c *gin.Context) {
	if err := a.orch.Restart(c.Request.Context(), c.Param("id")); err != nil {
		writeOrchestratorErr(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (a *API) delete(c *gin.Context) {
	hard := c.Query("hard") == "true"
	details, err := a.orch.Delete(c.Request.Context(), c.Param("id"), hard)
	if err != nil {
		writeOrchestratorErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"details": details})
}

func errorBody(err error) gin.H {
	return gin.H{"error": err.Error()}
}

func writeStoreErr(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorBody(err))
		return
	}
	c.JSON(http.StatusInternalServerError, errorBody(err))
}

func writeOrchestratorErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody(err))
	case errors.Is(err, orchestrator.ErrStateConflict):
		c.JSON(http.StatusConflict, errorBody(err))
	default:
		c.JSON(http.StatusInternalServerError, errorBody(err))
	}
}
