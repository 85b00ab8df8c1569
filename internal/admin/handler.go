// Package admin serves the operator API of the consumer service: pipe
// topology, saga inspection, audit trail, health and metrics.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"conduit/internal/logger"
	"conduit/internal/orders"
	"conduit/pkg/cel"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/health"
)

type Describer interface {
	Describe() map[string]any
}

type Handler struct {
	logger  logger.Logger
	pipes   []Describer
	sagas   map[string]SagaView
	journal *orders.Journal
	health  *health.CheckerRegistry
}

type Option func(*Handler)

func WithPipe(d Describer) Option {
	return func(h *Handler) {
		h.pipes = append(h.pipes, d)
	}
}

func WithSaga(view SagaView) Option {
	return func(h *Handler) {
		h.sagas[view.Name()] = view
	}
}

func WithJournal(journal *orders.Journal) Option {
	return func(h *Handler) {
		h.journal = journal
	}
}

func WithHealth(registry *health.CheckerRegistry) Option {
	return func(h *Handler) {
		h.health = registry
	}
}

func NewHandler(log logger.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger: log,
		sagas:  make(map[string]SagaView),
		health: health.NewCheckerRegistry(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	status := pkgerrors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, pkgerrors.ToErrorResponse(err))
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/pipeline", h.Pipeline)
		v1.GET("/pipeline/expressions/examples", h.ExpressionExamples)
		v1.GET("/audit", h.Audit)

		sagas := v1.Group("/sagas/:saga")
		{
			sagas.GET("/:id", h.GetSaga)
			sagas.DELETE("/:id", h.DeleteSaga)
		}
	}
}

// Pipeline godoc
// @Summary      Describe receive endpoints
// @Description  Probe tree of every endpoint pipe, filters in execution order
// @Tags         pipeline
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /pipeline [get]
func (h *Handler) Pipeline(c *gin.Context) {
	endpoints := make([]map[string]any, 0, len(h.pipes))
	for _, p := range h.pipes {
		endpoints = append(endpoints, p.Describe())
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
}

// ExpressionExamples godoc
// @Summary      Example filter expressions
// @Description  CEL expressions accepted by endpoint.expression.filter
// @Tags         pipeline
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /pipeline/expressions/examples [get]
func (h *Handler) ExpressionExamples(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"examples": cel.FilterExpressionExamples})
}

// Audit godoc
// @Summary      Recent audit entries
// @Description  Entries flushed by message scopes, oldest first
// @Tags         audit
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /audit [get]
func (h *Handler) Audit(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []orders.Entry{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": h.journal.Entries()})
}

// GetSaga godoc
// @Summary      Get a saga instance
// @Tags         sagas
// @Produce      json
// @Param        saga  path      string  true  "Saga name"
// @Param        id    path      string  true  "Correlation id (UUID)"
// @Success      200   {object}  SagaInstance
// @Failure      400   {object}  map[string]interface{}
// @Failure      404   {object}  map[string]interface{}
// @Router       /sagas/{saga}/{id} [get]
func (h *Handler) GetSaga(c *gin.Context) {
	view, id, ok := h.sagaRequest(c)
	if !ok {
		return
	}

	instance, err := view.Find(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, instance)
}

// DeleteSaga godoc
// @Summary      Delete a saga instance
// @Tags         sagas
// @Param        saga  path  string  true  "Saga name"
// @Param        id    path  string  true  "Correlation id (UUID)"
// @Success      204
// @Failure      400   {object}  map[string]interface{}
// @Failure      404   {object}  map[string]interface{}
// @Router       /sagas/{saga}/{id} [delete]
func (h *Handler) DeleteSaga(c *gin.Context) {
	view, id, ok := h.sagaRequest(c)
	if !ok {
		return
	}

	if err := view.Delete(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.logger.InfowCtx(c.Request.Context(), "Saga instance deleted by operator",
		"saga", view.Name(),
		"correlation_id", id.String(),
	)
	c.Status(http.StatusNoContent)
}

func (h *Handler) sagaRequest(c *gin.Context) (SagaView, uuid.UUID, bool) {
	view, ok := h.sagas[c.Param("saga")]
	if !ok {
		h.HandleError(c, pkgerrors.ErrNotFound.WithDetail("message", "unknown saga "+c.Param("saga")))
		return nil, uuid.Nil, false
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.HandleError(c, pkgerrors.ErrValidation.WithCause(err).WithDetail("message", "correlation id must be a UUID"))
		return nil, uuid.Nil, false
	}
	return view, id, true
}

func (h *Handler) Health(c *gin.Context) {
	result := h.health.Check(c.Request.Context())
	statusCode := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, result)
}
