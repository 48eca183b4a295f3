package http

import (
	"context"

	rulesdomain "artifact-semantics/internal/rules/domain"
	"artifact-semantics/internal/semantic/domain/model"
	"artifact-semantics/internal/shared/contextkeys"
	"artifact-semantics/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
)

// EvaluationUsecase is the call surface the HTTP layer needs from the
// evaluator.
type EvaluationUsecase interface {
	EvaluateIdentity(ctx context.Context, identity *model.Identity, ectx model.ExecutionContext) (*model.EvaluationResult, error)
	Stats() model.Statistics
}

// RuleAdminUsecase is the call surface for rule inspection and reload.
type RuleAdminUsecase interface {
	EffectiveRules(ectx model.ExecutionContext) *model.EffectiveRules
	ConflictReport() []model.Conflict
	Coverage() rulesdomain.CoverageStats
	ReloadRules(ctx context.Context) (*rulesdomain.LoadReport, error)
}

// SemanticHandler exposes the engine over HTTP: evaluation, effective-rule
// inspection, conflict reporting and reload.
type SemanticHandler struct {
	evaluator EvaluationUsecase
	admin     RuleAdminUsecase
	log       logger.Logger
}

// NewSemanticHandler creates the handler.
func NewSemanticHandler(evaluator EvaluationUsecase, admin RuleAdminUsecase, log logger.Logger) *SemanticHandler {
	return &SemanticHandler{
		evaluator: evaluator,
		admin:     admin,
		log:       log.WithComponent("semantic_http"),
	}
}

// RegisterRoutes mounts the semantic API under /api/v1/semantic.
func (h *SemanticHandler) RegisterRoutes(router fiber.Router) {
	group := router.Group("/api/v1/semantic")
	group.Post("/evaluate", h.Evaluate)
	group.Get("/rules", h.EffectiveRules)
	group.Get("/rules/conflicts", h.Conflicts)
	group.Get("/rules/coverage", h.Coverage)
	group.Post("/rules/reload", h.Reload)
	group.Get("/stats", h.Stats)
}

// evaluateRequest is the evaluation request body.
type evaluateRequest struct {
	Identity model.Identity         `json:"identity"`
	Context  model.ExecutionContext `json:"context"`
}

// Evaluate runs every effective rule against one identity.
func (h *SemanticHandler) Evaluate(c *fiber.Ctx) error {
	var req evaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body: " + err.Error(),
		})
	}
	if req.Identity.IdentityType == "" && req.Identity.IdentityValue == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "identity is required",
		})
	}

	ctx := h.requestContext(c)
	result, err := h.evaluator.EvaluateIdentity(ctx, &req.Identity, req.Context)
	if err != nil {
		h.log.WithContext(ctx).Errorf("evaluation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "evaluation failed: " + err.Error(),
		})
	}
	return c.JSON(result)
}

// EffectiveRules returns the priority-merged rule list for a context given
// by query parameters.
func (h *SemanticHandler) EffectiveRules(c *fiber.Ctx) error {
	ectx := model.ExecutionContext{
		WingID:     c.Query("wing_id"),
		PipelineID: c.Query("pipeline_id"),
		CaseID:     c.Query("case_id"),
	}
	return c.JSON(h.admin.EffectiveRules(ectx))
}

// Conflicts returns the loader's conflict report.
func (h *SemanticHandler) Conflicts(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"conflicts": h.admin.ConflictReport()})
}

// Coverage returns counts describing the active rule sets.
func (h *SemanticHandler) Coverage(c *fiber.Ctx) error {
	return c.JSON(h.admin.Coverage())
}

// Reload atomically reloads every scope and reports the outcome.
func (h *SemanticHandler) Reload(c *fiber.Ctx) error {
	report, err := h.admin.ReloadRules(h.requestContext(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "reload failed: " + err.Error(),
		})
	}
	return c.JSON(report)
}

// Stats returns the evaluator's lifetime counters.
func (h *SemanticHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(h.evaluator.Stats())
}

// requestContext carries the request ID into the engine so log lines and
// decision entries correlate.
func (h *SemanticHandler) requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	if requestID, ok := c.Locals(string(contextkeys.RequestIDKey)).(string); ok && requestID != "" {
		ctx = context.WithValue(ctx, contextkeys.RequestIDKey, requestID)
	}
	return ctx
}
