package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	rulesdomain "artifact-semantics/internal/rules/domain"
	"artifact-semantics/internal/semantic/domain/model"
	"artifact-semantics/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEvaluator returns canned results.
type stubEvaluator struct {
	result *model.EvaluationResult
	err    error
}

func (s *stubEvaluator) EvaluateIdentity(ctx context.Context, identity *model.Identity, ectx model.ExecutionContext) (*model.EvaluationResult, error) {
	return s.result, s.err
}

func (s *stubEvaluator) Stats() model.Statistics {
	return model.Statistics{RulesEvaluated: 7}
}

// stubAdmin returns canned rule administration data.
type stubAdmin struct {
	reloadErr error
	lastCtx   model.ExecutionContext
}

func (s *stubAdmin) EffectiveRules(ectx model.ExecutionContext) *model.EffectiveRules {
	s.lastCtx = ectx
	return &model.EffectiveRules{Handle: "abc123"}
}

func (s *stubAdmin) ConflictReport() []model.Conflict {
	return []model.Conflict{{StoreID: "logs", FieldName: "EventID", TechnicalValue: "4624"}}
}

func (s *stubAdmin) Coverage() rulesdomain.CoverageStats {
	return rulesdomain.CoverageStats{Sources: 2}
}

func (s *stubAdmin) ReloadRules(ctx context.Context) (*rulesdomain.LoadReport, error) {
	if s.reloadErr != nil {
		return nil, s.reloadErr
	}
	return &rulesdomain.LoadReport{RulesLoaded: 5}, nil
}

func newTestApp(evaluator *stubEvaluator, admin *stubAdmin) *fiber.App {
	app := fiber.New()
	app.Use(RequestIDMiddleware())
	handler := NewSemanticHandler(evaluator, admin, logger.NewLogger())
	handler.RegisterRoutes(app)
	return app
}

func TestEvaluateEndpoint(t *testing.T) {
	evaluator := &stubEvaluator{result: &model.EvaluationResult{
		Matches: []model.SemanticMatch{{RuleID: "r1", SemanticValue: "User Login", MatchedStores: []string{"_identity"}}},
	}}
	app := newTestApp(evaluator, &stubAdmin{})

	body, _ := json.Marshal(map[string]interface{}{
		"identity": map[string]interface{}{"identity_type": "user", "identity_value": "alice"},
		"context":  map[string]interface{}{"wing_id": "wing-1"},
	})
	req := httptest.NewRequest("POST", "/api/v1/semantic/evaluate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, int(5*time.Second/time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	payload, _ := io.ReadAll(resp.Body)
	var result model.EvaluationResult
	require.NoError(t, json.Unmarshal(payload, &result))
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "User Login", result.Matches[0].SemanticValue)
}

func TestEvaluateEndpointRejectsEmptyIdentity(t *testing.T) {
	app := newTestApp(&stubEvaluator{result: &model.EvaluationResult{}}, &stubAdmin{})

	req := httptest.NewRequest("POST", "/api/v1/semantic/evaluate", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestEffectiveRulesEndpointReadsContext(t *testing.T) {
	admin := &stubAdmin{}
	app := newTestApp(&stubEvaluator{}, admin)

	req := httptest.NewRequest("GET", "/api/v1/semantic/rules?wing_id=w1&case_id=c1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "w1", admin.lastCtx.WingID)
	assert.Equal(t, "c1", admin.lastCtx.CaseID)
}

func TestReloadEndpoint(t *testing.T) {
	app := newTestApp(&stubEvaluator{}, &stubAdmin{})

	req := httptest.NewRequest("POST", "/api/v1/semantic/rules/reload", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	payload, _ := io.ReadAll(resp.Body)
	var report rulesdomain.LoadReport
	require.NoError(t, json.Unmarshal(payload, &report))
	assert.Equal(t, 5, report.RulesLoaded)
}

func TestStatsEndpoint(t *testing.T) {
	app := newTestApp(&stubEvaluator{}, &stubAdmin{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/semantic/stats", nil))
	require.NoError(t, err)

	payload, _ := io.ReadAll(resp.Body)
	var stats model.Statistics
	require.NoError(t, json.Unmarshal(payload, &stats))
	assert.Equal(t, int64(7), stats.RulesEvaluated)
}

func TestAuthMiddleware(t *testing.T) {
	secret := "test-secret"

	app := fiber.New()
	app.Use(AuthMiddleware(secret, logger.NewLogger()))
	app.Get("/protected", func(c *fiber.Ctx) error { return c.SendString("ok") })

	t.Run("missing token rejected", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/protected", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid token accepted", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "analyst",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)

		req := httptest.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("wrong signature rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"})
		signed, err := token.SignedString([]byte("other-secret"))
		require.NoError(t, err)

		req := httptest.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("empty secret disables auth", func(t *testing.T) {
		open := fiber.New()
		open.Use(AuthMiddleware("", logger.NewLogger()))
		open.Get("/open", func(c *fiber.Ctx) error { return c.SendString("ok") })

		resp, err := open.Test(httptest.NewRequest("GET", "/open", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})
}
