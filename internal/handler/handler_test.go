package handler

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/artifact"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/cache"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/inference"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/middleware"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/model"
)

const validBody = `{"features": [63, 1, 3, 2.3, 150, 233]}`

// countingSource records how often the handler asked for the model.
type countingSource struct {
	model.Source
	gets int
}

func (s *countingSource) Get(ctx context.Context) (*model.Handle, error) {
	s.gets++
	return s.Source.Get(ctx)
}

func newStatic(clf inference.Classifier) *countingSource {
	return &countingSource{Source: model.NewStatic(model.NewHandle(nil, clf))}
}

func post(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, PredictPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var payload map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload), w.Body.String())
	}
	return w, payload
}

func TestPredict_WrongFeatureCountNeverTouchesModel(t *testing.T) {
	bodies := []string{
		`{"features": []}`,
		`{"features": [1, 2, 3, 4, 5]}`,
		`{"features": [1, 2, 3, 4, 5, 6, 7]}`,
		`{"features": null}`,
		`{}`,
	}

	for _, body := range bodies {
		mock := inference.NewMock(1)
		src := newStatic(mock)
		w, payload := post(t, New(src), body)

		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, msgFeatureCount, payload["error"], body)
		assert.Equal(t, 0, src.gets, body)
		assert.Equal(t, 0, mock.Calls(), body)
	}
}

func TestPredict_InvalidBody(t *testing.T) {
	for _, body := range []string{`not json`, `{"features": ["a", 1, 2, 3, 4, 5]}`, ``} {
		src := newStatic(inference.NewMock(1))
		w, payload := post(t, New(src), body)

		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, msgBadBody, payload["error"], body)
		assert.Equal(t, 0, src.gets)
	}
}

func TestPredict_BodyTooLarge(t *testing.T) {
	src := newStatic(inference.NewMock(1))
	h := middleware.Metrics("predict", New(src, WithMaxBodyBytes(16)))
	w, _ := post(t, h, validBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "close", w.Header().Get("Connection"))
	assert.Equal(t, 0, src.gets)

	// An ordinary decode error keeps the connection.
	w, _ = post(t, h, `nope`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get("Connection"))
}

func TestPredict_PositiveWithoutProbability(t *testing.T) {
	mock := inference.NewMock(1)
	w, payload := post(t, New(newStatic(mock)), validBody)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.JSONEq(t, `{"prediction": 1, "has_risk": true}`, w.Body.String())
	assert.NotContains(t, payload, "probability")
	assert.Equal(t, 1, mock.Calls())
}

func TestPredict_NegativeWithoutProbability(t *testing.T) {
	w, _ := post(t, New(newStatic(inference.NewMock(0))), validBody)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"prediction": 0, "has_risk": false}`, w.Body.String())
}

func TestPredict_WithProbability(t *testing.T) {
	mock := inference.NewMockWithProba(1, []float64{0.2, 0.8})
	w, _ := post(t, New(newStatic(mock)), validBody)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"prediction": 1, "has_risk": true, "probability": 0.8}`, w.Body.String())
}

func TestPredict_ModelNotFound(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	loader := model.NewLoader([]string{t.TempDir()}, "")
	h := New(loader, WithLogger(zap.New(core)))

	for i := 0; i < 2; i++ {
		w, payload := post(t, h, validBody)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, msgModelNotFound, payload["error"])
		assert.NotEmpty(t, payload["details"])
		assert.False(t, loader.Loaded())
	}
	assert.Equal(t, 2, logs.Len())
}

func TestPredict_RecoversOnceArtifactDeployed(t *testing.T) {
	dir := t.TempDir()
	loader := model.NewLoader([]string{dir}, "")
	h := New(loader)

	w, _ := post(t, h, validBody)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	require.NoError(t, os.WriteFile(filepath.Join(dir, artifact.DefaultFileName), []byte(`
format_version: 1
name: heart
version: lr-1
features: [age, sex, cp, oldpeak, thalach, chol]
model:
  kind: logistic_regression
  logistic_regression:
    coefficients: [0, 0, 0, 0, 0, 0]
    intercept: 2
`), 0o600))

	w, payload := post(t, h, validBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), payload["prediction"])
	assert.Equal(t, true, payload["has_risk"])
	assert.InDelta(t, 0.8808, payload["probability"], 1e-4)
}

func TestPredict_ArtifactVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, artifact.DefaultFileName), []byte("format_version: 0\n"), 0o600))

	w, payload := post(t, New(model.NewLoader([]string{dir}, "")), validBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, msgModelLoad, payload["error"])
	assert.Equal(t, "artifact_version", payload["type"])
	assert.NotContains(t, payload, "details")
}

func TestPredict_InferenceErrorIsNotLeaked(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	mock := inference.NewMock(1)
	mock.SetError("session /secret/path exploded")

	chain := middleware.Chain(middleware.RequestID)
	h := chain(New(newStatic(mock), WithLogger(zap.New(core))))

	req := httptest.NewRequest(http.MethodPost, PredictPath, strings.NewReader(validBody))
	req.Header.Set(middleware.RequestIDHeader, "rid-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error": "internal server error", "type": "inference"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "secret")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "rid-42", entry.ContextMap()["request_id"])
	assert.Contains(t, entry.ContextMap()["error"], "secret")
}

func TestPredict_NonBinaryLabel(t *testing.T) {
	w, payload := post(t, New(newStatic(inference.NewMock(3))), validBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "inference", payload["type"])
}

func TestPredict_OverflowingScoreIsInferenceError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, artifact.DefaultFileName), []byte(`
format_version: 1
name: heart
version: lr-overflow
features: [age, sex, cp, oldpeak, thalach, chol]
model:
  kind: logistic_regression
  logistic_regression:
    coefficients: [2, -2, 0, 0, 0, 0]
    intercept: 0
`), 0o600))

	w, payload := post(t, New(model.NewLoader([]string{dir}, "")), `{"features":[1e308,1e308,1,1,1,1]}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, msgInternal, payload["error"])
	assert.Equal(t, "inference", payload["type"])
}

func TestWriteJSON_UnencodableValue(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, predictResponse{Prediction: 1, Probability: func() *float64 { v := math.NaN(); return &v }()})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error": "internal server error"}`, w.Body.String())
}

func TestPredict_CacheHitSkipsModel(t *testing.T) {
	mock := inference.NewMockWithProba(1, []float64{0.3, 0.7})
	h := New(newStatic(mock), WithCache(cache.NewLRU(16, time.Minute)))

	first, _ := post(t, h, validBody)
	second, _ := post(t, h, validBody)

	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, mock.Calls())

	post(t, h, `{"features": [40, 0, 1, 0.5, 170, 190]}`)
	assert.Equal(t, 2, mock.Calls())
}

func TestPreflight(t *testing.T) {
	// A loader with no artifact: preflight must not care.
	loader := model.NewLoader([]string{t.TempDir()}, "")
	req := httptest.NewRequest(http.MethodOptions, PredictPath, nil)
	w := httptest.NewRecorder()
	New(loader).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
	assert.False(t, loader.Loaded())
}

func TestMethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	New(newStatic(inference.NewMock(1))).ServeHTTP(w, httptest.NewRequest(http.MethodGet, PredictPath, nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "POST, OPTIONS", w.Header().Get("Allow"))
}

func TestHealthAndReady(t *testing.T) {
	hs := health.NewServer()
	loaded := false
	healthz := Health(hs)
	readyz := Ready(hs, func() bool { return loaded })

	check := func(h http.HandlerFunc) int {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/", nil))
		return w.Code
	}

	// health.NewServer starts with the overall status SERVING.
	assert.Equal(t, http.StatusOK, check(healthz))
	assert.Equal(t, http.StatusServiceUnavailable, check(readyz))

	loaded = true
	assert.Equal(t, http.StatusOK, check(readyz))

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	assert.Equal(t, http.StatusServiceUnavailable, check(healthz))
	assert.Equal(t, http.StatusServiceUnavailable, check(readyz))
}
