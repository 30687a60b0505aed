package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/cache"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/inference"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/metrics"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/middleware"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/model"
)

// PredictPath is the route of the inference endpoint.
const PredictPath = "/api/predict"

const defaultMaxBodyBytes = 1 << 20

// Handler serves the inference endpoint.
type Handler struct {
	models       model.Source
	cache        cache.Cache
	logger       *zap.Logger
	tracer       trace.Tracer
	maxBodyBytes int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithCache enables the prediction cache.
func WithCache(c cache.Cache) Option {
	return func(h *Handler) { h.cache = c }
}

// WithLogger sets the logger for request failures.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMaxBodyBytes limits the size of a request body.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) { h.maxBodyBytes = n }
}

// New creates a Handler that obtains its model from models.
func New(models model.Source, opts ...Option) *Handler {
	h := &Handler{
		models:       models,
		cache:        cache.Nop{},
		logger:       zap.NewNop(),
		tracer:       otel.Tracer("github.com/SyedDaiam9101/cardio-risk-service/internal/handler"),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	Prediction  int      `json:"prediction"`
	HasRisk     bool     `json:"has_risk"`
	Probability *float64 `json:"probability,omitempty"`
}

// ServeHTTP dispatches on method: POST predicts, OPTIONS answers the CORS preflight.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		h.Preflight(w, r)
	case http.MethodPost:
		h.Predict(w, r)
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	}
}

// Preflight answers a CORS preflight without touching the model.
func (h *Handler) Preflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusOK)
}

// Predict validates the feature vector, runs the model and writes the result.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "predict")
	defer span.End()

	requestID := middleware.GetRequestID(ctx)
	if requestID == "" {
		requestID = "unknown"
	}
	logger := h.logger.With(zap.String("request_id", requestID))

	var req predictRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&req); err != nil {
		// Wrapping writers hide the hook MaxBytesReader uses to drop the
		// connection, so ask for it explicitly.
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.Header().Set("Connection", "close")
		}
		span.SetStatus(codes.Error, msgBadBody)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgBadBody})
		return
	}
	if len(req.Features) != inference.FeatureCount {
		span.SetStatus(codes.Error, msgFeatureCount)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgFeatureCount})
		return
	}

	handle, err := h.models.Get(ctx)
	if err != nil {
		logger.Error("model unavailable", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "model unavailable")
		status, body := modelError(err)
		writeJSON(w, status, body)
		return
	}
	span.SetAttributes(attribute.String("model.version", handle.Version()))

	key := cache.Key(handle.Version(), req.Features)
	pred, hit, err := h.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.RecordCacheLookup(metrics.CacheError)
		logger.Warn("prediction cache lookup failed", zap.Error(err))
	case hit:
		metrics.RecordCacheLookup(metrics.CacheHit)
	default:
		metrics.RecordCacheLookup(metrics.CacheMiss)
	}
	span.SetAttributes(attribute.Bool("cache.hit", hit))

	if !hit {
		pred, err = handle.Predict(req.Features)
		if err != nil {
			logger.Error("inference failed",
				zap.Error(err),
				zap.Bool("non_binary_label", errors.Is(err, model.ErrNonBinaryLabel)),
				zap.Stack("stack"),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, "inference failed")
			status, body := inferenceError()
			writeJSON(w, status, body)
			return
		}
		if err := h.cache.Set(ctx, key, pred); err != nil {
			logger.Warn("prediction cache store failed", zap.Error(err))
		}
	}

	metrics.RecordPrediction(pred.Label)
	span.SetAttributes(attribute.Int("prediction.label", pred.Label))

	writeJSON(w, http.StatusOK, predictResponse{
		Prediction:  pred.Label,
		HasRisk:     pred.HasRisk(),
		Probability: pred.Probability,
	})
}

// writeJSON encodes v before committing the status, so a value that cannot
// be encoded becomes a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Error: msgInternal})
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}
