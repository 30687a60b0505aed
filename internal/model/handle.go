package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/artifact"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/inference"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/metrics"
)

// ErrNonBinaryLabel is returned when a classifier emits a label other than 0 or 1.
var ErrNonBinaryLabel = errors.New("classifier returned a non-binary label")

// Handle is a ready-to-invoke classifier together with the artifact it came
// from. Whether the model reports probabilities is decided once, here.
type Handle struct {
	artifact *artifact.Artifact
	clf      inference.Classifier
	proba    inference.ProbabilityClassifier
	joint    inference.JointClassifier
}

// NewHandle wraps clf. a may be nil for classifiers that were not read from
// an artifact (mock mode).
func NewHandle(a *artifact.Artifact, clf inference.Classifier) *Handle {
	h := &Handle{artifact: a, clf: clf}
	if p, ok := clf.(inference.ProbabilityClassifier); ok {
		h.proba = p
		if j, ok := clf.(inference.JointClassifier); ok {
			h.joint = j
		}
	}
	return h
}

// Version identifies the loaded model; it is part of prediction cache keys.
func (h *Handle) Version() string {
	if h.artifact == nil {
		return "unversioned"
	}
	return h.artifact.Name + "@" + h.artifact.Version
}

// Artifact returns the artifact the handle was built from, or nil.
func (h *Handle) Artifact() *artifact.Artifact {
	return h.artifact
}

// SupportsProbability reports whether predictions carry a confidence score.
func (h *Handle) SupportsProbability() bool {
	return h.proba != nil
}

// Predict runs the classifier on one feature vector and, when supported,
// attaches the maximum class probability as the confidence score.
func (h *Handle) Predict(features []float64) (inference.Prediction, error) {
	start := time.Now()
	defer func() {
		metrics.RecordInferenceLatency(time.Since(start).Seconds())
	}()

	label, probs, err := h.run(features)
	if err != nil {
		return inference.Prediction{}, err
	}
	if label != 0 && label != 1 {
		return inference.Prediction{}, fmt.Errorf("%w: %d", ErrNonBinaryLabel, label)
	}

	pred := inference.Prediction{Label: label}
	if h.proba == nil {
		return pred, nil
	}

	if len(probs) == 0 {
		return inference.Prediction{}, fmt.Errorf("predict probabilities: empty result")
	}
	best := probs[0]
	for _, p := range probs {
		// Written so that NaN fails the check.
		if !(p >= 0 && p <= 1) {
			return inference.Prediction{}, fmt.Errorf("predict probabilities: %v outside [0,1]", p)
		}
		if p > best {
			best = p
		}
	}
	pred.Probability = &best
	return pred, nil
}

// run makes a single classifier call when the model can report label and
// probabilities together.
func (h *Handle) run(features []float64) (int, []float64, error) {
	if h.joint != nil {
		label, probs, err := h.joint.PredictWithProba(features)
		if err != nil {
			return 0, nil, fmt.Errorf("predict: %w", err)
		}
		return label, probs, nil
	}

	label, err := h.clf.Predict(features)
	if err != nil {
		return 0, nil, fmt.Errorf("predict: %w", err)
	}
	if h.proba == nil {
		return label, nil, nil
	}
	probs, err := h.proba.PredictProba(features)
	if err != nil {
		return 0, nil, fmt.Errorf("predict probabilities: %w", err)
	}
	return label, probs, nil
}

// Close releases the classifier.
func (h *Handle) Close() error {
	return h.clf.Close()
}
