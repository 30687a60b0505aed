package inference

import (
	"errors"
	"math"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/artifact"
)

const defaultThreshold = 0.5

// ErrNonFiniteScore is returned when the linear score overflows to NaN, which
// happens when opposing terms reach +Inf and -Inf.
var ErrNonFiniteScore = errors.New("logistic score is not a number")

// Logistic is a binary logistic regression evaluated in pure Go.
type Logistic struct {
	coef      []float64
	intercept float64
	threshold float64
}

// NewLogistic builds a classifier from exported weights.
func NewLogistic(spec *artifact.LogisticSpec) *Logistic {
	threshold := spec.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	return &Logistic{
		coef:      append([]float64(nil), spec.Coefficients...),
		intercept: spec.Intercept,
		threshold: threshold,
	}
}

// Predict returns 1 when the positive-class probability reaches the threshold.
func (l *Logistic) Predict(features []float64) (int, error) {
	p, err := l.positive(features)
	if err != nil {
		return 0, err
	}
	return l.label(p), nil
}

// PredictProba returns [P(no risk), P(risk)].
func (l *Logistic) PredictProba(features []float64) ([]float64, error) {
	p, err := l.positive(features)
	if err != nil {
		return nil, err
	}
	return []float64{1 - p, p}, nil
}

// PredictWithProba scores the vector once and returns both the label and
// [P(no risk), P(risk)].
func (l *Logistic) PredictWithProba(features []float64) (int, []float64, error) {
	p, err := l.positive(features)
	if err != nil {
		return 0, nil, err
	}
	return l.label(p), []float64{1 - p, p}, nil
}

// Close is a no-op; the weights live in memory.
func (l *Logistic) Close() error { return nil }

func (l *Logistic) label(p float64) int {
	if p >= l.threshold {
		return 1
	}
	return 0
}

func (l *Logistic) positive(features []float64) (float64, error) {
	if err := checkFeatures(features); err != nil {
		return 0, err
	}
	z := l.intercept
	for i, w := range l.coef {
		z += w * features[i]
	}
	if math.IsNaN(z) {
		return 0, ErrNonFiniteScore
	}
	return 1 / (1 + math.Exp(-z)), nil
}

var _ JointClassifier = (*Logistic)(nil)
