package inference

import (
	"errors"
	"fmt"
)

// FeatureCount is the length of every feature vector the service accepts.
const FeatureCount = 6

// FeatureNames lists the positional meaning of a feature vector.
var FeatureNames = [FeatureCount]string{"age", "sex", "cp", "oldpeak", "thalach", "chol"}

// ErrFeatureCount is returned when a feature vector is not FeatureCount long.
var ErrFeatureCount = errors.New("wrong number of features")

// Classifier is the contract every servable model satisfies.
// Implementations must be safe for concurrent use.
type Classifier interface {
	// Predict returns the class label for a single feature vector.
	Predict(features []float64) (int, error)

	// Close releases any resources held by the classifier.
	Close() error
}

// ProbabilityClassifier is a Classifier that can also report per-class
// probabilities, indexed by class label.
type ProbabilityClassifier interface {
	Classifier
	PredictProba(features []float64) ([]float64, error)
}

// JointClassifier is a ProbabilityClassifier that computes the label and
// the probabilities in one pass.
type JointClassifier interface {
	ProbabilityClassifier
	PredictWithProba(features []float64) (int, []float64, error)
}

// Prediction is the outcome of one inference call.
type Prediction struct {
	Label int `json:"label"`
	// Probability is the confidence of the predicted class, nil when the
	// model cannot report probabilities.
	Probability *float64 `json:"probability,omitempty"`
}

// HasRisk reports whether the positive (at-risk) class was predicted.
func (p Prediction) HasRisk() bool {
	return p.Label == 1
}

func checkFeatures(features []float64) error {
	if len(features) != FeatureCount {
		return fmt.Errorf("%w: got %d, expected %d", ErrFeatureCount, len(features), FeatureCount)
	}
	return nil
}
