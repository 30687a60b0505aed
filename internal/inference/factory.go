package inference

import (
	"fmt"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/artifact"
)

// FromArtifact builds the classifier described by a validated artifact.
func FromArtifact(a *artifact.Artifact) (Classifier, error) {
	if err := checkFeatureNames(a.Features); err != nil {
		return nil, err
	}

	switch a.Model.Kind {
	case artifact.KindONNX:
		return NewONNX(a.Model.ONNX, a.Dir())
	case artifact.KindLogistic:
		return NewLogistic(a.Model.Logistic), nil
	case artifact.KindTree:
		return NewTree(a.Model.Tree), nil
	default:
		return nil, fmt.Errorf("%w: unsupported model kind %q", artifact.ErrInvalid, a.Model.Kind)
	}
}

func checkFeatureNames(names []string) error {
	if len(names) != FeatureCount {
		return fmt.Errorf("%w: artifact declares %d features, expected %v", artifact.ErrInvalid, len(names), FeatureNames)
	}
	for i, name := range names {
		if name != FeatureNames[i] {
			return fmt.Errorf("%w: feature %d is %q, expected %q", artifact.ErrInvalid, i, name, FeatureNames[i])
		}
	}
	return nil
}
