// Package artifact defines the on-disk format of a deployed classifier and
// knows how to locate, read and validate it.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// FormatVersion is the only artifact format this build can serve.
	FormatVersion = 1

	// DefaultFileName is the artifact file looked up in every candidate directory.
	DefaultFileName = "heart_disease_model.yaml"
)

// Model kinds understood by the inference package.
const (
	KindONNX     = "onnx"
	KindLogistic = "logistic_regression"
	KindTree     = "decision_tree"
)

var (
	// ErrNotFound is returned when no candidate directory holds the artifact.
	ErrNotFound = errors.New("model not found")
	// ErrUnsupportedVersion is returned for an artifact written for another format version.
	ErrUnsupportedVersion = errors.New("unsupported artifact format version")
	// ErrInvalid is returned for an artifact that does not describe a usable model.
	ErrInvalid = errors.New("invalid model artifact")
)

// Artifact is a self-describing record of a trained classifier.
type Artifact struct {
	FormatVersion int      `yaml:"format_version"`
	Name          string   `yaml:"name"`
	Version       string   `yaml:"version"`
	Features      []string `yaml:"features"`
	Model         Model    `yaml:"model"`

	// Path is the file the artifact was read from.
	Path string `yaml:"-"`
}

// Model holds the parameters for exactly one model kind.
type Model struct {
	Kind     string        `yaml:"kind"`
	ONNX     *ONNXSpec     `yaml:"onnx,omitempty"`
	Logistic *LogisticSpec `yaml:"logistic_regression,omitempty"`
	Tree     *TreeSpec     `yaml:"decision_tree,omitempty"`
}

// ONNXSpec points at an exported ONNX graph. The graph must take a float
// tensor of shape [1, n_features] and emit an int64 label tensor and,
// optionally, a float probability tensor of shape [1, n_classes].
type ONNXSpec struct {
	File              string `yaml:"file"`
	Input             string `yaml:"input"`
	LabelOutput       string `yaml:"label_output"`
	ProbabilityOutput string `yaml:"probability_output,omitempty"`
	SharedLibrary     string `yaml:"shared_library,omitempty"`
}

// LogisticSpec holds the weights of a binary logistic regression.
type LogisticSpec struct {
	Coefficients []float64 `yaml:"coefficients"`
	Intercept    float64   `yaml:"intercept"`
	Threshold    float64   `yaml:"threshold,omitempty"`
}

// TreeSpec is a binary decision tree stored as a flat node array; node 0 is the root.
type TreeSpec struct {
	Nodes []TreeNode `yaml:"nodes"`
}

// TreeNode is either a split (Feature, Threshold, Left, Right) or a leaf
// carrying per-class sample counts in Value.
type TreeNode struct {
	Feature   int       `yaml:"feature"`
	Threshold float64   `yaml:"threshold"`
	Left      int       `yaml:"left"`
	Right     int       `yaml:"right"`
	Leaf      bool      `yaml:"leaf"`
	Value     []float64 `yaml:"value,omitempty"`
}

// Resolve returns the first existing <dir>/<name> among dirs.
func Resolve(dirs []string, name string) (string, error) {
	if name == "" {
		name = DefaultFileName
	}
	for _, dir := range dirs {
		p := filepath.Join(dir, name)
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s not present in %v", ErrNotFound, name, dirs)
}

// Read parses and validates the artifact at path.
func Read(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	a, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.Path = path
	return a, nil
}

// Parse decodes and validates an artifact document.
func Parse(data []byte) (*Artifact, error) {
	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Load resolves the artifact among dirs and reads it.
func Load(dirs []string, name string) (*Artifact, error) {
	path, err := Resolve(dirs, name)
	if err != nil {
		return nil, err
	}
	return Read(path)
}

// Dir returns the directory relative references in the artifact resolve against.
func (a *Artifact) Dir() string {
	if a.Path == "" {
		return "."
	}
	return filepath.Dir(a.Path)
}

// Validate checks the version tag and that the model section is complete.
// Feature names are checked by the consumer, which owns the feature layout.
func (a *Artifact) Validate() error {
	if a.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: got %d, this build serves %d", ErrUnsupportedVersion, a.FormatVersion, FormatVersion)
	}
	if len(a.Features) == 0 {
		return fmt.Errorf("%w: features list is empty", ErrInvalid)
	}

	m := a.Model
	switch m.Kind {
	case KindONNX:
		if m.ONNX == nil {
			return fmt.Errorf("%w: model.onnx section is required for kind %q", ErrInvalid, m.Kind)
		}
		if m.ONNX.File == "" || m.ONNX.Input == "" || m.ONNX.LabelOutput == "" {
			return fmt.Errorf("%w: model.onnx requires file, input and label_output", ErrInvalid)
		}
	case KindLogistic:
		if m.Logistic == nil {
			return fmt.Errorf("%w: model.logistic_regression section is required for kind %q", ErrInvalid, m.Kind)
		}
		if len(m.Logistic.Coefficients) != len(a.Features) {
			return fmt.Errorf("%w: %d coefficients for %d features", ErrInvalid, len(m.Logistic.Coefficients), len(a.Features))
		}
		if m.Logistic.Threshold < 0 || m.Logistic.Threshold >= 1 {
			return fmt.Errorf("%w: threshold %v outside [0,1)", ErrInvalid, m.Logistic.Threshold)
		}
	case KindTree:
		if m.Tree == nil || len(m.Tree.Nodes) == 0 {
			return fmt.Errorf("%w: model.decision_tree requires at least one node", ErrInvalid)
		}
		if err := validateTree(m.Tree.Nodes, len(a.Features)); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("%w: model.kind is required", ErrInvalid)
	default:
		return fmt.Errorf("%w: unknown model kind %q", ErrInvalid, m.Kind)
	}
	return nil
}

func validateTree(nodes []TreeNode, featureCount int) error {
	for i, n := range nodes {
		if n.Leaf {
			if len(n.Value) < 2 {
				return fmt.Errorf("%w: leaf %d needs counts for both classes", ErrInvalid, i)
			}
			var total float64
			for _, v := range n.Value {
				if v < 0 {
					return fmt.Errorf("%w: leaf %d has negative count", ErrInvalid, i)
				}
				total += v
			}
			if total == 0 {
				return fmt.Errorf("%w: leaf %d has no samples", ErrInvalid, i)
			}
			continue
		}
		if n.Feature < 0 || n.Feature >= featureCount {
			return fmt.Errorf("%w: node %d splits on feature %d", ErrInvalid, i, n.Feature)
		}
		// Children must point forward so traversal always terminates.
		if n.Left <= i || n.Left >= len(nodes) || n.Right <= i || n.Right >= len(nodes) {
			return fmt.Errorf("%w: node %d has out-of-order children (%d, %d)", ErrInvalid, i, n.Left, n.Right)
		}
	}
	return nil
}
