package inference

import (
	"errors"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/artifact"
)

// Tree is a decision tree stored as a flat node array, node 0 being the root.
// Leaves carry per-class sample counts, so probabilities come for free.
type Tree struct {
	nodes []artifact.TreeNode
}

// NewTree builds a classifier from exported nodes. The nodes are expected to
// have passed artifact validation.
func NewTree(spec *artifact.TreeSpec) *Tree {
	return &Tree{nodes: append([]artifact.TreeNode(nil), spec.Nodes...)}
}

// Predict returns the majority class of the leaf the vector lands in.
func (t *Tree) Predict(features []float64) (int, error) {
	leaf, err := t.leaf(features)
	if err != nil {
		return 0, err
	}
	return majority(leaf.Value), nil
}

// PredictProba returns the normalized class counts of the leaf.
func (t *Tree) PredictProba(features []float64) ([]float64, error) {
	leaf, err := t.leaf(features)
	if err != nil {
		return nil, err
	}
	return normalize(leaf.Value), nil
}

// PredictWithProba walks the tree once for both the label and the probabilities.
func (t *Tree) PredictWithProba(features []float64) (int, []float64, error) {
	leaf, err := t.leaf(features)
	if err != nil {
		return 0, nil, err
	}
	return majority(leaf.Value), normalize(leaf.Value), nil
}

// Close is a no-op; the nodes live in memory.
func (t *Tree) Close() error { return nil }

func (t *Tree) leaf(features []float64) (artifact.TreeNode, error) {
	if err := checkFeatures(features); err != nil {
		return artifact.TreeNode{}, err
	}
	if len(t.nodes) == 0 {
		return artifact.TreeNode{}, errors.New("tree has no nodes")
	}
	idx := 0
	for {
		node := t.nodes[idx]
		if node.Leaf {
			return node, nil
		}
		if node.Feature < 0 || node.Feature >= len(features) {
			return artifact.TreeNode{}, errors.New("feature index out of range")
		}
		if features[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
		if idx <= 0 || idx >= len(t.nodes) {
			return artifact.TreeNode{}, errors.New("invalid tree state")
		}
	}
}

func majority(counts []float64) int {
	best := 0
	for class, count := range counts {
		if count > counts[best] {
			best = class
		}
	}
	return best
}

func normalize(counts []float64) []float64 {
	var total float64
	for _, c := range counts {
		total += c
	}
	probs := make([]float64, len(counts))
	for i, c := range counts {
		probs[i] = c / total
	}
	return probs
}

var _ JointClassifier = (*Tree)(nil)
