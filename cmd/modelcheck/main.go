// Command modelcheck loads a deployed classifier artifact the same way the
// server does and runs one prediction against it. It exits non-zero when the
// artifact cannot be served, so it can gate a deployment.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/artifact"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/inference"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/model"
)

type dirList []string

func (d *dirList) String() string { return strings.Join(*d, ",") }

func (d *dirList) Set(v string) error {
	*d = append(*d, v)
	return nil
}

type report struct {
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Kind        string    `json:"kind"`
	Features    []string  `json:"features"`
	Probability bool      `json:"supports_probability"`
	Input       []float64 `json:"input"`
	Prediction  int       `json:"prediction"`
	HasRisk     bool      `json:"has_risk"`
	Confidence  *float64  `json:"probability,omitempty"`
}

func main() {
	var dirs dirList
	flag.Var(&dirs, "dir", "Artifact directory (repeatable, default: .,models)")
	file := flag.String("file", artifact.DefaultFileName, "Artifact file name")
	features := flag.String("features", "63,1,3,2.3,150,233", "Comma-separated sample feature vector")
	flag.Parse()

	if len(dirs) == 0 {
		dirs = dirList{".", "models"}
	}

	r, err := check(dirs, *file, *features)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modelcheck: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		fmt.Fprintf(os.Stderr, "modelcheck: %v\n", err)
		os.Exit(1)
	}
}

func check(dirs []string, file, rawFeatures string) (*report, error) {
	sample, err := parseFeatures(rawFeatures)
	if err != nil {
		return nil, err
	}

	a, err := artifact.Load(dirs, file)
	if err != nil {
		return nil, err
	}
	clf, err := inference.FromArtifact(a)
	if err != nil {
		return nil, err
	}
	h := model.NewHandle(a, clf)
	defer h.Close()

	pred, err := h.Predict(sample)
	if err != nil {
		return nil, fmt.Errorf("sample prediction failed: %w", err)
	}

	return &report{
		Path:        a.Path,
		Name:        a.Name,
		Version:     a.Version,
		Kind:        a.Model.Kind,
		Features:    a.Features,
		Probability: h.SupportsProbability(),
		Input:       sample,
		Prediction:  pred.Label,
		HasRisk:     pred.HasRisk(),
		Confidence:  pred.Probability,
	}, nil
}

func parseFeatures(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != inference.FeatureCount {
		return nil, fmt.Errorf("expected %d features, got %d", inference.FeatureCount, len(parts))
	}
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("feature %d (%s): %w", i, inference.FeatureNames[i], err)
		}
		out[i] = v
	}
	return out, nil
}
