package model

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/artifact"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/inference"
)

const treeArtifact = `
format_version: 1
name: heart-disease-binary
version: tree-7
features: [age, sex, cp, oldpeak, thalach, chol]
model:
  kind: decision_tree
  decision_tree:
    nodes:
      - {feature: 3, threshold: 1.5, left: 1, right: 2}
      - {leaf: true, value: [40, 10]}
      - {leaf: true, value: [5, 45]}
`

var sample = []float64{63, 1, 3, 2.3, 150, 233}

func deploy(t *testing.T, dir string) {
	t.Helper()
	p := filepath.Join(dir, artifact.DefaultFileName)
	require.NoError(t, os.WriteFile(p, []byte(treeArtifact), 0o600))
}

func TestHandle_ProbabilityIsMaxClass(t *testing.T) {
	h := NewHandle(nil, inference.NewMockWithProba(1, []float64{0.2, 0.8}))
	assert.True(t, h.SupportsProbability())

	pred, err := h.Predict(sample)
	require.NoError(t, err)
	assert.Equal(t, 1, pred.Label)
	assert.True(t, pred.HasRisk())
	require.NotNil(t, pred.Probability)
	assert.InDelta(t, 0.8, *pred.Probability, 1e-9)
}

func TestHandle_NoProbability(t *testing.T) {
	h := NewHandle(nil, inference.NewMock(0))
	assert.False(t, h.SupportsProbability())
	assert.Equal(t, "unversioned", h.Version())

	pred, err := h.Predict(sample)
	require.NoError(t, err)
	assert.Equal(t, 0, pred.Label)
	assert.False(t, pred.HasRisk())
	assert.Nil(t, pred.Probability)
}

func TestHandle_RejectsNonBinaryLabel(t *testing.T) {
	h := NewHandle(nil, inference.NewMock(2))
	_, err := h.Predict(sample)
	assert.ErrorIs(t, err, ErrNonBinaryLabel)
}

func TestHandle_PropagatesClassifierError(t *testing.T) {
	mock := inference.NewMock(1)
	mock.SetError("session exploded")
	h := NewHandle(nil, mock)

	_, err := h.Predict(sample)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session exploded")
}

func TestHandle_RejectsNaNProbability(t *testing.T) {
	for _, probs := range [][]float64{
		{math.NaN(), 0.4},
		{0.6, math.NaN()},
		{-0.1, 1.1},
	} {
		h := NewHandle(nil, inference.NewMockWithProba(1, probs))
		_, err := h.Predict(sample)
		assert.Error(t, err, "%v", probs)
	}
}

func TestHandle_NaNLogisticScoreIsAnError(t *testing.T) {
	clf := inference.NewLogistic(&artifact.LogisticSpec{Coefficients: []float64{2, -2, 0, 0, 0, 0}})
	h := NewHandle(nil, clf)

	_, err := h.Predict([]float64{1e308, 1e308, 1, 1, 1, 1})
	assert.ErrorIs(t, err, inference.ErrNonFiniteScore)
}

// jointStub counts which entry points the handle uses.
type jointStub struct {
	predicts, probas, joints int
}

func (s *jointStub) Predict([]float64) (int, error) {
	s.predicts++
	return 1, nil
}

func (s *jointStub) PredictProba([]float64) ([]float64, error) {
	s.probas++
	return []float64{0.1, 0.9}, nil
}

func (s *jointStub) PredictWithProba([]float64) (int, []float64, error) {
	s.joints++
	return 1, []float64{0.1, 0.9}, nil
}

func (s *jointStub) Close() error { return nil }

func TestHandle_PrefersSingleJointCall(t *testing.T) {
	stub := &jointStub{}
	h := NewHandle(nil, stub)

	pred, err := h.Predict(sample)
	require.NoError(t, err)
	assert.Equal(t, 1, pred.Label)
	require.NotNil(t, pred.Probability)
	assert.InDelta(t, 0.9, *pred.Probability, 1e-9)

	assert.Equal(t, 1, stub.joints)
	assert.Zero(t, stub.predicts)
	assert.Zero(t, stub.probas)
}

func TestLoader_LoadsArtifact(t *testing.T) {
	dir := t.TempDir()
	deploy(t, dir)

	l := NewLoader([]string{t.TempDir(), dir}, "")
	h, err := l.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, l.Loaded())
	assert.Equal(t, "heart-disease-binary@tree-7", h.Version())

	pred, err := h.Predict(sample)
	require.NoError(t, err)
	assert.Equal(t, 1, pred.Label)
	require.NotNil(t, pred.Probability)
	assert.InDelta(t, 0.9, *pred.Probability, 1e-9)
}

func TestLoader_IdempotentLoad(t *testing.T) {
	dir := t.TempDir()
	deploy(t, dir)

	first := NewLoader([]string{dir}, "")
	second := NewLoader([]string{dir}, "")

	h1, err := first.Get(context.Background())
	require.NoError(t, err)
	h1again, err := first.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, h1, h1again)

	h2, err := second.Get(context.Background())
	require.NoError(t, err)

	p1, err := h1.Predict(sample)
	require.NoError(t, err)
	p2, err := h2.Predict(sample)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestLoader_NotFoundIsRetryable(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader([]string{dir}, "")

	for i := 0; i < 3; i++ {
		_, err := l.Get(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, artifact.ErrNotFound)
		assert.False(t, l.Loaded())
	}

	deploy(t, dir)
	h, err := l.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.True(t, l.Loaded())

	// Removing the file after a successful load does not affect serving.
	require.NoError(t, os.Remove(filepath.Join(dir, artifact.DefaultFileName)))
	again, err := l.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, h, again)
}

func TestLoader_BuildsOnceUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	deploy(t, dir)

	var builds atomic.Int32
	l := NewLoader([]string{dir}, "", WithBuilder(func(a *artifact.Artifact) (inference.Classifier, error) {
		builds.Add(1)
		return inference.NewMock(1), nil
	}))

	var wg sync.WaitGroup
	handles := make([]*Handle, 32)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := l.Get(context.Background())
			if err == nil {
				handles[i] = h
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestLoader_InvalidArtifact(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, artifact.DefaultFileName), []byte("format_version: 9\n"), 0o600))

	l := NewLoader([]string{dir}, "")
	_, err := l.Get(context.Background())
	assert.ErrorIs(t, err, artifact.ErrUnsupportedVersion)
	assert.False(t, l.Loaded())
}

func TestLoader_CloseReleasesClassifier(t *testing.T) {
	dir := t.TempDir()
	deploy(t, dir)

	mock := inference.NewMock(0)
	l := NewLoader([]string{dir}, "", WithBuilder(func(*artifact.Artifact) (inference.Classifier, error) {
		return mock, nil
	}))
	_, err := l.Get(context.Background())
	require.NoError(t, err)

	require.NoError(t, l.Close())
	assert.True(t, mock.Closed)
	assert.False(t, l.Loaded())
}

func TestStatic(t *testing.T) {
	h := NewHandle(nil, inference.NewMock(1))
	s := NewStatic(h)

	got, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, h, got)
	assert.True(t, s.Loaded())
}
