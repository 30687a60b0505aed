package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/artifact"
)

func TestCheck_BundledArtifact(t *testing.T) {
	r, err := check([]string{filepath.Join("..", "..", "models")}, artifact.DefaultFileName, "63,1,3,2.3,150,233")
	require.NoError(t, err)

	assert.Equal(t, artifact.KindLogistic, r.Kind)
	assert.True(t, r.Probability)
	assert.Contains(t, []int{0, 1}, r.Prediction)
	assert.Equal(t, r.Prediction == 1, r.HasRisk)
	require.NotNil(t, r.Confidence)
	assert.GreaterOrEqual(t, *r.Confidence, 0.5)
}

func TestCheck_Failures(t *testing.T) {
	empty := t.TempDir()
	_, err := check([]string{empty}, artifact.DefaultFileName, "1,2,3,4,5,6")
	assert.ErrorIs(t, err, artifact.ErrNotFound)

	_, err = check([]string{empty}, artifact.DefaultFileName, "1,2,3")
	assert.Error(t, err)

	_, err = check([]string{empty}, artifact.DefaultFileName, "1,2,x,4,5,6")
	assert.Error(t, err)

	bad := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bad, artifact.DefaultFileName), []byte("format_version: 2\n"), 0o600))
	_, err = check([]string{bad}, artifact.DefaultFileName, "1,2,3,4,5,6")
	assert.ErrorIs(t, err, artifact.ErrUnsupportedVersion)
}
