// Package cache stores served predictions so repeated feature vectors skip
// inference. Every layer is best-effort: a failing layer is a miss, never a
// failed request.
package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/inference"
)

const keyPrefix = "cardio:pred:"

// Cache is a store of predictions keyed by Key.
type Cache interface {
	// Get returns the cached prediction and whether it was present.
	Get(ctx context.Context, key string) (inference.Prediction, bool, error)
	Set(ctx context.Context, key string, p inference.Prediction) error
	Close() error
}

// Key derives the cache key for a model version and feature vector.
func Key(version string, features []float64) string {
	d := xxhash.New()
	var buf [8]byte
	for _, f := range features {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		d.Write(buf[:])
	}
	return fmt.Sprintf("%s%s:%016x", keyPrefix, version, d.Sum64())
}

// Nop is a Cache that stores nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) (inference.Prediction, bool, error) {
	return inference.Prediction{}, false, nil
}
func (Nop) Set(context.Context, string, inference.Prediction) error { return nil }
func (Nop) Close() error                                            { return nil }
