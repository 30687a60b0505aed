package cache

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/inference"
)

// Tiered consults layers in order, fastest first. A hit in a later layer is
// copied into the earlier ones. Layer errors are logged and treated as misses.
type Tiered struct {
	layers []Cache
	logger *zap.Logger
}

// NewTiered creates a Tiered cache. Nil layers are skipped.
func NewTiered(logger *zap.Logger, layers ...Cache) *Tiered {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tiered{logger: logger}
	for _, l := range layers {
		if l != nil {
			t.layers = append(t.layers, l)
		}
	}
	return t
}

func (t *Tiered) Get(ctx context.Context, key string) (inference.Prediction, bool, error) {
	var errs []error
	for i, layer := range t.layers {
		p, ok, err := layer.Get(ctx, key)
		if err != nil {
			t.logger.Warn("cache layer get failed", zap.Int("layer", i), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		for _, earlier := range t.layers[:i] {
			if err := earlier.Set(ctx, key, p); err != nil {
				t.logger.Warn("cache backfill failed", zap.Error(err))
			}
		}
		return p, true, nil
	}
	return inference.Prediction{}, false, errors.Join(errs...)
}

func (t *Tiered) Set(ctx context.Context, key string, p inference.Prediction) error {
	var errs []error
	for _, layer := range t.layers {
		if err := layer.Set(ctx, key, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tiered) Close() error {
	var errs []error
	for _, layer := range t.layers {
		if err := layer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of layers.
func (t *Tiered) Len() int {
	return len(t.layers)
}
