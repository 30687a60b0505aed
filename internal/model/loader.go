// Package model owns the process-wide model handle: it loads the artifact on
// first use, publishes the handle once, and retries failed loads on the next call.
package model

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/artifact"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/inference"
	"github.com/SyedDaiam9101/cardio-risk-service/internal/metrics"
)

// Source hands out the model handle used to serve a request.
type Source interface {
	Get(ctx context.Context) (*Handle, error)
}

// BuildFunc turns a validated artifact into a classifier.
type BuildFunc func(a *artifact.Artifact) (inference.Classifier, error)

// Loader lazily loads the artifact found in the first matching directory.
// A successfully loaded handle is served for the life of the process;
// failures are not cached.
type Loader struct {
	dirs     []string
	fileName string
	build    BuildFunc
	logger   *zap.Logger

	group  singleflight.Group
	handle atomic.Pointer[Handle]
}

// Option configures a Loader.
type Option func(*Loader)

// WithBuilder replaces the artifact-to-classifier step.
func WithBuilder(b BuildFunc) Option {
	return func(l *Loader) { l.build = b }
}

// WithLogger sets the logger used to report load attempts.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a Loader searching dirs, in order, for fileName.
func NewLoader(dirs []string, fileName string, opts ...Option) *Loader {
	if fileName == "" {
		fileName = artifact.DefaultFileName
	}
	l := &Loader{
		dirs:     append([]string(nil), dirs...),
		fileName: fileName,
		build:    inference.FromArtifact,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get returns the loaded handle, loading it first if needed. Concurrent
// callers share a single load.
func (l *Loader) Get(ctx context.Context) (*Handle, error) {
	if h := l.handle.Load(); h != nil {
		return h, nil
	}

	ch := l.group.DoChan("model", func() (interface{}, error) {
		if h := l.handle.Load(); h != nil {
			return h, nil
		}
		h, err := l.load()
		metrics.RecordModelLoad(err)
		if err != nil {
			l.logger.Warn("model load failed", zap.Strings("dirs", l.dirs), zap.String("file", l.fileName), zap.Error(err))
			return nil, err
		}
		l.handle.Store(h)
		l.logger.Info("model loaded",
			zap.String("path", h.Artifact().Path),
			zap.String("version", h.Version()),
			zap.String("kind", h.Artifact().Model.Kind),
			zap.Bool("probability", h.SupportsProbability()),
		)
		return h, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Loaded reports whether a handle has been published.
func (l *Loader) Loaded() bool {
	return l.handle.Load() != nil
}

// Close releases the loaded classifier, if any.
func (l *Loader) Close() error {
	if h := l.handle.Swap(nil); h != nil {
		metrics.ModelLoaded.Set(0)
		return h.Close()
	}
	return nil
}

func (l *Loader) load() (*Handle, error) {
	a, err := artifact.Load(l.dirs, l.fileName)
	if err != nil {
		return nil, err
	}
	clf, err := l.build(a)
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier from %s: %w", a.Path, err)
	}
	return NewHandle(a, clf), nil
}

// Static is a Source that always serves the same handle.
type Static struct {
	h *Handle
}

// NewStatic creates a Source around an already-built handle.
func NewStatic(h *Handle) *Static {
	return &Static{h: h}
}

// Get returns the wrapped handle.
func (s *Static) Get(context.Context) (*Handle, error) {
	return s.h, nil
}

// Loaded is always true.
func (s *Static) Loaded() bool { return true }

// Close releases the wrapped handle.
func (s *Static) Close() error {
	return s.h.Close()
}

var (
	_ Source = (*Loader)(nil)
	_ Source = (*Static)(nil)
)
