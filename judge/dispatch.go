package judge

import (
	"context"
	"errors"
	"fmt"
	"github.com/elmanelman/sql-grader/artifact"
	"github.com/elmanelman/sql-grader/config"
	"github.com/elmanelman/sql-grader/xqueue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrGraderUnavailable = errors.New("no grader available")
	ErrUnknownBackend    = errors.New("unknown grader backend")
)

type UploaderFactory func(ctx context.Context, t artifact.Target) (artifact.Uploader, error)

// Dispatcher builds one grader per submission from the backend the
// submission's payload selects.
type Dispatcher struct {
	logger *zap.Logger

	defaultBackend string
	defaults       func(name string) map[string]interface{}
	credentials    map[string]interface{}

	backends    map[string]connector
	newUploader UploaderFactory
}

func NewDispatcher(cfg *config.Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger:         logger,
		defaultBackend: cfg.DefaultBackend,
		defaults:       cfg.BackendDefaults,
		credentials:    cfg.Artifacts.Credentials(),
		backends:       defaultBackends(),
		newUploader:    artifact.New,
	}
}

// Create returns a grader for sub or an error wrapping ErrGraderUnavailable.
// The caller owns the grader and must Close it.
func (d *Dispatcher) Create(ctx context.Context, sub *xqueue.Submission) (*Grader, error) {
	name := selector(sub.GraderPayload, d.defaultBackend)
	logger := d.logger.With(
		zap.String("submission_id", sub.IDString()),
		zap.String("backend", name),
	)

	conn, ok := d.backends[name]
	if !ok {
		logger.Error("unknown grader backend in configuration", zap.Bool("critical", true))
		return nil, fmt.Errorf("%w: %w: %q", ErrGraderUnavailable, ErrUnknownBackend, name)
	}

	_, uploads := conn.(uploadCapable)
	layers := []map[string]interface{}{d.defaults(name)}
	if uploads {
		layers = append(layers, d.credentials)
	}
	layers = append(layers, sub.GraderPayload)

	opts, err := mergeOptions(layers...)
	if err != nil {
		logger.Error("could not create grader", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrGraderUnavailable, err)
	}

	engine, err := conn.open(ctx, opts)
	if err != nil {
		logger.Error("could not create grader", zap.String("database", opts.Database), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrGraderUnavailable, err)
	}

	g := &Grader{
		id:     fmt.Sprintf("%s-%s", name, uuid.NewString()),
		engine: engine,
		opts:   opts,
	}
	g.logger = logger.With(zap.String("grader_id", g.id))

	if uploads && opts.ArtifactProvider != "" {
		uploader, err := d.newUploader(ctx, opts.ArtifactTarget())
		if err != nil {
			logger.Warn("could not create artifact uploader", zap.Error(err))
			uploader = failingUploader{err: err}
		}
		g.uploader = uploader
	}
	return g, nil
}

type failingUploader struct {
	err error
}

func (u failingUploader) Upload(context.Context, string, []byte, string) (string, error) {
	return "", u.err
}
