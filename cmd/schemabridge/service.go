package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/schemabridge/api/controllers"
	"github.com/angelmondragon/schemabridge/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

type runner interface {
	Run(ctx context.Context) error
}

type opsServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type namedCloser struct {
	name   string
	closer io.Closer
}

type ServiceParams struct {
	Logger       *logger.Logger
	Checks       []controllers.ReadinessCheck
	Relays       []runner
	Orchestrator runner
	Server       opsServer
	Closers      []namedCloser
}

// Service runs both relays, the flush loop and the ops HTTP server until the
// context ends or one of them fails.
type Service struct {
	logg         *logger.Logger
	checks       []controllers.ReadinessCheck
	relays       []runner
	orchestrator runner
	server       opsServer
	closers      []namedCloser
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Relays) == 0 {
		return nil, errors.New("at least one relay is required")
	}
	if params.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	return &Service{
		logg:         params.Logger,
		checks:       params.Checks,
		relays:       params.Relays,
		orchestrator: params.Orchestrator,
		server:       params.Server,
		closers:      params.Closers,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, check := range s.checks {
		if check.Ping == nil {
			continue
		}
		if err := pingDependency(ctx, s.logg, check.Name, check.Ping); err != nil {
			return err
		}
	}
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range s.relays {
		g.Go(func() error { return r.Run(gctx) })
	}
	g.Go(func() error { return s.orchestrator.Run(gctx) })

	if s.server != nil {
		g.Go(func() error {
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return s.server.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		s.logg.Info(ctx, "schemabridge context canceled")
		return ctx.Err()
	}
	return err
}

// Close releases every resource in reverse acquisition order and reports all
// failures.
func (s *Service) Close() error {
	err := closeAll(s.closers)
	s.closers = nil
	return err
}

func closeAll(closers []namedCloser) error {
	var errs error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.closer.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	return errs
}
