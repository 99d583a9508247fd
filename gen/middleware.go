package gen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger is the structured logging surface the middleware writes to. It
// matches the engine's logger so either can be passed directly.
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...any)
	Info(ctx context.Context, msg string, keysAndValues ...any)
	Error(ctx context.Context, msg string, keysAndValues ...any)
}

// Logging wraps a Service so every collaborator call is logged with its
// operation name, duration, and outcome.
func Logging(inner Service, logger Logger) Service {
	return &loggingService{inner: inner, logger: logger}
}

type loggingService struct {
	inner  Service
	logger Logger
}

func logged[T any](ctx context.Context, l Logger, op string, fn func() (T, error)) (T, error) {
	l.Debug(ctx, "collaborator call starting", "op", op)
	start := time.Now()
	result, err := fn()
	if err != nil {
		l.Error(ctx, "collaborator call failed", "op", op, "duration", time.Since(start), "error", err)
	} else {
		l.Info(ctx, "collaborator call completed", "op", op, "duration", time.Since(start))
	}
	return result, err
}

func (s *loggingService) TextToImage(ctx context.Context, req TextToImageRequest) (*ImageResult, error) {
	return logged(ctx, s.logger, "textToImage", func() (*ImageResult, error) { return s.inner.TextToImage(ctx, req) })
}

func (s *loggingService) ImageToImage(ctx context.Context, req ImageToImageRequest) (*ImageResult, error) {
	return logged(ctx, s.logger, "imageToImage", func() (*ImageResult, error) { return s.inner.ImageToImage(ctx, req) })
}

func (s *loggingService) DescribeImage(ctx context.Context, imageURL string) (*Description, error) {
	return logged(ctx, s.logger, "describeImage", func() (*Description, error) { return s.inner.DescribeImage(ctx, imageURL) })
}

func (s *loggingService) GenerateMultiAngleGrid(ctx context.Context, req GridRequest) (*GridResult, error) {
	return logged(ctx, s.logger, "generateMultiAngleGrid", func() (*GridResult, error) { return s.inner.GenerateMultiAngleGrid(ctx, req) })
}

func (s *loggingService) GenerateActionSequenceGrid(ctx context.Context, req GridRequest) (*GridResult, error) {
	return logged(ctx, s.logger, "generateActionSequenceGrid", func() (*GridResult, error) { return s.inner.GenerateActionSequenceGrid(ctx, req) })
}

func (s *loggingService) GenerateDynamicNineGrid(ctx context.Context, req NineGridRequest) (*GridResult, error) {
	return logged(ctx, s.logger, "generateDynamicNineGrid", func() (*GridResult, error) { return s.inner.GenerateDynamicNineGrid(ctx, req) })
}

func (s *loggingService) SplitGridImage(ctx context.Context, req SplitRequest) (*SplitResult, error) {
	return logged(ctx, s.logger, "splitGridImage", func() (*SplitResult, error) { return s.inner.SplitGridImage(ctx, req) })
}

func (s *loggingService) ExtractAndUpscaleCell(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	return logged(ctx, s.logger, "extractAndUpscaleCell", func() (*ExtractResult, error) { return s.inner.ExtractAndUpscaleCell(ctx, req) })
}

func (s *loggingService) GenerateShotReverseShot(ctx context.Context, req ShotRequest) (*ShotResult, error) {
	return logged(ctx, s.logger, "generateShotReverseShot", func() (*ShotResult, error) { return s.inner.GenerateShotReverseShot(ctx, req) })
}

func (s *loggingService) OptimizePrompt(ctx context.Context, prompt string) (string, error) {
	return logged(ctx, s.logger, "optimizePrompt", func() (string, error) { return s.inner.OptimizePrompt(ctx, prompt) })
}

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("gen: circuit open")

// Breaker wraps a Service with a circuit breaker: after maxFailures
// consecutive failures every call is rejected immediately until
// resetTimeout elapses, at which point one probe call is let through.
// Generation backends fail loudly and slowly; the breaker keeps a flapping
// backend from tying up every node in the graph.
func Breaker(inner Service, maxFailures int, resetTimeout time.Duration) Service {
	return &breakerService{
		inner:        inner,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
	}
}

type breakerService struct {
	inner        Service
	maxFailures  int
	resetTimeout time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
	halfOpen bool
}

func (s *breakerService) before() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures < s.maxFailures {
		return nil
	}
	if time.Since(s.openedAt) < s.resetTimeout {
		return fmt.Errorf("%w: retry after %s", ErrCircuitOpen, s.resetTimeout)
	}
	if s.halfOpen {
		// A probe is already in flight; reject until it reports.
		return fmt.Errorf("%w: probe in flight", ErrCircuitOpen)
	}
	s.halfOpen = true
	return nil
}

func (s *breakerService) after(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halfOpen = false
	if err != nil {
		s.failures++
		if s.failures >= s.maxFailures {
			s.openedAt = time.Now()
		}
		return
	}
	s.failures = 0
}

func guarded[T any](s *breakerService, fn func() (T, error)) (T, error) {
	var zero T
	if err := s.before(); err != nil {
		return zero, err
	}
	result, err := fn()
	s.after(err)
	return result, err
}

func (s *breakerService) TextToImage(ctx context.Context, req TextToImageRequest) (*ImageResult, error) {
	return guarded(s, func() (*ImageResult, error) { return s.inner.TextToImage(ctx, req) })
}

func (s *breakerService) ImageToImage(ctx context.Context, req ImageToImageRequest) (*ImageResult, error) {
	return guarded(s, func() (*ImageResult, error) { return s.inner.ImageToImage(ctx, req) })
}

func (s *breakerService) DescribeImage(ctx context.Context, imageURL string) (*Description, error) {
	return guarded(s, func() (*Description, error) { return s.inner.DescribeImage(ctx, imageURL) })
}

func (s *breakerService) GenerateMultiAngleGrid(ctx context.Context, req GridRequest) (*GridResult, error) {
	return guarded(s, func() (*GridResult, error) { return s.inner.GenerateMultiAngleGrid(ctx, req) })
}

func (s *breakerService) GenerateActionSequenceGrid(ctx context.Context, req GridRequest) (*GridResult, error) {
	return guarded(s, func() (*GridResult, error) { return s.inner.GenerateActionSequenceGrid(ctx, req) })
}

func (s *breakerService) GenerateDynamicNineGrid(ctx context.Context, req NineGridRequest) (*GridResult, error) {
	return guarded(s, func() (*GridResult, error) { return s.inner.GenerateDynamicNineGrid(ctx, req) })
}

func (s *breakerService) SplitGridImage(ctx context.Context, req SplitRequest) (*SplitResult, error) {
	return guarded(s, func() (*SplitResult, error) { return s.inner.SplitGridImage(ctx, req) })
}

func (s *breakerService) ExtractAndUpscaleCell(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	return guarded(s, func() (*ExtractResult, error) { return s.inner.ExtractAndUpscaleCell(ctx, req) })
}

func (s *breakerService) GenerateShotReverseShot(ctx context.Context, req ShotRequest) (*ShotResult, error) {
	return guarded(s, func() (*ShotResult, error) { return s.inner.GenerateShotReverseShot(ctx, req) })
}

func (s *breakerService) OptimizePrompt(ctx context.Context, prompt string) (string, error) {
	return guarded(s, func() (string, error) { return s.inner.OptimizePrompt(ctx, prompt) })
}
