// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

// ForegroundObserver resolves the current foreground package from the usage log.
// It never fails: every problem degrades to "unknown".
type ForegroundObserver struct {
	source domain.UsageEventSource
	clock  domain.Clock
	window time.Duration
	logger *zap.Logger

	// warn limits "foreground unknown" warnings; the rest go to debug.
	warn *rate.Limiter
}

// NewForegroundObserver creates an observer that looks back over window.
func NewForegroundObserver(source domain.UsageEventSource, clock domain.Clock, window time.Duration, logger *zap.Logger) *ForegroundObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForegroundObserver{
		source: source,
		clock:  clock,
		window: window,
		logger: logger,
		warn:   rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
}

// CurrentForeground returns the package of the most recent move-to-foreground event
// inside the trailing window, or ok=false when it cannot be determined.
func (o *ForegroundObserver) CurrentForeground(ctx context.Context) (pkg string, ok bool) {
	end := o.clock.Now()
	events, err := o.source.QueryForegroundEvents(ctx, end.Add(-o.window), end)
	if err != nil {
		o.unknown(classifyQueryError(err), err)
		return "", false
	}

	pkg, ok = latestForeground(events)
	if !ok {
		recordForegroundUnknown("no_events")
	}
	return pkg, ok
}

// latestForeground picks by timestamp, not by position: the log is not time-ordered.
// On equal timestamps the earlier row wins.
func latestForeground(events []domain.UsageEvent) (string, bool) {
	var (
		best   string
		bestAt time.Time
		found  bool
	)
	for _, ev := range events {
		if ev.Kind != domain.UsageMoveToForeground || ev.Package == "" {
			continue
		}
		if !found || ev.Timestamp.After(bestAt) {
			best, bestAt, found = ev.Package, ev.Timestamp, true
		}
	}
	return best, found
}

func classifyQueryError(err error) string {
	switch {
	case errors.Is(err, domain.ErrPermissionUnavailable):
		return "permission"
	case errors.Is(err, domain.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}

func (o *ForegroundObserver) unknown(cause string, err error) {
	recordForegroundUnknown(cause)

	if o.warn.Allow() {
		o.logger.Warn("foreground app unknown",
			zap.String("cause", cause),
			zap.Error(err))
		return
	}
	o.logger.Debug("foreground app unknown",
		zap.String("cause", cause),
		zap.Error(err))
}
