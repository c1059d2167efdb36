package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

// Remediator sends the device back to the restricted home screen.
type Remediator struct {
	nav    domain.HomeNavigator
	clock  domain.Clock
	logger *zap.Logger
}

// NewRemediator creates a remediator.
func NewRemediator(nav domain.HomeNavigator, clock domain.Clock, logger *zap.Logger) *Remediator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remediator{nav: nav, clock: clock, logger: logger}
}

// ReturnToHome starts the home activity and then fires the global home action as a backup.
// Neither step reports whether it took visible effect, so failures are only logged;
// callers get reliability by checking again later.
func (r *Remediator) ReturnToHome(ctx context.Context, pkg string, reason domain.RemediationReason) domain.Remediation {
	rem := domain.Remediation{Package: pkg, Reason: reason, At: r.clock.Now()}

	if err := r.nav.NavigateHome(ctx); err != nil {
		r.logger.Warn("failed to start home activity",
			zap.String("package", pkg),
			zap.Error(err))
	}
	if err := r.nav.TriggerGlobalHome(ctx); err != nil {
		r.logger.Warn("global home action failed",
			zap.String("package", pkg),
			zap.Error(err))
	}

	recordRemediation(reason)
	r.logger.Info("returned to home",
		zap.String("package", pkg),
		zap.String("reason", string(reason)))

	return rem
}
