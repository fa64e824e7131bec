package business

import (
	"context"
	"fmt"

	"github.com/openkcm/login-portal/internal/config"
)

// HousekeeperMain runs the session housekeeping loop as a standalone job,
// for deployments that scale the portal server and want a single sweeper.
func HousekeeperMain(ctx context.Context, cfg *config.Config) error {
	portal, closeFn, err := initPortal(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the portal: %w", err)
	}

	defer closeFn()

	portal.manager.Housekeep(ctx, cfg.Portal.Housekeeping.Interval, cfg.Portal.Housekeeping.IdleTimeout)

	return nil
}
