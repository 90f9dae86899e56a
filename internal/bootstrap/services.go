package bootstrap

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// activateServices enables and starts each service. Both checks are
// independent: a unit may be enabled but stopped or running but disabled.
func (b *Bootstrapper) activateServices(ctx context.Context, log logrus.FieldLogger) error {
	for _, svc := range b.Config.Services {
		log := log.WithField("service", svc)

		enabled, err := b.Host.Succeeds(ctx, "systemctl", "is-enabled", "--quiet", svc)
		if err != nil {
			return fmt.Errorf("checking whether %s is enabled: %w", svc, err)
		}
		if enabled {
			log.Info("already enabled")
		} else {
			log.Info("enabling service...")
			if _, err := b.Host.Run(ctx, "systemctl", "enable", svc); err != nil {
				return fmt.Errorf("enabling %s: %w", svc, err)
			}
			log.Info("enabled service")
		}

		active, err := b.Host.Succeeds(ctx, "systemctl", "is-active", "--quiet", svc)
		if err != nil {
			return fmt.Errorf("checking whether %s is active: %w", svc, err)
		}
		if active {
			log.Info("already running")
			continue
		}

		log.Info("starting service...")
		if _, err := b.Host.Run(ctx, "systemctl", "start", svc); err != nil {
			return fmt.Errorf("starting %s: %w", svc, err)
		}
		log.Info("started service")
	}
	return nil
}
