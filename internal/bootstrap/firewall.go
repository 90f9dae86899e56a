package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jveski/airlift/internal/config"
)

// openFirewall adds a permanent rule for each missing port and reloads once.
// Nothing is touched while firewalld is inactive.
func (b *Bootstrapper) openFirewall(ctx context.Context, log logrus.FieldLogger) error {
	ports := b.Config.Host.FirewallPorts

	active, err := b.Host.Succeeds(ctx, "systemctl", "is-active", "--quiet", "firewalld")
	if err != nil {
		return fmt.Errorf("checking firewalld: %w", err)
	}
	if !active {
		log.Warnf("firewalld is not active, ports %s were not opened", strings.Join(ports, " "))
		return nil
	}

	out, err := b.Host.Run(ctx, "firewall-cmd", "--list-ports")
	if err != nil {
		return fmt.Errorf("listing open ports: %w", err)
	}
	open := map[string]bool{}
	for _, p := range strings.Fields(string(out)) {
		open[p] = true
	}

	n, err := reconcile(presence(ports),
		func(port string) (string, error) {
			return presentIf(open[port], nil)
		},
		func(s config.Setting) error {
			log.Infof("opening port %s...", s.Key)
			_, err := b.Host.Run(ctx, "firewall-cmd", "--permanent", "--add-port="+s.Key)
			return err
		})
	if err != nil {
		return err
	}
	if n == 0 {
		log.Info("firewall ports already open")
		return nil
	}

	if _, err := b.Host.Run(ctx, "firewall-cmd", "--reload"); err != nil {
		return fmt.Errorf("reloading firewall: %w", err)
	}
	log.Infof("opened %d firewall ports", n)
	return nil
}
