package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jveski/airlift/internal/config"
	"github.com/jveski/airlift/internal/host"
)

const (
	fstabFile   = "/etc/fstab"
	modulesFile = "/proc/modules"
)

func (b *Bootstrapper) configureHost(ctx context.Context, log logrus.FieldLogger) error {
	if err := b.disableSwap(ctx, log); err != nil {
		return err
	}
	if err := b.removeSwapEntries(log); err != nil {
		return err
	}
	if err := b.loadModules(ctx, log); err != nil {
		return err
	}
	if err := b.applySysctls(ctx, log); err != nil {
		return err
	}
	return b.openFirewall(ctx, log)
}

func (b *Bootstrapper) disableSwap(ctx context.Context, log logrus.FieldLogger) error {
	out, err := b.Host.Run(ctx, "swapon", "--show", "--noheadings")
	if err != nil {
		return fmt.Errorf("listing active swap: %w", err)
	}
	if strings.TrimSpace(string(out)) == "" {
		log.Info("swap already disabled")
		return nil
	}

	log.Info("disabling swap...")
	if _, err := b.Host.Run(ctx, "swapoff", "-a"); err != nil {
		return fmt.Errorf("disabling swap: %w", err)
	}
	log.Info("disabled swap")
	return nil
}

func (b *Bootstrapper) removeSwapEntries(log logrus.FieldLogger) error {
	buf, err := b.Host.ReadFile(fstabFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", fstabFile, err)
	}

	stripped, removed := StripSwapEntries(string(buf))
	if removed == 0 {
		log.Infof("no swap entries in %s", fstabFile)
		return nil
	}

	if _, err := b.Host.WriteFileIfChanged(fstabFile, []byte(stripped), 0644); err != nil {
		return err
	}
	log.Infof("removed %d swap entries from %s", removed, fstabFile)
	return nil
}

// StripSwapEntries drops the uncommented fstab lines whose filesystem type
// is swap and returns the remaining content with the number removed.
func StripSwapEntries(fstab string) (string, int) {
	lines := strings.SplitAfter(fstab, "\n")
	kept := lines[:0]
	removed := 0
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) >= 3 && !strings.HasPrefix(fields[0], "#") && fields[2] == "swap" {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, ""), removed
}

// loadModules loads each kernel module into the running kernel and persists
// it for the next boot. The two are checked separately.
func (b *Bootstrapper) loadModules(ctx context.Context, log logrus.FieldLogger) error {
	mods := b.Config.Host.Modules
	persistFile := b.Config.Host.ModulesFile

	loaded, err := b.Host.ReadFile(modulesFile)
	if err != nil {
		return fmt.Errorf("reading %s: %w", modulesFile, err)
	}

	n, err := reconcile(presence(mods),
		func(mod string) (string, error) {
			return presentIf(ContainsModule(string(loaded), mod), nil)
		},
		func(s config.Setting) error {
			log.Infof("loading kernel module %s...", s.Key)
			_, err := b.Host.Run(ctx, "modprobe", s.Key)
			return err
		})
	if err != nil {
		return err
	}
	log.Infof("loaded %d of %d kernel modules", n, len(mods))

	n, err = reconcile(presence(mods),
		func(mod string) (string, error) {
			return presentIf(b.Host.ContainsLine(persistFile, mod))
		},
		func(s config.Setting) error {
			return b.Host.AppendLine(persistFile, s.Key)
		})
	if err != nil {
		return err
	}
	log.Infof("persisted %d of %d kernel modules to %s", n, len(mods), persistFile)
	return nil
}

// ContainsModule reports whether a module is listed in /proc/modules output.
func ContainsModule(procModules, name string) bool {
	for _, line := range strings.Split(procModules, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == name {
			return true
		}
	}
	return false
}

// applySysctls appends an assignment for each key whose live value is wrong
// and applies the file once, only if anything was appended.
func (b *Bootstrapper) applySysctls(ctx context.Context, log logrus.FieldLogger) error {
	file := b.Config.Host.SysctlFile

	n, err := reconcile(b.Config.Host.Sysctls,
		func(key string) (string, error) {
			out, err := b.Host.Run(ctx, "sysctl", "-n", key)
			if host.ExitCode(err) > 0 {
				log.WithError(err).Warnf("unable to read %s", key)
				return "", nil
			}
			return strings.TrimSpace(string(out)), err
		},
		func(s config.Setting) error {
			log.Infof("setting %s = %s", s.Key, s.Value)
			return b.Host.AppendLine(file, s.Key+" = "+s.Value)
		})
	if err != nil {
		return err
	}
	if n == 0 {
		log.Info("kernel parameters already set")
		return nil
	}

	log.Infof("applying %s...", file)
	if _, err := b.Host.Run(ctx, "sysctl", "-p", file); err != nil {
		return fmt.Errorf("applying %s: %w", file, err)
	}
	log.Infof("applied %d kernel parameters", n)
	return nil
}
