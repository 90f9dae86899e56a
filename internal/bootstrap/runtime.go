package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/jveski/airlift/internal/poll"
)

var (
	systemdCgroupRe = regexp.MustCompile(`(?m)^([ \t]*)SystemdCgroup[ \t]*=[ \t]*\S+`)
	runcOptionsRe   = regexp.MustCompile(`(?m)^([ \t]*)\[plugins\..*\.containerd\.runtimes\.runc\.options\][ \t]*$`)
)

const runcOptionsBlock = `
[plugins."io.containerd.grpc.v1.cri".containerd.runtimes.runc.options]
  SystemdCgroup = true
`

// ForceSystemdCgroup sets SystemdCgroup = true in a containerd config. An
// existing assignment is rewritten; otherwise the key is added to the runc
// options table, which is itself appended when missing.
func ForceSystemdCgroup(conf []byte) ([]byte, error) {
	var out []byte
	switch {
	case systemdCgroupRe.Match(conf):
		out = systemdCgroupRe.ReplaceAll(conf, []byte("${1}SystemdCgroup = true"))

	case runcOptionsRe.Match(conf):
		loc := runcOptionsRe.FindSubmatchIndex(conf)
		indent := string(conf[loc[2]:loc[3]]) + "  "
		out = append(out, conf[:loc[1]]...)
		out = append(out, "\n"+indent+"SystemdCgroup = true"...)
		out = append(out, conf[loc[1]:]...)

	default:
		out = append(out, conf...)
		if len(out) > 0 && !bytes.HasSuffix(out, []byte("\n")) {
			out = append(out, '\n')
		}
		out = append(out, runcOptionsBlock...)
	}

	doc := map[string]any{}
	if _, err := toml.Decode(string(out), &doc); err != nil {
		return nil, fmt.Errorf("patched containerd config is not valid TOML: %w", err)
	}
	if !findBool(doc, "SystemdCgroup") {
		return nil, errors.New("patched containerd config does not enable SystemdCgroup")
	}
	return out, nil
}

// findBool reports whether key is set to true anywhere in a decoded document.
func findBool(doc map[string]any, key string) bool {
	for k, v := range doc {
		switch val := v.(type) {
		case bool:
			if k == key && val {
				return true
			}
		case map[string]any:
			if findBool(val, key) {
				return true
			}
		}
	}
	return false
}

// configureRuntime converges the containerd config on the runtime's own
// defaults plus the systemd cgroup driver, restarting only on change.
func (b *Bootstrapper) configureRuntime(ctx context.Context, log logrus.FieldLogger) error {
	rt := b.Config.Runtime

	def, err := b.Host.Run(ctx, "containerd", "config", "default")
	if err != nil {
		return fmt.Errorf("generating default containerd config: %w", err)
	}

	conf, err := ForceSystemdCgroup(def)
	if err != nil {
		return err
	}

	changed, err := b.Host.WriteFileIfChanged(rt.ConfigFile, conf, 0644)
	if err != nil {
		return err
	}
	if changed {
		log.Infof("wrote %s, restarting %s...", rt.ConfigFile, rt.Service)
		if _, err := b.Host.Run(ctx, "systemctl", "restart", rt.Service); err != nil {
			return fmt.Errorf("restarting %s: %w", rt.Service, err)
		}
		log.Infof("restarted %s", rt.Service)
	} else {
		log.Infof("%s is up to date", rt.ConfigFile)
	}

	log.Infof("waiting for %s...", rt.Socket)
	policy := poll.Policy{Interval: rt.SocketWait.Interval, Timeout: rt.SocketWait.Timeout}
	err = policy.Until(ctx, "containerd socket "+rt.Socket, func(ctx context.Context) (bool, error) {
		return b.Host.Exists(rt.Socket)
	})
	if err != nil {
		return err
	}
	log.Info("containerd socket is ready")
	return nil
}
