package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"

	"github.com/jveski/airlift/internal/poll"
)

// CredentialError is returned when the admin kubeconfig cannot be handed to
// the invoking user.
type CredentialError struct {
	Step string
	Err  error
}

func (c *CredentialError) Error() string {
	return fmt.Sprintf("installing admin credentials (%s): %s", c.Step, c.Err)
}

func (c *CredentialError) Unwrap() error { return c.Err }

func (b *Bootstrapper) initCluster(ctx context.Context, log logrus.FieldLogger) error {
	if err := b.importImages(ctx, log); err != nil {
		return err
	}
	if err := b.initControlPlane(ctx, log); err != nil {
		return err
	}
	if err := b.installCredentials(log); err != nil {
		return err
	}

	cs, err := b.KubeClient(b.Host.Path(b.Config.Cluster.AdminConf))
	if err != nil {
		return err
	}
	if err := b.waitForAPIServer(ctx, log, cs); err != nil {
		return err
	}
	if err := b.applyOverlay(ctx, log, cs); err != nil {
		return err
	}
	return b.report(ctx, cs)
}

// initControlPlane runs kubeadm init unless the admin kubeconfig exists.
func (b *Bootstrapper) initControlPlane(ctx context.Context, log logrus.FieldLogger) error {
	c := b.Config.Cluster

	initialized, err := b.Host.Exists(c.AdminConf)
	if err != nil {
		return fmt.Errorf("checking %s: %w", c.AdminConf, err)
	}
	if initialized {
		log.Infof("control plane already initialized (%s exists)", c.AdminConf)
		return nil
	}

	args := []string{
		"init",
		"--pod-network-cidr=" + c.PodNetworkCIDR,
		"--cri-socket=unix://" + b.Config.Runtime.Socket,
	}
	if c.KubernetesVersion != "" {
		args = append(args, "--kubernetes-version="+c.KubernetesVersion)
	}

	log.Info("initializing control plane...")
	if _, err := b.Host.Run(ctx, "kubeadm", args...); err != nil {
		return fmt.Errorf("initializing control plane: %w", err)
	}
	log.Info("initialized control plane")
	return nil
}

// installCredentials copies the admin kubeconfig to ~/.kube/config of the
// invoking user and hands ownership to them.
func (b *Bootstrapper) installCredentials(log logrus.FieldLogger) error {
	u, err := b.LookupUser()
	if err != nil {
		return &CredentialError{Step: "looking up invoking user", Err: err}
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return &CredentialError{Step: "parsing uid", Err: err}
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return &CredentialError{Step: "parsing gid", Err: err}
	}

	conf, err := b.Host.ReadFile(b.Config.Cluster.AdminConf)
	if err != nil {
		return &CredentialError{Step: "reading admin kubeconfig", Err: err}
	}

	dir := filepath.Join(u.HomeDir, ".kube")
	dest := filepath.Join(dir, "config")
	if err := os.MkdirAll(b.Host.Path(dir), 0700); err != nil {
		return &CredentialError{Step: "creating " + dir, Err: err}
	}
	changed, err := b.Host.WriteFileIfChanged(dest, conf, 0600)
	if err != nil {
		return &CredentialError{Step: "writing " + dest, Err: err}
	}
	for _, p := range []string{dir, dest} {
		if err := os.Chown(b.Host.Path(p), uid, gid); err != nil {
			return &CredentialError{Step: "changing owner of " + p, Err: err}
		}
	}

	if changed {
		log.Infof("wrote admin kubeconfig to %s for user %s", dest, u.Username)
	} else {
		log.Infof("admin kubeconfig for user %s is up to date", u.Username)
	}
	return nil
}

func (b *Bootstrapper) waitForAPIServer(ctx context.Context, log logrus.FieldLogger, cs kubernetes.Interface) error {
	w := b.Config.Cluster.APIWait
	log.Info("waiting for the API server to become healthy...")

	policy := poll.Policy{Interval: w.Interval, Timeout: w.Timeout}
	err := policy.Until(ctx, "API server health", func(ctx context.Context) (bool, error) {
		body, err := cs.Discovery().RESTClient().Get().AbsPath("/healthz").DoRaw(ctx)
		return err == nil && string(body) == "ok", nil
	})
	if err != nil {
		return err
	}
	log.Info("API server is healthy")
	return nil
}
