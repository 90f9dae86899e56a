// Package bootstrap provisions a single-node control plane from an offline
// bundle. Every phase inspects live host state before changing it, so a run
// on an already provisioned host performs no mutations.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/jveski/airlift/internal/config"
	"github.com/jveski/airlift/internal/host"
)

// Phase names accepted by Skip.
const (
	PhaseDeps     = "deps"
	PhasePackages = "packages"
	PhaseServices = "services"
	PhaseRuntime  = "runtime"
	PhaseHost     = "host"
	PhaseCluster  = "cluster"
)

var Phases = []string{PhaseDeps, PhasePackages, PhaseServices, PhaseRuntime, PhaseHost, PhaseCluster}

// KubeClientFunc builds a client from a kubeconfig file path.
type KubeClientFunc func(kubeconfig string) (kubernetes.Interface, error)

type Bootstrapper struct {
	Host   *host.Host
	Config *config.Config
	Log    logrus.FieldLogger

	// Operator interaction
	In        io.Reader
	Out       io.Writer
	AssumeYes bool

	Skip map[string]bool

	KubeClient KubeClientFunc
	LookupUser func() (*user.User, error)

	family string // package directory for the detected OS, i.e. "el9"
}

// New returns a Bootstrapper wired to the real host.
func New(cfg *config.Config, log logrus.FieldLogger) *Bootstrapper {
	return &Bootstrapper{
		Host:       host.New(&host.ExecRunner{Log: log}),
		Config:     cfg,
		Log:        log,
		In:         os.Stdin,
		Out:        os.Stdout,
		KubeClient: kubeClientFromFile,
		LookupUser: invokingUser,
	}
}

// Run executes every phase in order and stops at the first fatal error.
func (b *Bootstrapper) Run(ctx context.Context) error {
	rel, err := b.preflight(ctx)
	if err != nil {
		return err
	}

	b.family, err = PackageFamily(rel)
	if err != nil {
		return err
	}
	b.Log.WithField("family", b.family).Info("detected supported operating system")

	steps := []struct {
		name string
		fn   func(context.Context, logrus.FieldLogger) error
	}{
		{PhaseDeps, b.installDependencies},
		{PhasePackages, b.installOffline},
		{PhaseServices, b.activateServices},
		{PhaseRuntime, b.configureRuntime},
		{PhaseHost, b.configureHost},
		{PhaseCluster, b.initCluster},
	}
	for _, step := range steps {
		log := b.Log.WithField("phase", step.name)
		if b.Skip[step.name] {
			log.Warn("skipping phase")
			continue
		}

		log.Info("starting phase...")
		if err := step.fn(ctx, log); err != nil {
			return fmt.Errorf("%s phase: %w", step.name, err)
		}
		log.Info("finished phase")
	}

	return nil
}

func kubeClientFromFile(kubeconfig string) (kubernetes.Interface, error) {
	rc, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig %s: %w", kubeconfig, err)
	}
	return kubernetes.NewForConfig(rc)
}

// invokingUser is the user who ran sudo, or the current user otherwise.
func invokingUser() (*user.User, error) {
	if name := os.Getenv("SUDO_USER"); name != "" {
		return user.Lookup(name)
	}
	return user.Current()
}
