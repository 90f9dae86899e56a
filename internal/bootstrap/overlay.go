package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Workload identifies a namespaced object.
type Workload struct {
	Namespace string
	Name      string
}

func (w Workload) String() string { return w.Namespace + "/" + w.Name }

type manifestObject struct {
	Kind     string `yaml:"kind"`
	Metadata struct {
		Name      string `yaml:"name"`
		Namespace string `yaml:"namespace"`
	} `yaml:"metadata"`
}

// OverlayDaemonSet returns the first DaemonSet declared in a multi-document
// manifest.
func OverlayDaemonSet(manifest []byte) (Workload, bool, error) {
	dec := yaml.NewDecoder(bytes.NewReader(manifest))
	for {
		obj := &manifestObject{}
		err := dec.Decode(obj)
		if errors.Is(err, io.EOF) {
			return Workload{}, false, nil
		}
		if err != nil {
			return Workload{}, false, fmt.Errorf("decoding manifest: %w", err)
		}
		if obj.Kind != "DaemonSet" || obj.Metadata.Name == "" {
			continue
		}

		ns := obj.Metadata.Namespace
		if ns == "" {
			ns = metav1.NamespaceDefault
		}
		return Workload{Namespace: ns, Name: obj.Metadata.Name}, true, nil
	}
}

// applyOverlay applies the network overlay manifest unless its DaemonSet
// already exists.
func (b *Bootstrapper) applyOverlay(ctx context.Context, log logrus.FieldLogger, cs kubernetes.Interface) error {
	path := b.Config.OverlayManifestPath()
	manifest, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading overlay manifest: %w", err)
	}

	wl, ok, err := OverlayDaemonSet(manifest)
	if err != nil {
		return err
	}
	if !ok {
		wl = Workload{Namespace: b.Config.Cluster.OverlayNamespace, Name: b.Config.Cluster.OverlayName}
	}

	_, err = cs.AppsV1().DaemonSets(wl.Namespace).Get(ctx, wl.Name, metav1.GetOptions{})
	if err == nil {
		log.Infof("network overlay %s already applied", wl)
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("looking up network overlay %s: %w", wl, err)
	}

	log.Infof("applying network overlay %s...", wl)
	_, err = b.Host.Run(ctx, "kubectl", "--kubeconfig", b.Host.Path(b.Config.Cluster.AdminConf), "apply", "-f", path)
	if err != nil {
		return fmt.Errorf("applying network overlay: %w", err)
	}
	log.Infof("applied network overlay %s", wl)
	return nil
}
