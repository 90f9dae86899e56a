package bootstrap

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/jveski/airlift/internal/config"
	"github.com/jveski/airlift/internal/host"
)

// newTestBootstrapper returns a Bootstrapper whose host root and bundle are
// temp dirs and whose commands go to the returned fake.
func newTestBootstrapper(t *testing.T) (*Bootstrapper, *host.FakeRunner) {
	t.Helper()

	cfg := config.Default()
	cfg.Bundle.Dir = t.TempDir()
	cfg.Runtime.SocketWait = config.Wait{Interval: time.Millisecond * 5, Timeout: time.Millisecond * 50}
	cfg.Cluster.APIWait = config.Wait{Interval: time.Millisecond * 5, Timeout: time.Millisecond * 50}

	log := logrus.New()
	log.SetOutput(io.Discard)

	f := &host.FakeRunner{}
	b := &Bootstrapper{
		Host:   &host.Host{Runner: f, Root: t.TempDir()},
		Config: cfg,
		Log:    log,
		In:     strings.NewReader(""),
		Out:    &bytes.Buffer{},
		LookupUser: func() (*user.User, error) {
			u, err := user.Current()
			if err != nil {
				return nil, err
			}
			cp := *u
			cp.Username = "tester"
			cp.HomeDir = "/home/tester"
			return &cp, nil
		},
		family: "el9",
	}
	return b, f
}

// writeFile writes content to an absolute path, creating parents.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(buf)
}

// writeTar writes a tar archive holding the given files.
func writeTar(t *testing.T, path string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

// writeDockerArchive writes a docker-save style archive naming tags.
func writeDockerArchive(t *testing.T, path string, tags ...string) {
	t.Helper()
	manifest, err := json.Marshal([]map[string]any{{
		"Config":   "config.json",
		"RepoTags": tags,
		"Layers":   []string{},
	}})
	require.NoError(t, err)
	writeTar(t, path, map[string]string{"manifest.json": string(manifest), "config.json": "{}"})
}

// fakeAPIServer serves the handful of API endpoints the bootstrapper reads.
type fakeAPIServer struct {
	Healthy    bool
	DaemonSets map[string]bool // "namespace/name"
	Nodes      []corev1.Node
}

func (f *fakeAPIServer) Client(t *testing.T) kubernetes.Interface {
	t.Helper()

	router := httprouter.New()
	router.GET("/healthz", func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if !f.Healthy {
			http.Error(w, "etcd not ready", 500)
			return
		}
		w.Write([]byte("ok"))
	})
	router.GET("/version", func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		writeJSON(w, 200, map[string]string{"major": "1", "minor": "30", "gitVersion": "v1.30.2"})
	})
	router.GET("/apis/apps/v1/namespaces/:ns/daemonsets/:name", func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if !f.DaemonSets[p.ByName("ns")+"/"+p.ByName("name")] {
			writeJSON(w, 404, &metav1.Status{
				TypeMeta: metav1.TypeMeta{Kind: "Status", APIVersion: "v1"},
				Status:   metav1.StatusFailure,
				Reason:   metav1.StatusReasonNotFound,
				Code:     404,
			})
			return
		}
		writeJSON(w, 200, &appsv1.DaemonSet{
			TypeMeta:   metav1.TypeMeta{Kind: "DaemonSet", APIVersion: "apps/v1"},
			ObjectMeta: metav1.ObjectMeta{Namespace: p.ByName("ns"), Name: p.ByName("name")},
		})
	})
	router.GET("/api/v1/nodes", func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		writeJSON(w, 200, &corev1.NodeList{
			TypeMeta: metav1.TypeMeta{Kind: "NodeList", APIVersion: "v1"},
			Items:    f.Nodes,
		})
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	cs, err := kubernetes.NewForConfig(&rest.Config{Host: srv.URL})
	require.NoError(t, err)
	return cs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readyNode(name string) corev1.Node {
	return corev1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name:              name,
			Labels:            map[string]string{roleLabelPrefix + "control-plane": ""},
			CreationTimestamp: metav1.NewTime(time.Now().Add(-time.Minute * 5)),
		},
		Status: corev1.NodeStatus{
			Conditions: []corev1.NodeCondition{{Type: corev1.NodeReady, Status: corev1.ConditionTrue}},
			NodeInfo:   corev1.NodeSystemInfo{KubeletVersion: "v1.30.2"},
		},
	}
}
