package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileIfChanged(t *testing.T) {
	h := &Host{Root: t.TempDir()}
	fp := h.Path("/etc/containerd/config.toml")

	t.Run("initial creation", func(t *testing.T) {
		changed, err := h.WriteFileIfChanged("/etc/containerd/config.toml", []byte("a = 1\n"), 0644)
		require.NoError(t, err)
		assert.True(t, changed)

		actual, err := os.ReadFile(fp)
		require.NoError(t, err)
		assert.Equal(t, "a = 1\n", string(actual))
	})

	t.Run("update", func(t *testing.T) {
		changed, err := h.WriteFileIfChanged("/etc/containerd/config.toml", []byte("a = 2\n"), 0644)
		require.NoError(t, err)
		assert.True(t, changed)

		actual, err := os.ReadFile(fp)
		require.NoError(t, err)
		assert.Equal(t, "a = 2\n", string(actual))
	})

	t.Run("idempotence", func(t *testing.T) {
		stat, err := os.Stat(fp)
		require.NoError(t, err)
		prevModTime := stat.ModTime()
		time.Sleep(time.Millisecond) // make sure mod time has time to increment

		changed, err := h.WriteFileIfChanged("/etc/containerd/config.toml", []byte("a = 2\n"), 0644)
		require.NoError(t, err)
		assert.False(t, changed)

		stat, err = os.Stat(fp)
		require.NoError(t, err)
		assert.Equal(t, prevModTime, stat.ModTime())
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Dir(fp))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestAppendLine(t *testing.T) {
	h := &Host{Root: t.TempDir()}
	require.NoError(t, os.MkdirAll(h.Path("/etc"), 0755))
	require.NoError(t, os.WriteFile(h.Path("/etc/k8s.conf"), []byte("overlay"), 0644))

	require.NoError(t, h.AppendLine("/etc/k8s.conf", "br_netfilter"))

	actual, err := os.ReadFile(h.Path("/etc/k8s.conf"))
	require.NoError(t, err)
	assert.Equal(t, "overlay\nbr_netfilter\n", string(actual))

	ok, err := h.ContainsLine("/etc/k8s.conf", "br_netfilter")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.ContainsLine("/etc/missing.conf", "br_netfilter")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSucceeds(t *testing.T) {
	f := &FakeRunner{}
	f.Respond("rpm -q kubeadm", "package kubeadm is not installed", 1)
	h := New(f)

	ok, err := h.Succeeds(context.Background(), "rpm", "-q", "kubeadm")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.Succeeds(context.Background(), "rpm", "-q", "kubectl")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []string{"rpm -q kubeadm", "rpm -q kubectl"}, f.Calls())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 3, ExitCode(&CommandError{ExitCode: 3}))
	assert.Equal(t, -1, ExitCode(os.ErrNotExist))
	assert.EqualError(t, &CommandError{Command: "swapoff -a", Output: []byte("denied\n"), ExitCode: 1}, "`swapoff -a` exited with status 1: denied")
}

func TestParseOSRelease(t *testing.T) {
	rel := ParseOSRelease([]byte(`NAME="Rocky Linux"
VERSION="9.3 (Blue Onyx)"
ID="rocky"
ID_LIKE="rhel centos fedora"
VERSION_ID="9.3"
# comment
PRETTY_NAME="Rocky Linux 9.3 (Blue Onyx)"
`))
	assert.Equal(t, "rocky", rel.ID)
	assert.Equal(t, []string{"rhel", "centos", "fedora"}, rel.IDLike)
	assert.Equal(t, "9.3", rel.VersionID)
	assert.Equal(t, "Rocky Linux 9.3 (Blue Onyx)", rel.PrettyName)
}
