package bootstrap

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivateServices(t *testing.T) {
	b, f := newTestBootstrapper(t)

	// containerd: enabled but stopped. kubelet: running but disabled.
	f.Respond("systemctl is-active --quiet containerd", "", 3)
	f.Respond("systemctl is-enabled --quiet kubelet", "", 1)

	require.NoError(t, b.activateServices(context.Background(), logrus.New()))

	assert.Equal(t, []string{
		"systemctl is-enabled --quiet containerd",
		"systemctl is-active --quiet containerd",
		"systemctl start containerd",
		"systemctl is-enabled --quiet kubelet",
		"systemctl enable kubelet",
		"systemctl is-active --quiet kubelet",
	}, f.Calls())
}

func TestActivateServicesFailure(t *testing.T) {
	b, f := newTestBootstrapper(t)
	f.Respond("systemctl is-active --quiet containerd", "", 3)
	f.Respond("systemctl start containerd", "Job for containerd.service failed", 1)

	err := b.activateServices(context.Background(), logrus.New())
	assert.ErrorContains(t, err, "starting containerd")
	assert.Zero(t, f.Count("systemctl is-enabled --quiet kubelet"))
}
