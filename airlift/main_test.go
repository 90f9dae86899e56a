package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jveski/airlift/internal/bootstrap"
	"github.com/jveski/airlift/internal/poll"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitTimeout, exitCode(fmt.Errorf("runtime phase: %w", poll.ErrTimeout)))
	assert.Equal(t, exitError, exitCode(bootstrap.ErrAborted))
	assert.Equal(t, exitError, exitCode(bootstrap.ErrUnsupportedOS))
	assert.Equal(t, exitError, exitCode(&bootstrap.InstallError{Missing: []string{"kubeadm"}, Err: errors.New("boom")}))
	assert.Equal(t, exitError, exitCode(&bootstrap.CredentialError{Step: "chown", Err: errors.New("boom")}))
	assert.Equal(t, exitError, exitCode(fmt.Errorf("cluster phase: %w", &bootstrap.ImportError{Archives: []string{"/bundle/images/overlay-images.tar"}})))
}

func TestGetErrorString(t *testing.T) {
	t.Run("aborted", func(t *testing.T) {
		assert.Equal(t, "Aborted, no changes were made.\n", getErrorString(bootstrap.ErrAborted))
	})

	t.Run("install", func(t *testing.T) {
		err := fmt.Errorf("packages phase: %w", &bootstrap.InstallError{Missing: []string{"kubeadm", "kubelet"}, Err: errors.New("dnf failed")})
		assert.Equal(t, "Package installation failed. These packages are still not installed:\n\n  kubeadm\n  kubelet\n\nerror: packages phase: package installation failed, still missing: kubeadm, kubelet: dnf failed\n", getErrorString(err))
	})

	t.Run("image import", func(t *testing.T) {
		err := fmt.Errorf("cluster phase: %w", &bootstrap.ImportError{Archives: []string{"/bundle/images/kubernetes-images.tar", "/bundle/images/overlay-images.tar"}})
		assert.Equal(t, "Control plane initialization was skipped because these image archives could not be imported:\n\n"+
			"  /bundle/images/kubernetes-images.tar\n  /bundle/images/overlay-images.tar\n\nRe-run once the archives are fixed.\n", getErrorString(err))
	})

	t.Run("generic", func(t *testing.T) {
		assert.Equal(t, "error: nope\n", getErrorString(errors.New("nope")))
	})
}

func TestIsPhase(t *testing.T) {
	assert.True(t, isPhase("runtime"))
	assert.False(t, isPhase("preflight"))
}
