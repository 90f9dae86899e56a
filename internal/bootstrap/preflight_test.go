package bootstrap

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jveski/airlift/internal/host"
)

func TestConfirm(t *testing.T) {
	for _, answer := range []string{"y\n", "Y\n", "yes\n", "YES", "  Yes  \n"} {
		assert.NoError(t, Confirm(strings.NewReader(answer), &bytes.Buffer{}, false), "answer %q", answer)
	}

	for _, answer := range []string{"", "\n", "n\n", "no\n", "yess\n", "sure\n"} {
		assert.ErrorIs(t, Confirm(strings.NewReader(answer), &bytes.Buffer{}, false), ErrAborted, "answer %q", answer)
	}

	t.Run("assume yes does not read input", func(t *testing.T) {
		out := &bytes.Buffer{}
		in := strings.NewReader("n\n")
		require.NoError(t, Confirm(in, out, true))
		assert.Empty(t, out.String())
		assert.Equal(t, 3, in.Len())
	})
}

func TestRunAborted(t *testing.T) {
	b, f := newTestBootstrapper(t)
	writeFile(t, b.Host.Path(host.OSReleaseFile), "ID=rocky\nVERSION_ID=9.3\nPRETTY_NAME=\"Rocky Linux 9.3\"\n")
	f.Respond("hostname", "node1\n", 0)
	b.In = strings.NewReader("n\n")

	err := b.Run(context.Background())
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, []string{"hostname", "uname -r"}, f.Calls())

	out := b.Out.(*bytes.Buffer).String()
	assert.Contains(t, out, "host:   node1")
	assert.Contains(t, out, "os:     Rocky Linux 9.3")
}
