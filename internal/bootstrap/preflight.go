package bootstrap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/jveski/airlift/internal/host"
)

// ErrAborted is returned when the operator declines the confirmation.
var ErrAborted = errors.New("aborted by operator")

// preflight prints what is about to be provisioned and asks for consent.
func (b *Bootstrapper) preflight(ctx context.Context) (*host.OSRelease, error) {
	hostname := b.commandLine(ctx, "hostname")
	kernel := b.commandLine(ctx, "uname", "-r")

	rel, err := b.Host.ReadOSRelease()
	if err != nil {
		b.Log.WithError(err).Warn("unable to read os-release")
		rel = &host.OSRelease{}
	}

	bold := color.New(color.Bold)
	bold.Fprintln(b.Out, "airlift: offline control plane bootstrap")
	fmt.Fprintf(b.Out, "  host:   %s\n", hostname)
	fmt.Fprintf(b.Out, "  os:     %s\n", orUnknown(rel.PrettyName))
	fmt.Fprintf(b.Out, "  kernel: %s\n", kernel)
	fmt.Fprintf(b.Out, "  bundle: %s\n", b.Config.Bundle.Dir)

	if err := Confirm(b.In, b.Out, b.AssumeYes); err != nil {
		return nil, err
	}
	return rel, nil
}

// Confirm asks the operator to proceed unless assumeYes is set. Only a
// case-insensitive "y" or "yes" is accepted.
func Confirm(in io.Reader, out io.Writer, assumeYes bool) error {
	if assumeYes {
		return nil
	}

	fmt.Fprint(out, "Proceed with provisioning this host? [y/N]: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	default:
		return ErrAborted
	}
}

func (b *Bootstrapper) commandLine(ctx context.Context, name string, args ...string) string {
	out, err := b.Host.Run(ctx, name, args...)
	if err != nil {
		return "unknown"
	}
	return orUnknown(strings.TrimSpace(string(out)))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
