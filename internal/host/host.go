package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Host is the machine being provisioned: a command runner plus a filesystem
// root that every absolute host path is resolved under.
type Host struct {
	Runner
	Root string
}

// New returns a Host rooted at "/".
func New(r Runner) *Host {
	return &Host{Runner: r, Root: "/"}
}

// Path maps an absolute host path onto the host root.
func (h *Host) Path(p string) string {
	if h.Root == "" || h.Root == "/" {
		return p
	}
	return filepath.Join(h.Root, p)
}

// Succeeds runs a command and reports whether it exited zero.
// Errors other than a non-zero exit are returned.
func (h *Host) Succeeds(ctx context.Context, name string, args ...string) (bool, error) {
	_, err := h.Run(ctx, name, args...)
	if err == nil {
		return true, nil
	}
	if ExitCode(err) > 0 {
		return false, nil
	}
	return false, err
}

func (h *Host) ReadFile(p string) ([]byte, error) {
	return os.ReadFile(h.Path(p))
}

// Exists reports whether p exists on the host.
func (h *Host) Exists(p string) (bool, error) {
	_, err := os.Stat(h.Path(p))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// WriteFileIfChanged writes content to p unless the file already holds
// exactly those bytes. The write goes through a temp file in the same
// directory so readers never see a partial file.
func (h *Host) WriteFileIfChanged(p string, content []byte, perm os.FileMode) (bool, error) {
	dest := h.Path(p)
	current, err := os.ReadFile(dest)
	if err == nil && bytes.Equal(current, content) {
		return false, nil // already up to date
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("reading %s: %w", p, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return false, fmt.Errorf("creating parent directory of %s: %w", p, err)
	}

	tmp := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+"."+uuid.NewString())
	if err := os.WriteFile(tmp, content, perm); err != nil {
		return false, fmt.Errorf("writing %s: %w", p, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("replacing %s: %w", p, err)
	}
	return true, nil
}

// AppendLine appends line plus a newline to p, creating it if needed.
// A missing trailing newline in the existing file is repaired first.
func (h *Host) AppendLine(p, line string) error {
	dest := h.Path(p)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating parent directory of %s: %w", p, err)
	}

	current, err := os.ReadFile(dest)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", p, err)
	}

	f, err := os.OpenFile(dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", p, err)
	}
	defer f.Close()

	if len(current) > 0 && !strings.HasSuffix(string(current), "\n") {
		line = "\n" + line
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("appending to %s: %w", p, err)
	}
	return f.Close()
}

// ContainsLine reports whether p has a line equal to line after trimming.
// A missing file contains nothing.
func (h *Host) ContainsLine(p, line string) (bool, error) {
	buf, err := h.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", p, err)
	}
	for _, l := range strings.Split(string(buf), "\n") {
		if strings.TrimSpace(l) == line {
			return true, nil
		}
	}
	return false, nil
}
