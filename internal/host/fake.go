package host

import (
	"context"
	"strings"
	"sync"
)

// FakeRunner is a scripted Runner for tests. Commands are matched against
// registered prefixes of the space-joined command line, longest prefix
// first. Unmatched commands succeed with no output.
type FakeRunner struct {
	lock     sync.Mutex
	calls    []string
	handlers map[string]func(args []string) ([]byte, error)
}

// Handle registers fn for every command line starting with prefix.
func (f *FakeRunner) Handle(prefix string, fn func(args []string) ([]byte, error)) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.handlers == nil {
		f.handlers = map[string]func([]string) ([]byte, error){}
	}
	f.handlers[prefix] = fn
}

// Respond registers a fixed output and exit code for prefix.
func (f *FakeRunner) Respond(prefix, output string, exitCode int) {
	f.Handle(prefix, func(args []string) ([]byte, error) {
		if exitCode != 0 {
			return []byte(output), &CommandError{Command: prefix, Output: []byte(output), ExitCode: exitCode}
		}
		return []byte(output), nil
	})
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	argv := append([]string{name}, args...)
	line := strings.Join(argv, " ")

	f.lock.Lock()
	f.calls = append(f.calls, line)
	var (
		best string
		fn   func([]string) ([]byte, error)
	)
	for prefix, h := range f.handlers {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best, fn = prefix, h
		}
	}
	f.lock.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(argv)
}

// Calls returns every command line run so far.
func (f *FakeRunner) Calls() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string{}, f.calls...)
}

// Count returns how many command lines started with prefix.
func (f *FakeRunner) Count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
