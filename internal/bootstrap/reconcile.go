package bootstrap

import (
	"fmt"

	"github.com/jveski/airlift/internal/config"
)

// reconcile applies every setting whose current value differs from the
// desired one, in order, and returns how many were applied.
func reconcile(settings []config.Setting, current func(key string) (string, error), apply func(config.Setting) error) (int, error) {
	changed := 0
	for _, s := range settings {
		val, err := current(s.Key)
		if err != nil {
			return changed, fmt.Errorf("reading %s: %w", s.Key, err)
		}
		if val == s.Value {
			continue // already in place
		}
		if err := apply(s); err != nil {
			return changed, fmt.Errorf("applying %s: %w", s.Key, err)
		}
		changed++
	}
	return changed, nil
}

// presence turns a list of names into settings whose desired value is
// "present", for use with reconcile.
func presence(names []string) []config.Setting {
	settings := make([]config.Setting, len(names))
	for i, n := range names {
		settings[i] = config.Setting{Key: n, Value: present}
	}
	return settings
}

const present = "present"

func presentIf(ok bool, err error) (string, error) {
	if err != nil || !ok {
		return "", err
	}
	return present, nil
}
