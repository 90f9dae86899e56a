package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/sirupsen/logrus"

	"github.com/jveski/airlift/internal/host"
)

// keyExtensions are the file extensions read from the bundle's key directory.
var keyExtensions = map[string]bool{".asc": true, ".gpg": true, ".pub": true, ".key": true}

// InstallError reports the packages still missing after a failed install.
type InstallError struct {
	Missing []string
	Err     error
}

func (i *InstallError) Error() string {
	return fmt.Sprintf("package installation failed, still missing: %s: %s", strings.Join(i.Missing, ", "), i.Err)
}

func (i *InstallError) Unwrap() error { return i.Err }

func (b *Bootstrapper) installDependencies(ctx context.Context, log logrus.FieldLogger) error {
	missing, err := b.missingPackages(ctx, b.Config.Packages.Dependencies)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		log.Info("dependencies already installed")
		return nil
	}

	log.Infof("installing dependencies: %s...", strings.Join(missing, " "))
	if _, err := b.Host.Run(ctx, "dnf", append([]string{"install", "-y"}, missing...)...); err != nil {
		return b.installFailed(ctx, missing, err)
	}
	log.Info("installed dependencies")
	return nil
}

func (b *Bootstrapper) installOffline(ctx context.Context, log logrus.FieldLogger) error {
	if err := b.importKeys(ctx, log); err != nil {
		return err
	}

	missing, err := b.missingPackages(ctx, b.Config.Packages.Offline)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		log.Info("offline packages already installed")
		return nil
	}

	dir := b.Config.Bundle.PackageDir(b.family)
	archives, err := b.indexArchives(ctx, dir)
	if err != nil {
		return err
	}

	args := []string{"install", "-y", "--disablerepo=*"}
	for _, name := range missing {
		files := archives[name]
		switch {
		case len(files) == 0:
			return fmt.Errorf("no archive for package %q in %s", name, dir)
		case len(files) > 1:
			return fmt.Errorf("multiple archives for package %q in %s: %s", name, dir, strings.Join(files, ", "))
		}
		args = append(args, files[0])
	}

	log.Infof("installing offline packages: %s...", strings.Join(missing, " "))
	if _, err := b.Host.Run(ctx, "dnf", args...); err != nil {
		return b.installFailed(ctx, missing, err)
	}
	log.Info("installed offline packages")
	return nil
}

// missingPackages returns the names the package database does not know.
func (b *Bootstrapper) missingPackages(ctx context.Context, names []string) ([]string, error) {
	var missing []string
	for _, name := range names {
		ok, err := b.Host.Succeeds(ctx, "rpm", "-q", name)
		if err != nil {
			return nil, fmt.Errorf("querying package %q: %w", name, err)
		}
		if !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

func (b *Bootstrapper) installFailed(ctx context.Context, targets []string, cause error) error {
	still, err := b.missingPackages(ctx, targets)
	if err != nil {
		still = targets
	}
	return &InstallError{Missing: still, Err: cause}
}

// indexArchives maps package names to the RPM files in dir that provide them.
func (b *Bootstrapper) indexArchives(ctx context.Context, dir string) (map[string][]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.rpm"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no package archives found in %s", dir)
	}

	index := map[string][]string{}
	for _, file := range files {
		out, err := b.Host.Run(ctx, "rpm", "-qp", "--queryformat", "%{NAME}", file)
		if err != nil {
			return nil, fmt.Errorf("reading package name of %s: %w", file, err)
		}
		name := strings.TrimSpace(string(out))
		index[name] = append(index[name], file)
	}
	return index, nil
}

// importKeys registers every signing key in the bundle that rpm does not
// already trust.
func (b *Bootstrapper) importKeys(ctx context.Context, log logrus.FieldLogger) error {
	dir := b.Config.Bundle.KeysDir()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		log.Warnf("no signing key directory at %s", dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing signing keys: %w", err)
	}

	registered, err := b.registeredKeys(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !keyExtensions[filepath.Ext(entry.Name())] {
			continue
		}
		file := filepath.Join(dir, entry.Name())

		buf, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading signing key: %w", err)
		}
		ids, err := KeyIDs(buf)
		if err != nil {
			return fmt.Errorf("parsing signing key %s: %w", entry.Name(), err)
		}
		if containsAll(registered, ids) {
			log.Infof("signing key %s already imported", entry.Name())
			continue
		}

		log.Infof("importing signing key %s...", entry.Name())
		if _, err := b.Host.Run(ctx, "rpm", "--import", file); err != nil {
			return fmt.Errorf("importing signing key %s: %w", entry.Name(), err)
		}
		for _, id := range ids {
			registered[id] = struct{}{}
		}
		log.Infof("imported signing key %s", entry.Name())
	}
	return nil
}

// registeredKeys returns the short key IDs rpm has imported as gpg-pubkey
// pseudo-packages.
func (b *Bootstrapper) registeredKeys(ctx context.Context) (map[string]struct{}, error) {
	keys := map[string]struct{}{}
	out, err := b.Host.Run(ctx, "rpm", "-q", "gpg-pubkey", "--queryformat", "%{VERSION}\n")
	if host.ExitCode(err) > 0 {
		return keys, nil // no keys imported yet
	}
	if err != nil {
		return nil, fmt.Errorf("listing imported signing keys: %w", err)
	}
	for _, id := range strings.Fields(string(out)) {
		keys[strings.ToLower(id)] = struct{}{}
	}
	return keys, nil
}

// KeyIDs returns the rpm-style short IDs (low 32 bits, lowercase hex) of
// every primary key in an armored or binary OpenPGP key file.
func KeyIDs(buf []byte) ([]string, error) {
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(buf))
	if err != nil {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(buf))
	}
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, errors.New("no keys found")
	}

	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, fmt.Sprintf("%08x", uint32(e.PrimaryKey.KeyId)))
	}
	sort.Strings(ids)
	return ids, nil
}

func containsAll(set map[string]struct{}, keys []string) bool {
	for _, k := range keys {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}
