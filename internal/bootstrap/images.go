package bootstrap

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"
)

// ErrImportsIncomplete gates control plane init when any archive failed.
var ErrImportsIncomplete = errors.New("image import incomplete")

const containerdImageNameAnnotation = "io.containerd.image.name"

// ImportError lists the archives that could not be imported.
type ImportError struct {
	Archives []string
}

func (i *ImportError) Error() string {
	return fmt.Sprintf("%s: failed archives: %s", ErrImportsIncomplete, strings.Join(i.Archives, ", "))
}

func (i *ImportError) Unwrap() error { return ErrImportsIncomplete }

// importImages imports every archive that holds at least one image missing
// from the runtime. Archives are imported whole. A failed archive does not
// stop the others from being attempted.
func (b *Bootstrapper) importImages(ctx context.Context, log logrus.FieldLogger) error {
	present, err := b.listImages(ctx)
	if err != nil {
		return err
	}

	var failed []string
	for _, archive := range b.Config.ImageArchivePaths() {
		log := log.WithField("archive", filepath.Base(archive))

		images, err := ArchiveImages(archive)
		if err != nil {
			log.WithError(err).Error("unable to read image archive")
			failed = append(failed, archive)
			continue
		}

		missing := MissingImages(images, present)
		if len(missing) == 0 {
			log.Infof("all %d images already present", len(images))
			continue
		}

		log.Infof("importing archive for missing images %s...", strings.Join(missing, " "))
		_, err = b.Host.Run(ctx, "ctr", "--address", b.Config.Runtime.Socket, "-n", "k8s.io", "images", "import", archive)
		if err != nil {
			log.WithError(err).Error("image import failed")
			failed = append(failed, archive)
			continue
		}
		log.Infof("imported %d images", len(images))
	}

	if len(failed) > 0 {
		return &ImportError{Archives: failed}
	}
	return nil
}

type crictlImages struct {
	Images []struct {
		RepoTags []string `json:"repoTags"`
	} `json:"images"`
}

// listImages returns the normalized names in the runtime's image store.
func (b *Bootstrapper) listImages(ctx context.Context) (map[string]struct{}, error) {
	out, err := b.Host.Run(ctx, "crictl", "--runtime-endpoint", "unix://"+b.Config.Runtime.Socket, "images", "-o", "json")
	if err != nil {
		return nil, fmt.Errorf("listing runtime images: %w", err)
	}

	list := &crictlImages{}
	if err := json.Unmarshal(out, list); err != nil {
		return nil, fmt.Errorf("decoding 'crictl images' output: %w", err)
	}

	present := map[string]struct{}{}
	for _, img := range list.Images {
		for _, tag := range img.RepoTags {
			if n, err := NormalizeImage(tag); err == nil {
				present[n] = struct{}{}
			}
		}
	}
	return present, nil
}

// MissingImages returns the images not in present, sorted.
func MissingImages(images []string, present map[string]struct{}) []string {
	var missing []string
	for _, img := range images {
		if _, ok := present[img]; !ok {
			missing = append(missing, img)
		}
	}
	sort.Strings(missing)
	return missing
}

// ArchiveImages lists the fully qualified image names in a docker-save or
// OCI layout tar archive.
func ArchiveImages(path string) ([]string, error) {
	opener := func() (io.ReadCloser, error) { return os.Open(path) }

	var refs []string
	manifest, err := tarball.LoadManifest(opener)
	if err == nil {
		for _, desc := range manifest {
			refs = append(refs, desc.RepoTags...)
		}
	} else {
		idx, ierr := loadOCIIndex(opener)
		if ierr != nil {
			return nil, fmt.Errorf("archive has neither manifest.json (%s) nor index.json (%s)", err, ierr)
		}
		for _, desc := range idx.Manifests {
			if ref := desc.Annotations[containerdImageNameAnnotation]; ref != "" {
				refs = append(refs, ref)
			} else if ref := desc.Annotations[ocispec.AnnotationRefName]; strings.ContainsAny(ref, "/:") {
				refs = append(refs, ref)
			}
		}
	}
	if len(refs) == 0 {
		return nil, errors.New("archive does not name any images")
	}

	seen := map[string]bool{}
	images := make([]string, 0, len(refs))
	for _, ref := range refs {
		n, err := NormalizeImage(ref)
		if err != nil {
			return nil, err
		}
		if !seen[n] {
			seen[n] = true
			images = append(images, n)
		}
	}
	sort.Strings(images)
	return images, nil
}

func loadOCIIndex(opener tarball.Opener) (*ocispec.Index, error) {
	rc, err := opener()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("index.json not found")
		}
		if err != nil {
			return nil, err
		}
		if filepath.Clean(hdr.Name) != "index.json" {
			continue
		}

		idx := &ocispec.Index{}
		if err := json.NewDecoder(tr).Decode(idx); err != nil {
			return nil, fmt.Errorf("decoding index.json: %w", err)
		}
		return idx, nil
	}
}

// NormalizeImage expands a reference to the fully qualified form the
// runtime reports, i.e. "pause:3.9" becomes "docker.io/library/pause:3.9".
func NormalizeImage(ref string) (string, error) {
	r, err := name.ParseReference(ref)
	if err != nil {
		return "", fmt.Errorf("parsing image reference %q: %w", ref, err)
	}

	registry := r.Context().RegistryStr()
	if registry == name.DefaultRegistry {
		registry = "docker.io"
	}

	sep := ":"
	if _, ok := r.(name.Digest); ok {
		sep = "@"
	}
	return registry + "/" + r.Context().RepositoryStr() + sep + r.Identifier(), nil
}
