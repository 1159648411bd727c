// Package loader reads FHIR NPM packages from the local package cache,
// .tgz archives (on disk, in memory or behind a URL) and loose conformance
// resources.
package loader

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofhir/pathcheck/pkg/logger"
)

// DefaultPackagePath returns the default FHIR package cache path.
func DefaultPackagePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fhir", "packages")
}

// PackageRef represents a reference to a FHIR package.
type PackageRef struct {
	Name    string
	Version string
}

// String returns the package spec in "name#version" format.
func (p PackageRef) String() string {
	return p.Name + "#" + p.Version
}

// Package represents a loaded FHIR package.
type Package struct {
	Name        string
	Version     string
	Path        string
	FHIRVersion string
	Resources   map[string]json.RawMessage // URL or resourceType/id -> raw JSON
}

// PackageManifest represents the package.json of a FHIR NPM package.
type PackageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	FHIRVersion  string            `json:"fhirVersion,omitempty"`
	FHIRVersions []string          `json:"fhirVersions,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// DefaultPackages maps FHIR versions to the packages a checker needs:
// the core definitions plus the extension pack used to resolve
// extension profiles.
var DefaultPackages = map[string][]PackageRef{
	"4.0.1": {
		{Name: "hl7.fhir.r4.core", Version: "4.0.1"},
		{Name: "hl7.fhir.uv.extensions.r4", Version: "5.2.0"},
	},
	"4.3.0": {
		{Name: "hl7.fhir.r4b.core", Version: "4.3.0"},
		{Name: "hl7.fhir.uv.extensions.r4", Version: "5.2.0"},
	},
	"5.0.0": {
		{Name: "hl7.fhir.r5.core", Version: "5.0.0"},
		{Name: "hl7.fhir.uv.extensions.r5", Version: "5.2.0"},
	},
}

// ErrPackageNotFound is returned when a package is not present in the cache.
var ErrPackageNotFound = errors.New("package not found")

// Loader loads FHIR packages from the NPM cache.
type Loader struct {
	basePath string
	client   *http.Client
}

// NewLoader creates a new Loader with the given base path.
func NewLoader(basePath string) *Loader {
	if basePath == "" {
		basePath = DefaultPackagePath()
	}
	return &Loader{basePath: basePath, client: http.DefaultClient}
}

// BasePath returns the base path for packages.
func (l *Loader) BasePath() string {
	return l.basePath
}

// LoadPackage loads a specific package by name and version from the cache.
func (l *Loader) LoadPackage(name, version string) (*Package, error) {
	pkgDir := filepath.Join(l.basePath, name+"#"+version)
	if _, err := os.Stat(pkgDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s#%s at %s", ErrPackageNotFound, name, version, pkgDir)
	}

	manifestData, err := os.ReadFile(filepath.Join(pkgDir, "package", "package.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read package manifest: %w", err)
	}
	manifest, err := parseManifest(manifestData)
	if err != nil {
		return nil, err
	}

	pkg := newPackage(manifest, pkgDir)
	pkg.Name, pkg.Version = name, version
	if err := pkg.addDir(filepath.Join(pkgDir, "package")); err != nil {
		return nil, err
	}
	return pkg, nil
}

// LoadPackageRef loads a package from a PackageRef.
func (l *Loader) LoadPackageRef(ref PackageRef) (*Package, error) {
	return l.LoadPackage(ref.Name, ref.Version)
}

// LoadVersion loads all default packages for a specific FHIR version. The
// core package is required; the others are skipped with a warning.
func (l *Loader) LoadVersion(version string) ([]*Package, error) {
	refs, ok := DefaultPackages[version]
	if !ok {
		return nil, fmt.Errorf("unknown FHIR version: %s (supported: 4.0.1, 4.3.0, 5.0.0)", version)
	}

	packages := make([]*Package, 0, len(refs))
	for _, ref := range refs {
		pkg, err := l.LoadPackageRef(ref)
		if err != nil {
			if strings.Contains(ref.Name, ".core") {
				return nil, fmt.Errorf("failed to load core package: %w", err)
			}
			logger.Warn("skipping optional package %s: %v", ref, err)
			continue
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}

// ListPackages returns all available packages in the cache.
func (l *Loader) ListPackages() ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, err
	}

	var packages []string
	for _, entry := range entries {
		if entry.IsDir() && strings.Contains(entry.Name(), "#") {
			packages = append(packages, entry.Name())
		}
	}
	return packages, nil
}

// ParsePackageSpec parses "name#version" into separate components.
func ParsePackageSpec(spec string) (name, version string) {
	parts := strings.SplitN(spec, "#", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return spec, ""
}

// LoadFromTgz loads a FHIR package from a local .tgz file.
func (l *Loader) LoadFromTgz(tgzPath string) (*Package, error) {
	file, err := os.Open(tgzPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open tgz file: %w", err)
	}
	defer file.Close()

	return LoadFromTgzReader(file, tgzPath)
}

// LoadFromURL downloads a .tgz package and loads it.
func (l *Loader) LoadFromURL(ctx context.Context, url string) (*Package, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download package from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download package from %s: HTTP %d", url, resp.StatusCode)
	}
	return LoadFromTgzReader(resp.Body, url)
}

// LoadFromTgzData loads a package from an in-memory .tgz archive, e.g. one
// embedded with go:embed.
func LoadFromTgzData(data []byte, source string) (*Package, error) {
	return LoadFromTgzReader(bytes.NewReader(data), source)
}

// LoadFromTgzReader loads a package from a gzipped tar stream.
func LoadFromTgzReader(reader io.Reader, source string) (*Package, error) {
	gzReader, err := gzip.NewReader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	pkg := &Package{Resources: make(map[string]json.RawMessage)}

	var manifestData []byte
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}
		if header.Typeflag == tar.TypeDir {
			continue
		}

		name := strings.TrimPrefix(header.Name, "package/")
		if !strings.HasSuffix(name, ".json") || strings.Contains(name, "/") {
			continue
		}

		data, err := io.ReadAll(tarReader)
		if err != nil {
			continue
		}
		switch name {
		case "package.json":
			manifestData = data
		case ".index.json":
		default:
			pkg.AddResource(data)
		}
	}

	if manifestData == nil {
		return nil, fmt.Errorf("package.json not found in %s", source)
	}
	manifest, err := parseManifest(manifestData)
	if err != nil {
		return nil, err
	}

	pkg.Name = manifest.Name
	pkg.Version = manifest.Version
	pkg.FHIRVersion = manifest.fhirVersion()
	pkg.Path = source
	return pkg, nil
}

// LoadFromResources wraps loose conformance resources (StructureDefinition,
// SearchParameter or Bundle JSON) into a synthetic package.
func LoadFromResources(name string, resources ...[]byte) (*Package, error) {
	pkg := &Package{
		Name:      name,
		Version:   "local",
		Path:      name,
		Resources: make(map[string]json.RawMessage),
	}
	for i, data := range resources {
		if n := pkg.AddResource(data); n == 0 {
			return nil, fmt.Errorf("resource %d of %s is not a FHIR resource", i, name)
		}
	}
	return pkg, nil
}

// LoadDir loads every *.json resource from a directory as a synthetic package.
func LoadDir(dir string) (*Package, error) {
	pkg := &Package{
		Name:      filepath.Base(dir),
		Version:   "local",
		Path:      dir,
		Resources: make(map[string]json.RawMessage),
	}
	if err := pkg.addDir(dir); err != nil {
		return nil, err
	}
	return pkg, nil
}

func (p *Package) addDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read package directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if name == "package.json" || name == ".index.json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Debug("skipping unreadable file %s: %v", name, err)
			continue
		}
		p.AddResource(data)
	}
	return nil
}

// resourceHeader holds the fields used to index a resource.
type resourceHeader struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
	URL          string `json:"url"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// AddResource indexes one resource by canonical URL and by resourceType/id.
// Bundles are unpacked and their entries indexed instead. It returns the
// number of resources indexed.
func (p *Package) AddResource(data []byte) int {
	var h resourceHeader
	if err := json.Unmarshal(data, &h); err != nil || h.ResourceType == "" {
		return 0
	}

	if h.ResourceType == "Bundle" {
		n := 0
		for _, e := range h.Entry {
			if len(e.Resource) > 0 {
				n += p.AddResource(e.Resource)
			}
		}
		return n
	}

	raw := json.RawMessage(data)
	if h.URL != "" {
		p.Resources[h.URL] = raw
	}
	if h.ID != "" {
		p.Resources[h.ResourceType+"/"+h.ID] = raw
	}
	if h.URL == "" && h.ID == "" {
		return 0
	}
	return 1
}

func newPackage(m *PackageManifest, path string) *Package {
	return &Package{
		Name:        m.Name,
		Version:     m.Version,
		Path:        path,
		FHIRVersion: m.fhirVersion(),
		Resources:   make(map[string]json.RawMessage),
	}
}

func parseManifest(data []byte) (*PackageManifest, error) {
	var manifest PackageManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse package manifest: %w", err)
	}
	return &manifest, nil
}

func (m *PackageManifest) fhirVersion() string {
	if m.FHIRVersion != "" {
		return m.FHIRVersion
	}
	if len(m.FHIRVersions) > 0 {
		return m.FHIRVersions[0]
	}
	return ""
}
