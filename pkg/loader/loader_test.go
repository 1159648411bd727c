package loader

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

const (
	sdPatient = `{"resourceType":"StructureDefinition","id":"Patient","url":"http://hl7.org/fhir/StructureDefinition/Patient"}`
	spGender  = `{"resourceType":"SearchParameter","id":"Patient-gender","url":"http://hl7.org/fhir/SearchParameter/Patient-gender"}`
	manifest  = `{"name":"example.pkg","version":"1.0.0","fhirVersions":["4.0.1"]}`
)

func buildTgz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDefaultPackagePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	want := filepath.Join(home, ".fhir", "packages")
	if got := DefaultPackagePath(); got != want {
		t.Errorf("DefaultPackagePath = %q, want %q", got, want)
	}
}

func TestPackageRefString(t *testing.T) {
	ref := PackageRef{Name: "hl7.fhir.r4.core", Version: "4.0.1"}
	if ref.String() != "hl7.fhir.r4.core#4.0.1" {
		t.Errorf("PackageRef.String() = %q", ref.String())
	}
}

func TestParsePackageSpec(t *testing.T) {
	tests := []struct {
		spec        string
		wantName    string
		wantVersion string
	}{
		{"hl7.fhir.r4.core#4.0.1", "hl7.fhir.r4.core", "4.0.1"},
		{"hl7.fhir.uv.extensions.r4#5.2.0", "hl7.fhir.uv.extensions.r4", "5.2.0"},
		{"package-without-version", "package-without-version", ""},
	}
	for _, tt := range tests {
		name, version := ParsePackageSpec(tt.spec)
		if name != tt.wantName || version != tt.wantVersion {
			t.Errorf("ParsePackageSpec(%q) = (%q, %q), want (%q, %q)",
				tt.spec, name, version, tt.wantName, tt.wantVersion)
		}
	}
}

func TestDefaultPackagesHaveCore(t *testing.T) {
	for version, refs := range DefaultPackages {
		hasCore := false
		for _, ref := range refs {
			if ref.Name == "hl7.fhir.r4.core" || ref.Name == "hl7.fhir.r4b.core" || ref.Name == "hl7.fhir.r5.core" {
				hasCore = true
			}
		}
		if !hasCore {
			t.Errorf("DefaultPackages[%s] missing core package", version)
		}
	}
}

func TestLoadFromTgzData(t *testing.T) {
	data := buildTgz(t, map[string]string{
		"package/package.json":            manifest,
		"package/.index.json":             `{"files":[]}`,
		"package/StructureDefinition.json": sdPatient,
		"package/SearchParameter.json":    spGender,
		"package/other/nested.json":       sdPatient,
		"package/README.md":               "ignored",
	})

	pkg, err := LoadFromTgzData(data, "memory")
	if err != nil {
		t.Fatalf("LoadFromTgzData() error = %v", err)
	}
	if pkg.Name != "example.pkg" || pkg.Version != "1.0.0" {
		t.Errorf("Name/Version = %s/%s", pkg.Name, pkg.Version)
	}
	if pkg.FHIRVersion != "4.0.1" {
		t.Errorf("FHIRVersion = %q, want 4.0.1", pkg.FHIRVersion)
	}
	for _, key := range []string{
		"http://hl7.org/fhir/StructureDefinition/Patient",
		"StructureDefinition/Patient",
		"http://hl7.org/fhir/SearchParameter/Patient-gender",
	} {
		if _, ok := pkg.Resources[key]; !ok {
			t.Errorf("Resources missing %s", key)
		}
	}
	if len(pkg.Resources) != 4 {
		t.Errorf("len(Resources) = %d, want 4", len(pkg.Resources))
	}
}

func TestLoadFromTgzDataMissingManifest(t *testing.T) {
	data := buildTgz(t, map[string]string{"package/a.json": sdPatient})
	if _, err := LoadFromTgzData(data, "memory"); err == nil {
		t.Error("expected error for archive without package.json")
	}
}

func TestLoadFromResourcesUnpacksBundles(t *testing.T) {
	bundle := `{"resourceType":"Bundle","entry":[{"resource":` + spGender + `},{"resource":` + sdPatient + `}]}`
	pkg, err := LoadFromResources("local", []byte(bundle))
	if err != nil {
		t.Fatalf("LoadFromResources() error = %v", err)
	}
	if _, ok := pkg.Resources["http://hl7.org/fhir/SearchParameter/Patient-gender"]; !ok {
		t.Error("bundle entry not indexed")
	}
	if _, ok := pkg.Resources["Bundle/"]; ok {
		t.Error("bundle itself should not be indexed")
	}

	if _, err := LoadFromResources("bad", []byte(`{"foo":1}`)); err == nil {
		t.Error("expected error for non-resource JSON")
	}
}

func TestLoaderLoadPackageFromCache(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "example.pkg#1.0.0", "package")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("package.json", manifest)
	write("StructureDefinition-Patient.json", sdPatient)
	write("notes.txt", "ignored")

	l := NewLoader(base)
	pkg, err := l.LoadPackage("example.pkg", "1.0.0")
	if err != nil {
		t.Fatalf("LoadPackage() error = %v", err)
	}
	if _, ok := pkg.Resources["http://hl7.org/fhir/StructureDefinition/Patient"]; !ok {
		t.Error("Patient not indexed")
	}

	if _, err := l.LoadPackage("missing", "0.0.1"); !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("LoadPackage(missing) error = %v, want ErrPackageNotFound", err)
	}

	list, err := l.ListPackages()
	if err != nil || len(list) != 1 || list[0] != "example.pkg#1.0.0" {
		t.Errorf("ListPackages() = %v, %v", list, err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sp.json"), []byte(spGender), 0o644); err != nil {
		t.Fatal(err)
	}
	pkg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if len(pkg.Resources) != 2 {
		t.Errorf("len(Resources) = %d, want 2", len(pkg.Resources))
	}
}

func TestLoadVersionUnknown(t *testing.T) {
	if _, err := NewLoader(t.TempDir()).LoadVersion("9.9.9"); err == nil {
		t.Error("expected error for unknown FHIR version")
	}
}

func TestLoadFromURL(t *testing.T) {
	data := buildTgz(t, map[string]string{
		"package/package.json": manifest,
		"package/sd.json":      sdPatient,
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pkg.tgz" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	l := NewLoader(t.TempDir())
	pkg, err := l.LoadFromURL(context.Background(), srv.URL+"/pkg.tgz")
	if err != nil {
		t.Fatalf("LoadFromURL() error = %v", err)
	}
	if pkg.Path != srv.URL+"/pkg.tgz" {
		t.Errorf("Path = %q", pkg.Path)
	}

	if _, err := l.LoadFromURL(context.Background(), srv.URL+"/missing.tgz"); err == nil {
		t.Error("expected error for HTTP 404")
	}
}
