// Package fhirtest provides a compact FHIR R4 definition set for tests:
// primitive and complex datatypes, a handful of resources, three extension
// profiles and a bundle of search parameters.
package fhirtest

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/gofhir/pathcheck/pkg/loader"
	"github.com/gofhir/pathcheck/pkg/registry"
)

//go:embed testdata/*.json
var testdata embed.FS

// Canonical URLs of the fixture profiles.
const (
	MothersMaidenNameURL = "http://hl7.org/fhir/StructureDefinition/patient-mothersMaidenName"
	NationalityURL       = "http://hl7.org/fhir/StructureDefinition/patient-nationality"
	PreferredContactURL  = "http://example.org/fhir/StructureDefinition/preferred-contact"

	SearchParamBase = "http://hl7.org/fhir/SearchParameter/"
)

var (
	once sync.Once
	pkg  *loader.Package
	reg  *registry.Registry
	err  error
)

// Resources returns the raw JSON of every fixture file, in name order.
func Resources() [][]byte {
	entries, err := fs.ReadDir(testdata, "testdata")
	if err != nil {
		panic(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := testdata.ReadFile("testdata/" + name)
		if err != nil {
			panic(err)
		}
		out = append(out, data)
	}
	return out
}

// File returns the raw JSON of one fixture file.
func File(name string) []byte {
	data, err := testdata.ReadFile("testdata/" + name)
	if err != nil {
		panic(fmt.Sprintf("fhirtest: %v", err))
	}
	return data
}

func load() {
	pkg, err = loader.LoadFromResources("fhirtest", Resources()...)
	if err != nil {
		return
	}
	reg = registry.New()
	err = reg.LoadFromPackages([]*loader.Package{pkg})
}

// Package returns the fixtures as a synthetic package.
func Package() *loader.Package {
	once.Do(load)
	if err != nil {
		panic(fmt.Sprintf("fhirtest: %v", err))
	}
	return pkg
}

// Registry returns a shared registry loaded with the fixtures. Callers must
// not add definitions to it.
func Registry() *registry.Registry {
	once.Do(load)
	if err != nil {
		panic(fmt.Sprintf("fhirtest: %v", err))
	}
	return reg
}
