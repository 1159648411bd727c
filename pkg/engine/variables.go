package engine

import (
	"strings"

	"github.com/gofhir/pathcheck/pkg/schema"
)

// Variables binds external variable names to types.
type Variables struct {
	byName map[string]*schema.TypeDescriptor
	order  []string
}

// NewVariables creates an empty binding set.
func NewVariables() *Variables {
	return &Variables{byName: make(map[string]*schema.TypeDescriptor)}
}

// Register binds name to t. The first registration of a name wins; later
// ones are ignored and Register reports false.
func (v *Variables) Register(name string, t *schema.TypeDescriptor) bool {
	if _, exists := v.byName[name]; exists {
		return false
	}
	v.byName[name] = t
	v.order = append(v.order, name)
	return true
}

// Lookup returns the type bound to name.
func (v *Variables) Lookup(name string) (*schema.TypeDescriptor, bool) {
	t, ok := v.byName[name]
	return t, ok
}

// Names returns the bound names in registration order.
func (v *Variables) Names() []string {
	return append([]string(nil), v.order...)
}

// stringConstants are environment variables that always hold a string.
var stringConstants = map[string]bool{
	"ucum":  true,
	"sct":   true,
	"loinc": true,
}

func isStringConstant(name string) bool {
	return stringConstants[name] || strings.HasPrefix(name, "vs-") || strings.HasPrefix(name, "ext-")
}

// contextAliases resolve to the root types unless bound explicitly.
var contextAliases = map[string]bool{
	"context":      true,
	"resource":     true,
	"rootResource": true,
}
