package typeset

import "github.com/gofhir/pathcheck/pkg/profile"

// Annotation is context attached to a TypeSet that does not affect its type
// identity. The set of annotation kinds is closed: *ExtensionContext is the
// only implementation.
type Annotation interface {
	annotation()
}

// ExtensionContext tracks the extension profile an extension chain is
// walking, e.g. while evaluating
// extension('http://example.org/a').extension('b').value.
type ExtensionContext struct {
	// URL is the canonical URL of the extension, or the child url inside a
	// complex extension.
	URL string

	// Profile is the resolved profile, nil when it could not be resolved.
	// Child extensions share their parent's profile.
	Profile *profile.Definition

	// ElementPath is the id of the profile element describing the current
	// extension: "Extension" for a top-level extension,
	// "Extension.extension:<slice>" for a child.
	ElementPath string

	// Collection reports whether the extension may repeat.
	Collection bool

	// ParentCollection reports whether the element holding the extension
	// is a collection.
	ParentCollection bool
}

func (*ExtensionContext) annotation() {}

// ValueElementID returns the id of the value[x] element of the current
// extension.
func (c *ExtensionContext) ValueElementID() string {
	return c.ElementPath + ".value[x]"
}

// Singular reports whether the extension value is known to be single.
func (c *ExtensionContext) Singular() bool {
	return !c.Collection && !c.ParentCollection
}

// ExtensionContext returns the extension annotation, or nil.
func (s TypeSet) ExtensionContext() *ExtensionContext {
	switch a := s.Annotation.(type) {
	case *ExtensionContext:
		return a
	default:
		return nil
	}
}
