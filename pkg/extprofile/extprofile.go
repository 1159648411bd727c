// Package extprofile narrows extension value types using extension
// profiles.
//
// The Hook recognizes extension('url') and the extension.where(url = 'url')
// idiom, resolves the profile of a top-level extension, and follows child
// extensions of complex extensions through the parent profile. Navigating
// .value on an annotated extension keeps only the value types the profile
// declares, and collapses the result to a single value when neither the
// extension nor the element holding it may repeat.
package extprofile

import (
	"errors"
	"strings"

	"github.com/gofhir/pathcheck/pkg/engine"
	"github.com/gofhir/pathcheck/pkg/expr"
	"github.com/gofhir/pathcheck/pkg/issue"
	"github.com/gofhir/pathcheck/pkg/logger"
	"github.com/gofhir/pathcheck/pkg/profile"
	"github.com/gofhir/pathcheck/pkg/typeset"
)

// rootElementPath is the element id of a top-level extension.
const rootElementPath = "Extension"

// Hook is an engine.Hook for extension profile narrowing.
type Hook struct {
	resolver profile.Resolver
	log      *logger.Logger
}

// Option configures a Hook.
type Option func(*Hook)

// WithResolver sets the profile resolver. Without one every top-level
// extension is reported as unresolved.
func WithResolver(r profile.Resolver) Option {
	return func(h *Hook) {
		h.resolver = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(h *Hook) {
		h.log = l
	}
}

// New creates a Hook.
func New(opts ...Option) *Hook {
	h := &Hook{}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logger.Default().Named("extprofile")
	}
	return h
}

// AfterCall annotates the result of extension('url') and
// where(url = 'url') on extensions.
func (h *Hook) AfterCall(e *engine.Engine, step engine.CallStep, result typeset.TypeSet) typeset.TypeSet {
	url, ok := extensionURL(step)
	if !ok {
		return result
	}

	if parent := step.Focus.ExtensionContext(); parent != nil && parent.Profile != nil {
		return h.child(e, step, parent, url, result)
	}
	return h.topLevel(e, step, url, result)
}

// AfterChild carries the profile into child extensions and narrows value.
func (h *Hook) AfterChild(_ *engine.Engine, step engine.ChildStep, result typeset.TypeSet) typeset.TypeSet {
	ctx := step.Focus.ExtensionContext()
	if ctx == nil || ctx.Profile == nil {
		return result
	}

	switch step.Node.Name {
	case "extension", "modifierExtension":
		return result.WithAnnotation(&typeset.ExtensionContext{
			URL:              ctx.URL,
			Profile:          ctx.Profile,
			ElementPath:      ctx.ElementPath,
			Collection:       true,
			ParentCollection: ctx.Collection || ctx.ParentCollection,
		})
	case "value":
		return narrowValue(ctx, result)
	}
	return result
}

func (h *Hook) topLevel(e *engine.Engine, step engine.CallStep, url string, result typeset.TypeSet) typeset.TypeSet {
	holder := holderCollection(step)
	def := h.resolve(e, url)
	if def == nil {
		e.Report(step.Node, issue.DiagExtensionUnresolved, map[string]any{"url": url})
		return result.WithAnnotation(&typeset.ExtensionContext{
			URL:              url,
			ElementPath:      rootElementPath,
			Collection:       true,
			ParentCollection: holder,
		})
	}

	path := rootElementPath
	if first := def.First(); first != nil {
		path = first.ID
	}
	ctx := &typeset.ExtensionContext{
		URL:              url,
		Profile:          def,
		ElementPath:      path,
		Collection:       def.IsCollection(),
		ParentCollection: holder,
	}
	return annotate(result, ctx)
}

// holderCollection reports whether the element holding the extensions may
// repeat. For extension('url') that element is the focus; for
// extension.where(url = 'url') the focus is the extension list and the
// holder is the input of that navigation.
func holderCollection(step engine.CallStep) bool {
	if step.Node.Name == "where" && !step.Owner.IsEmpty() {
		return step.Owner.IsCollection()
	}
	return step.Focus.IsCollection()
}

func (h *Hook) child(e *engine.Engine, step engine.CallStep, parent *typeset.ExtensionContext, url string, result typeset.TypeSet) typeset.TypeSet {
	urlElem, _ := parent.Profile.ChildValueElement(url)
	var slice string
	ok := false
	if urlElem != nil {
		slice, ok = strings.CutSuffix(urlElem.ID, ".url")
	}
	if !ok {
		e.Report(step.Node, issue.DiagExtensionChildNotFound, map[string]any{"url": url, "parent": parent.URL})
		return result
	}

	ctx := &typeset.ExtensionContext{
		URL:              url,
		Profile:          parent.Profile,
		ElementPath:      slice,
		Collection:       true,
		ParentCollection: parent.Collection || parent.ParentCollection,
	}
	if slice := parent.Profile.ChildSlice(url); slice != nil {
		ctx.Collection = slice.IsCollection()
	}
	return annotate(result, ctx)
}

// resolve returns nil when the profile is unknown or resolution failed.
func (h *Hook) resolve(e *engine.Engine, url string) *profile.Definition {
	if h.resolver == nil {
		return nil
	}
	def, err := h.resolver.ResolveProfile(e.Context(), url)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		h.log.Debug("extension profile %s not found", url)
		return nil
	case err != nil:
		h.log.Warn("resolving extension profile %s: %v", url, err)
		return nil
	}
	return def
}

func annotate(result typeset.TypeSet, ctx *typeset.ExtensionContext) typeset.TypeSet {
	out := result.WithAnnotation(ctx)
	if ctx.Singular() {
		out = out.AsSingle()
	}
	return out
}

// narrowValue keeps the value types the profile declares for the current
// extension. Nothing is narrowed when the profile declares none.
func narrowValue(ctx *typeset.ExtensionContext, result typeset.TypeSet) typeset.TypeSet {
	elem := ctx.Profile.ElementByID(ctx.ValueElementID())
	if elem == nil || len(elem.TypeCodes) == 0 {
		return result
	}

	allowed := make(map[string]bool, len(elem.TypeCodes))
	for _, code := range elem.TypeCodes {
		allowed[code] = true
	}
	out := result.Filter(func(p typeset.NodeProps) bool {
		return allowed[p.TypeName()]
	})
	if ctx.Singular() {
		out = out.AsSingle()
	}
	return out
}

// extensionURL returns the constant url of extension('url'), or of
// where(url = 'url') applied to extensions.
func extensionURL(step engine.CallStep) (string, bool) {
	if len(step.Node.Args) != 1 {
		return "", false
	}
	switch step.Node.Name {
	case "extension":
		return stringConstant(step.Node.Args[0])
	case "where":
		if !holdsExtension(step.Focus) {
			return "", false
		}
		return urlComparison(step.Node.Args[0])
	}
	return "", false
}

func holdsExtension(ts typeset.TypeSet) bool {
	for _, p := range ts.Props {
		if p.TypeName() == "Extension" {
			return true
		}
	}
	return false
}

// urlComparison matches url = 'x' and 'x' = url.
func urlComparison(n expr.Node) (string, bool) {
	b, ok := n.(*expr.Binary)
	if !ok || b.Op != "=" {
		return "", false
	}
	if isURLField(b.Left) {
		return stringConstant(b.Right)
	}
	if isURLField(b.Right) {
		return stringConstant(b.Left)
	}
	return "", false
}

func isURLField(n expr.Node) bool {
	c, ok := n.(*expr.Child)
	if !ok || c.Name != "url" {
		return false
	}
	v, ok := c.Focus.(*expr.Variable)
	return ok && v.IsThis()
}

func stringConstant(n expr.Node) (string, bool) {
	c, ok := n.(*expr.Constant)
	if !ok || c.Kind != expr.ConstString {
		return "", false
	}
	return c.Value, true
}
