package pipe

import (
	"fmt"
	"reflect"

	pkgerrors "conduit/pkg/errors"
)

type Disposition int

const (
	Success Disposition = iota
	Warning
	Failure
)

func (d Disposition) String() string {
	switch d {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// ValidationResult is one finding reported by Specification.Validate.
type ValidationResult struct {
	Disposition Disposition
	Key         string
	Message     string
}

func (r ValidationResult) String() string {
	return fmt.Sprintf("[%s] %s: %s", r.Disposition, r.Key, r.Message)
}

func Failed(key, message string) ValidationResult {
	return ValidationResult{Disposition: Failure, Key: key, Message: message}
}

func Warned(key, message string) ValidationResult {
	return ValidationResult{Disposition: Warning, Key: key, Message: message}
}

// Builder accumulates filters while specifications are applied.
type Builder[C Context] interface {
	AddFilter(f Filter[C])
}

// Specification contributes filters to a pipe and reports whether its own
// configuration is usable. Validate is always called before Apply.
type Specification[C Context] interface {
	Apply(b Builder[C])
	Validate() []ValidationResult
}

type filterList[C Context] struct {
	filters  []Filter[C]
	current  int
	failures []string
}

// AddFilter records a nil filter as a failure of the specification being
// applied instead of letting it reach the pipe.
func (l *filterList[C]) AddFilter(f Filter[C]) {
	if isNilFilter(f) {
		l.failures = append(l.failures,
			Failed(fmt.Sprintf("specification[%d]", l.current), "applied a nil filter").String())
		return
	}
	l.filters = append(l.filters, f)
}

func isNilFilter(f any) bool {
	if f == nil {
		return true
	}
	v := reflect.ValueOf(f)
	switch v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Chan, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func buildValidationError(failures []string) error {
	return pkgerrors.ErrBuildValidation.
		WithDetail("message", fmt.Sprintf("%d specification failure(s): %s", len(failures), failures[0])).
		WithDetail("failures", failures)
}

// Build validates every specification and, only if none of them reported a
// failure, applies them in order and freezes the result.
func Build[C Context](specs ...Specification[C]) (Pipe[C], error) {
	var failures []string
	for i, spec := range specs {
		if spec == nil {
			failures = append(failures, Failed(fmt.Sprintf("specification[%d]", i), "must not be nil").String())
			continue
		}
		for _, result := range spec.Validate() {
			if result.Disposition == Failure {
				failures = append(failures, result.String())
			}
		}
	}
	if len(failures) > 0 {
		return nil, buildValidationError(failures)
	}

	list := &filterList[C]{}
	for i, spec := range specs {
		list.current = i
		spec.Apply(list)
	}
	if len(list.failures) > 0 {
		return nil, buildValidationError(list.failures)
	}
	return New(list.filters...), nil
}

// Validate runs Validate on every spec and returns every result, including
// warnings, without building anything.
func Validate[C Context](specs ...Specification[C]) []ValidationResult {
	var results []ValidationResult
	for _, spec := range specs {
		if spec != nil {
			results = append(results, spec.Validate()...)
		}
	}
	return results
}

type filterSpecification[C Context] struct {
	filter Filter[C]
}

// UseFilter wraps a single filter as a specification.
func UseFilter[C Context](f Filter[C]) Specification[C] {
	return &filterSpecification[C]{filter: f}
}

func (s *filterSpecification[C]) Apply(b Builder[C]) {
	b.AddFilter(s.filter)
}

func (s *filterSpecification[C]) Validate() []ValidationResult {
	if isNilFilter(s.filter) {
		return []ValidationResult{Failed("filter", "must not be nil")}
	}
	return nil
}

// Configurator collects specifications for a pipe in registration order.
type Configurator[C Context] struct {
	specs []Specification[C]
}

func NewConfigurator[C Context]() *Configurator[C] {
	return &Configurator[C]{}
}

func (c *Configurator[C]) AddSpecification(spec Specification[C]) *Configurator[C] {
	c.specs = append(c.specs, spec)
	return c
}

func (c *Configurator[C]) UseFilter(f Filter[C]) *Configurator[C] {
	return c.AddSpecification(UseFilter(f))
}

func (c *Configurator[C]) UseFunc(name string, fn FilterFunc[C]) *Configurator[C] {
	return c.UseFilter(NewFilterFunc(name, fn))
}

func (c *Configurator[C]) Specifications() []Specification[C] {
	out := make([]Specification[C], len(c.specs))
	copy(out, c.specs)
	return out
}

func (c *Configurator[C]) Build() (Pipe[C], error) {
	return Build(c.specs...)
}
