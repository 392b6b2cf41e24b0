package config

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxParamValueLength bounds a mount-time parameter value
const MaxParamValueLength = 32

var (
	// PlaceholderPattern matches a {name} placeholder in a source path or query value
	PlaceholderPattern = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)

	paramNamePattern  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	paramValuePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._&-]*$`)
)

// ParamConfig declares a value supplied when a view is mounted, such as the
// ticker of a stock detail view.
type ParamConfig struct {
	// Name is referenced as {name} in source paths and query values
	Name string `yaml:"name"`

	// Default is used when the mount supplies no value. A parameter without
	// default must be supplied.
	Default string `yaml:"default,omitempty"`
}

// ValidParamValue reports whether value can be substituted into an endpoint
func ValidParamValue(value string) bool {
	return len(value) <= MaxParamValueLength && paramValuePattern.MatchString(value)
}

// Placeholders returns the parameter names referenced by s, in order
func Placeholders(s string) []string {
	matches := PlaceholderPattern.FindAllStringSubmatch(s, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

func validateParams(view *ViewConfig, prefix string) error {
	var errs []error

	declared := make(map[string]bool, len(view.Params))
	for i, p := range view.Params {
		switch {
		case !paramNamePattern.MatchString(p.Name):
			errs = append(errs, fmt.Errorf("%s: params[%d]: name must match %s, got %q",
				prefix, i, paramNamePattern, p.Name))
		case declared[p.Name]:
			errs = append(errs, fmt.Errorf("%s: params[%d]: duplicate param '%s'", prefix, i, p.Name))
		case p.Default != "" && !ValidParamValue(p.Default):
			errs = append(errs, fmt.Errorf("%s: params[%d] (%s): invalid default %q", prefix, i, p.Name, p.Default))
		}
		declared[p.Name] = true
	}

	for _, src := range view.Sources {
		refs := Placeholders(src.Path)
		for _, v := range src.Query {
			refs = append(refs, Placeholders(v)...)
		}
		for _, name := range refs {
			if !declared[name] {
				errs = append(errs, fmt.Errorf("%s: source %s references undeclared param '%s'", prefix, src.ID, name))
			}
		}
	}

	return errors.Join(errs...)
}
