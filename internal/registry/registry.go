package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/sentinelmarket/sentinel-sync/internal/config"
	"github.com/sentinelmarket/sentinel-sync/internal/sources"
)

// ErrInvalidParams is returned when mount-time values do not fit the params
// a view declares
var ErrInvalidParams = errors.New("invalid view params")

// Param is a value supplied when a view is mounted
type Param struct {
	Name string
	// Default is used when no value is supplied; empty means required
	Default string
}

// View describes one logical data view
type View struct {
	ID       string
	Title    string
	Interval time.Duration
	// Liveness is config.LivenessSticky or config.LivenessStrict
	Liveness string
	Sources  []sources.Descriptor

	Params []Param
	// Args holds the values the sources are bound to
	Args map[string]string

	bind func(args map[string]string) ([]sources.Descriptor, error)
}

// RequiredIDs returns the IDs of the required sources in declaration order
func (v View) RequiredIDs() []string {
	var ids []string
	for _, src := range v.Sources {
		if src.Required {
			ids = append(ids, src.ID)
		}
	}
	return ids
}

// Seeds returns the seed payload of every source keyed by source ID
func (v View) Seeds() map[string]json.RawMessage {
	seeds := make(map[string]json.RawMessage, len(v.Sources))
	for _, src := range v.Sources {
		seeds[src.ID] = bytes.Clone(src.Seed)
	}
	return seeds
}

// Source returns the descriptor with the given ID
func (v View) Source(id string) (sources.Descriptor, bool) {
	for _, src := range v.Sources {
		if src.ID == id {
			return src, true
		}
	}
	return sources.Descriptor{}, false
}

func (v View) clone() View {
	out := v
	out.Sources = make([]sources.Descriptor, len(v.Sources))
	for i, src := range v.Sources {
		src.Seed = bytes.Clone(src.Seed)
		out.Sources[i] = src
	}
	out.Params = slices.Clone(v.Params)
	out.Args = maps.Clone(v.Args)
	return out
}

// Bind returns the view with its sources reading the endpoints selected by
// args. Params missing from args take their default. A view without params
// only accepts empty args.
func (v View) Bind(args map[string]string) (View, error) {
	declared := make(map[string]bool, len(v.Params))
	for _, p := range v.Params {
		declared[p.Name] = true
	}

	var errs []error
	var unknown []string
	for name := range args {
		if !declared[name] {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		errs = append(errs, fmt.Errorf("unknown param '%s'", name))
	}

	resolved := make(map[string]string, len(v.Params))
	for _, p := range v.Params {
		value := args[p.Name]
		if value == "" {
			value = p.Default
		}
		switch {
		case value == "":
			errs = append(errs, fmt.Errorf("param '%s' is required", p.Name))
		case !config.ValidParamValue(value):
			errs = append(errs, fmt.Errorf("param '%s': invalid value %q", p.Name, value))
		}
		resolved[p.Name] = value
	}

	if len(errs) > 0 {
		return View{}, fmt.Errorf("%w for view '%s': %w", ErrInvalidParams, v.ID, errors.Join(errs...))
	}
	if len(v.Params) == 0 {
		return v.clone(), nil
	}
	if v.bind == nil {
		return View{}, fmt.Errorf("view '%s' declares params but cannot be bound", v.ID)
	}

	descs, err := v.bind(resolved)
	if err != nil {
		return View{}, fmt.Errorf("failed to bind view '%s': %w", v.ID, err)
	}
	out := v.clone()
	out.Sources = descs
	out.Args = resolved
	return out, nil
}

// Registry is the immutable set of views, kept in declaration order
type Registry struct {
	views []View
	index map[string]int
}

// New creates a registry from views. It fails when a view ID repeats, a view
// has no sources, a source ID repeats within its view, or a source lacks a
// read function or seed.
func New(views ...View) (*Registry, error) {
	r := &Registry{
		views: make([]View, 0, len(views)),
		index: make(map[string]int, len(views)),
	}

	var errs []error
	for i, view := range views {
		if err := checkView(view); err != nil {
			errs = append(errs, fmt.Errorf("view[%d]: %w", i, err))
			continue
		}
		if _, exists := r.index[view.ID]; exists {
			errs = append(errs, fmt.Errorf("view[%d]: duplicate view id '%s'", i, view.ID))
			continue
		}
		if view.Liveness == "" {
			view.Liveness = config.LivenessSticky
		}
		if view.Interval <= 0 {
			view.Interval = config.DefaultViewInterval
		}
		r.index[view.ID] = len(r.views)
		r.views = append(r.views, view.clone())
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

func checkView(view View) error {
	if view.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(view.Sources) == 0 {
		return fmt.Errorf("view '%s' has no sources", view.ID)
	}

	seen := make(map[string]struct{}, len(view.Sources))
	for j, src := range view.Sources {
		switch {
		case src.ID == "":
			return fmt.Errorf("sources[%d]: id is required", j)
		case src.Read == nil:
			return fmt.Errorf("source '%s' has no read function", src.ID)
		case len(src.Seed) == 0:
			return fmt.Errorf("source '%s' has no seed", src.ID)
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("duplicate source id '%s'", src.ID)
		}
		seen[src.ID] = struct{}{}
	}
	return nil
}

// NewFromConfig builds descriptors for every configured view using factory
// to create readers.
func NewFromConfig(cfg *config.Config, factory sources.ReaderFactory) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("reader factory is required")
	}

	views := make([]View, 0, len(cfg.Views))
	for _, vc := range cfg.Views {
		view := View{
			ID:       vc.ID,
			Title:    vc.Title,
			Interval: vc.GetInterval(),
			Liveness: vc.GetLiveness(),
		}
		if view.Title == "" {
			view.Title = vc.ID
		}

		build := func(args map[string]string) ([]sources.Descriptor, error) {
			descs := make([]sources.Descriptor, 0, len(vc.Sources))
			for _, sc := range vc.Sources {
				desc, err := buildDescriptor(sc, args, factory)
				if err != nil {
					return nil, err
				}
				descs = append(descs, desc)
			}
			return descs, nil
		}

		defaults := make(map[string]string, len(vc.Params))
		for _, p := range vc.Params {
			view.Params = append(view.Params, Param{Name: p.Name, Default: p.Default})
			if p.Default != "" {
				defaults[p.Name] = p.Default
			}
		}

		var err error
		switch {
		case len(vc.Params) == 0:
			view.Sources, err = build(nil)
		case len(defaults) == len(vc.Params):
			view.Sources, err = build(defaults)
			view.Args = defaults
		default:
			// bound per mount; until then the view serves its seeds
			view.Sources, err = unboundDescriptors(vc)
		}
		if err != nil {
			return nil, fmt.Errorf("view '%s': %w", vc.ID, err)
		}
		if len(vc.Params) > 0 {
			view.bind = build
		}
		views = append(views, view)
	}

	return New(views...)
}

func unboundDescriptors(vc config.ViewConfig) ([]sources.Descriptor, error) {
	descs := make([]sources.Descriptor, 0, len(vc.Sources))
	for _, sc := range vc.Sources {
		seed, err := resolveSeed(sc)
		if err != nil {
			return nil, err
		}
		id := sc.ID
		descs = append(descs, sources.Descriptor{
			ID: id,
			Read: func(context.Context) (json.RawMessage, error) {
				return nil, fmt.Errorf("source '%s': %w", id, sources.ErrUnboundParam)
			},
			Seed:     seed,
			Required: sc.Required,
		})
	}
	return descs, nil
}

func buildDescriptor(
	sc config.SourceConfig,
	args map[string]string,
	factory sources.ReaderFactory,
) (sources.Descriptor, error) {
	reader, err := factory.CreateReader(sc, args)
	if err != nil {
		return sources.Descriptor{}, fmt.Errorf("failed to create reader for source '%s': %w", sc.ID, err)
	}

	seed, err := resolveSeed(sc)
	if err != nil {
		return sources.Descriptor{}, err
	}

	return sources.Descriptor{
		ID:       sc.ID,
		Read:     reader.Read,
		Seed:     seed,
		Required: sc.Required,
	}, nil
}

func resolveSeed(sc config.SourceConfig) (json.RawMessage, error) {
	if sc.Seed != "" {
		return sources.LoadSeed(sc.Seed)
	}
	if seed, ok := Seed(sc.ID); ok {
		return seed, nil
	}
	return nil, fmt.Errorf("source '%s' has no seed: set seed to a JSON file path", sc.ID)
}

// View returns a copy of the view with the given ID
func (r *Registry) View(id string) (View, bool) {
	i, ok := r.index[id]
	if !ok {
		return View{}, false
	}
	return r.views[i].clone(), true
}

// Views returns copies of all views in declaration order
func (r *Registry) Views() []View {
	out := make([]View, len(r.views))
	for i, view := range r.views {
		out[i] = view.clone()
	}
	return out
}

// IDs returns the view IDs in declaration order
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.views))
	for i, view := range r.views {
		ids[i] = view.ID
	}
	return ids
}
