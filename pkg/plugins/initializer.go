package plugins

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// PlanResult is the outcome of resolving a configuration without
// instantiating anything
type PlanResult struct {
	Graph *DependencyGraph
	// Providers lists the configured providers of each capability
	Providers map[Capability][]string
	// UnusedPreferences are preferences for capabilities nobody provides
	UnusedPreferences []Capability

	selector *Selector
}

// Order returns the plugin ids in initialization order
func (p *PlanResult) Order() []string {
	return p.Graph.IDs()
}

// Selected returns the plugin id that will provide c once initialized
func (p *PlanResult) Selected(c Capability) (string, bool) {
	ids := p.Providers[c]
	if len(ids) == 0 {
		return "", false
	}
	id, err := p.selector.Select(c, ids)
	if err != nil {
		return "", false
	}
	return id, true
}

// Plan validates every descriptor's configuration, builds the dependency
// graph and checks that every capability resolves to a single provider. No
// plugin's Init is called.
func Plan(reg *Registry, cfg RuntimeConfiguration, log *logrus.Logger) (*PlanResult, error) {
	if log == nil {
		log = logrus.New()
	}

	descriptors := cfg.Descriptors()
	nodes := make([]*Node, 0, len(descriptors))
	for _, d := range descriptors {
		export, err := reg.Lookup(d.Module)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", d.ID, err)
		}
		if err := ValidateDescriptorConfig(d, export); err != nil {
			return nil, err
		}
		nodes = append(nodes, &Node{Descriptor: d, Export: export})
	}

	graph, err := BuildGraph(nodes, log)
	if err != nil {
		return nil, err
	}

	providers := make(map[Capability][]string)
	for _, c := range Capabilities() {
		if ids := graph.Providers(c); len(ids) > 0 {
			providers[c] = ids
		}
	}

	selector := NewSelector(cfg.Preferences())
	unused, err := selector.Plan(providers)
	if err != nil {
		return nil, err
	}

	return &PlanResult{
		Graph:             graph,
		Providers:         providers,
		UnusedPreferences: unused,
		selector:          selector,
	}, nil
}

// LoadObserver is notified after each plugin finished initializing
type LoadObserver func(loaded Loaded, duration time.Duration)

// Initializer instantiates plugins strictly in dependency order
type Initializer struct {
	registry *Registry
	log      *logrus.Logger
	observer LoadObserver
}

// InitializerOption configures an Initializer
type InitializerOption func(*Initializer)

// WithLogger sets the logger used during initialization
func WithLogger(log *logrus.Logger) InitializerOption {
	return func(i *Initializer) {
		if log != nil {
			i.log = log
		}
	}
}

// WithLoadObserver registers a callback invoked after each plugin loads
func WithLoadObserver(observer LoadObserver) InitializerOption {
	return func(i *Initializer) {
		i.observer = observer
	}
}

// NewInitializer creates an initializer backed by reg
func NewInitializer(reg *Registry, opts ...InitializerOption) *Initializer {
	i := &Initializer{
		registry: reg,
		log:      logrus.New(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Initialize plans the configuration and then initializes every plugin
// sequentially. Any failure closes what was already created and is returned;
// a partial runtime is never handed out.
func (i *Initializer) Initialize(ctx context.Context, cfg RuntimeConfiguration) (*Runtime, error) {
	plan, err := Plan(i.registry, cfg, i.log)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		meta: NewEnvironmentMetadata(),
		log:  i.log,
	}

	nodes := make(map[string]*Node)
	for _, n := range plan.Graph.Order() {
		nodes[n.ID()] = n
	}

	for _, n := range plan.Graph.Order() {
		if err := i.initNode(ctx, n, nodes, plan.selector, rt); err != nil {
			if closeErr := rt.Close(context.Background()); closeErr != nil {
				i.log.WithError(closeErr).Warn("Failed to close plugins after initialization error")
			}
			return nil, err
		}
	}

	rt.selection = plan.selector.Selection()
	rt.meta.freeze()

	for _, c := range plan.UnusedPreferences {
		i.log.WithField("capability", c).Warn("Preference set for a capability no configured plugin provides")
	}
	i.log.WithField("order", plan.Order()).Infof("Initialized %d plugins", len(rt.loaded))

	return rt, nil
}

func (i *Initializer) initNode(ctx context.Context, n *Node, nodes map[string]*Node, selector *Selector, rt *Runtime) error {
	entry := i.log.WithFields(logrus.Fields{
		"plugin": n.ID(),
		"module": n.Descriptor.Module,
	})

	start := time.Now()
	inst, err := callInit(ctx, n.Export.Init, InitParams{
		ID:     n.ID(),
		Config: n.Descriptor.Config,
		Logger: entry,
	})
	if err != nil {
		return &InitError{Plugin: n.ID(), Phase: "init", Err: err}
	}
	if inst == nil {
		return &InitError{Plugin: n.ID(), Phase: "init", Err: fmt.Errorf("Init returned a nil instance")}
	}

	loaded := Loaded{ID: n.ID(), Module: n.Descriptor.Module, Instance: inst}
	rt.loaded = append(rt.loaded, loaded)

	if err := checkContracts(inst, n.Export); err != nil {
		return &InitError{Plugin: n.ID(), Phase: "init", Err: err}
	}

	caps := make([]Capability, 0, len(n.Export.Provides))
	for c := range n.Export.Provides {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(a, b int) bool { return caps[a] < caps[b] })

	for _, c := range caps {
		chosen, chosenID, done, err := selector.Offer(c, n.ID(), inst)
		if err != nil {
			return err
		}
		if !done {
			continue
		}
		winner := nodes[chosenID]
		if err := rt.meta.Add(c, SelectedPlugin{
			ID:         chosenID,
			Module:     winner.Descriptor.Module,
			ProviderID: winner.Export.Provides[c],
			Instance:   chosen,
		}); err != nil {
			return err
		}
		i.log.WithFields(logrus.Fields{
			"capability": c,
			"plugin":     chosenID,
		}).Info("Selected capability provider")
	}

	if aware, ok := inst.(MetadataAware); ok {
		if err := callOnMetaLoaded(ctx, aware, rt.meta); err != nil {
			return &InitError{Plugin: n.ID(), Phase: "onMetaLoaded", Err: err}
		}
	}

	duration := time.Since(start)
	entry.WithFields(logrus.Fields{
		"type":     inst.Type(),
		"duration": duration,
	}).Info("Loaded plugin")

	if i.observer != nil {
		i.observer(loaded, duration)
	}
	return nil
}

// checkContracts verifies the instance's tag against what the export declares
func checkContracts(inst Instance, export *Export) error {
	if inst.Type() == TypeMiddleware {
		if _, err := asCapability(inst, TypeMiddleware); err != nil {
			return err
		}
	} else if !export.ProvidesCapability(inst.Type()) {
		return fmt.Errorf("%w: instance type %q is not declared in provides", ErrCapabilityMismatch, inst.Type())
	}

	for c := range export.Provides {
		if _, err := asCapability(inst, c); err != nil {
			return err
		}
	}
	return nil
}

func callInit(ctx context.Context, fn InitFunc, params InitParams) (inst Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, params)
}

func callOnMetaLoaded(ctx context.Context, aware MetadataAware, meta *EnvironmentMetadata) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return aware.OnMetaLoaded(ctx, meta)
}

// closeInstance closes inst if it holds resources
func closeInstance(inst Instance) error {
	if closer, ok := inst.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
