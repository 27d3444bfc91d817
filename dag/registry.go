package dag

import (
	"sort"
	"sync"

	"github.com/kbukum/taskflow/schema"
)

// Registry maps node types to behaviors, processing types to processors
// and reducer names to reducers. A scheduler owns one registry; there is
// no package-level default.
type Registry struct {
	mu         sync.RWMutex
	behaviors  map[schema.NodeType]Behavior
	processors map[string]Processor
	reducers   map[string]Reducer
	mock       Processor
}

// NewRegistry creates a registry with the built-in behaviors, the built-in
// reducers and EchoProcessor for mock mode.
func NewRegistry() *Registry {
	r := &Registry{
		behaviors:  make(map[schema.NodeType]Behavior),
		processors: make(map[string]Processor),
		reducers:   make(map[string]Reducer),
		mock:       EchoProcessor{},
	}
	r.behaviors[schema.NodeInput] = inputBehavior{}
	r.behaviors[schema.NodeOutput] = outputBehavior{}
	r.behaviors[schema.NodeTransform] = transformBehavior{}
	r.behaviors[schema.NodeCondition] = conditionBehavior{}
	r.behaviors[schema.NodeLoop] = loopBehavior{}
	r.behaviors[schema.NodeParallel] = parallelBehavior{}
	r.behaviors[schema.NodeMerge] = mergeBehavior{}
	for name, fn := range builtinReducers {
		r.reducers[name] = fn
	}
	return r
}

// RegisterBehavior replaces the behavior for a node type.
func (r *Registry) RegisterBehavior(t schema.NodeType, b Behavior) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.behaviors[t] = b
}

// Behavior returns the behavior for a node type.
func (r *Registry) Behavior(t schema.NodeType) (Behavior, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.behaviors[t]
	return b, ok
}

// Wrap applies mw to every registered behavior.
func (r *Registry) Wrap(mw func(Behavior) Behavior) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, b := range r.behaviors {
		r.behaviors[t] = mw(b)
	}
}

// RegisterProcessor binds a processing type to a processor.
func (r *Registry) RegisterProcessor(processingType string, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[processingType] = p
}

func (r *Registry) Processor(processingType string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[processingType]
	return p, ok
}

// ProcessingTypes returns sorted names of all registered processors.
func (r *Registry) ProcessingTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.processors))
	for name := range r.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetMockProcessor replaces the processor used in mock mode.
func (r *Registry) SetMockProcessor(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mock = p
}

func (r *Registry) MockProcessor() Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mock
}

func (r *Registry) RegisterReducer(name string, fn Reducer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reducers[name] = fn
}

func (r *Registry) Reducer(name string) (Reducer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.reducers[name]
	return fn, ok
}
