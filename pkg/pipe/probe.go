package pipe

import "sync"

// ProbeContext collects a description of a pipe's topology.
type ProbeContext interface {
	Add(key string, value any)
	CreateScope(name string) ProbeContext
	CreateFilterScope(filterType string) ProbeContext
}

// Probe is an in-memory ProbeContext. Scopes created with the same name are
// kept in creation order under that name.
type Probe struct {
	mu     sync.Mutex
	values map[string]any
	order  []string
}

func NewProbe() *Probe {
	return &Probe{values: make(map[string]any)}
}

func (p *Probe) Add(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.values[key]; !exists {
		p.order = append(p.order, key)
	}
	p.values[key] = value
}

func (p *Probe) CreateScope(name string) ProbeContext {
	child := NewProbe()

	p.mu.Lock()
	defer p.mu.Unlock()
	existing, exists := p.values[name]
	if !exists {
		p.order = append(p.order, name)
	}
	scopes, _ := existing.([]*Probe)
	p.values[name] = append(scopes, child)
	return child
}

func (p *Probe) CreateFilterScope(filterType string) ProbeContext {
	scope := p.CreateScope("filters")
	scope.Add("filterType", filterType)
	return scope
}

// Result renders the probe as nested maps and slices, suitable for JSON.
func (p *Probe) Result() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]any, len(p.values))
	for _, key := range p.order {
		switch v := p.values[key].(type) {
		case []*Probe:
			children := make([]map[string]any, 0, len(v))
			for _, child := range v {
				children = append(children, child.Result())
			}
			out[key] = children
		default:
			out[key] = v
		}
	}
	return out
}

// Describe probes a pipe and returns the rendered topology.
func Describe[C Context](p Pipe[C]) map[string]any {
	probe := NewProbe()
	p.Probe(probe)
	return probe.Result()
}
