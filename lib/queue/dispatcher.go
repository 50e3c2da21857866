package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Errors returned while resolving dispatchers.
var (
	ErrModuleNotFound     = errors.New("no dispatcher module registered for ens address")
	ErrDispatcherNotFound = errors.New("dispatcher not exported by module")
	ErrServiceNotFound    = errors.New("dispatcher service not exported by module")
)

// StepFunc runs one step of a dispatcher sequence. service is the module service named by the dispatcher. The
// returned value is appended to the entry results.
type StepFunc func(ctx context.Context, service interface{}, entry *Entry) (interface{}, error)

// Step is one unit of work of a multi-step transaction.
type Step struct {
	Name        string
	Description string
	Run         StepFunc
}

// Dispatcher knows how to sync the payloads of an entry by running its sequence of steps in order.
type Dispatcher struct {
	Name        string
	Sequence    []Step
	I18N        map[string]map[string]string // language -> key -> text
	ServiceName string
	service     interface{}
}

// Service returns the module service attached to the dispatcher when it was loaded.
func (d *Dispatcher) Service() interface{} {
	return d.service
}

// Module groups the dispatchers and services a DApp exports under its ens address.
type Module struct {
	ENSAddress  string
	Dispatchers map[string]*Dispatcher
	Services    map[string]interface{}
}

// dispatcher returns a copy of the named dispatcher bound to its service.
func (m *Module) dispatcher(name string) (*Dispatcher, error) {
	d, ok := m.Dispatchers[name]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", m.ENSAddress, name, ErrDispatcherNotFound)
	}

	bound := *d

	if d.ServiceName != "" {
		svc, ok := m.Services[d.ServiceName]
		if !ok {
			return nil, fmt.Errorf("%s/%s needs %s: %w", m.ENSAddress, name, d.ServiceName, ErrServiceNotFound)
		}

		bound.service = svc
	}

	return &bound, nil
}

// Loader resolves the module of an ens address.
type Loader interface {
	Load(ctx context.Context, ensAddress string) (*Module, error)
}

// Registry is a Loader over modules registered at startup.
type Registry struct {
	l       sync.RWMutex
	modules map[string]*Module
}

// NewRegistry returns a registry holding the given modules.
func NewRegistry(modules ...*Module) *Registry {
	r := &Registry{modules: make(map[string]*Module)}
	for _, m := range modules {
		r.Register(m)
	}

	return r
}

// Register adds or replaces the module for its ens address.
func (r *Registry) Register(m *Module) {
	r.l.Lock()
	defer r.l.Unlock()
	r.modules[m.ENSAddress] = m
}

// Load implements Loader.
func (r *Registry) Load(_ context.Context, ensAddress string) (*Module, error) {
	r.l.RLock()
	defer r.l.RUnlock()

	m, ok := r.modules[ensAddress]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ensAddress, ErrModuleNotFound)
	}

	return m, nil
}

// Loaders tries each loader in order. A loader answering ErrModuleNotFound passes the address to the next one.
type Loaders []Loader

// Load implements Loader.
func (ls Loaders) Load(ctx context.Context, ensAddress string) (*Module, error) {
	for _, l := range ls {
		m, err := l.Load(ctx, ensAddress)
		if err == nil {
			return m, nil
		}

		if !errors.Is(err, ErrModuleNotFound) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%s: %w", ensAddress, ErrModuleNotFound)
}
