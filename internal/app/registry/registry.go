// Package registry tracks every loadable model version and which single one
// is active. The active pointer is the only mutable shared state in the
// serving layer; switches happen in one critical section so no reader ever
// observes zero or two active descriptors.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/visasight/prediction-service/internal/app/domain/model"
	"github.com/visasight/prediction-service/internal/app/inference"
	"github.com/visasight/prediction-service/internal/errors"
	"github.com/visasight/prediction-service/internal/logging"
)

// Mirror replicates descriptor metadata to a shared store so sibling
// replicas can observe registrations and switches. Mirror failures are
// logged, never propagated: the in-process registry is the source of truth.
type Mirror interface {
	SaveDescriptor(ctx context.Context, d model.Descriptor) error
	SaveActive(ctx context.Context, version string) error
}

// SwitchListener observes completed switches.
type SwitchListener func(previous, next model.Descriptor)

type entry struct {
	descriptor model.Descriptor
	adapter    inference.Adapter
}

// Registry is safe for concurrent use. Reads never block behind a switch;
// the switch itself is serialized against other switches.
type Registry struct {
	mu       sync.RWMutex
	switchMu sync.Mutex

	entries map[string]*entry
	order   []string
	active  string

	log       *logging.Logger
	mirrors   []Mirror
	listeners []SwitchListener
}

// Option configures the registry.
type Option func(*Registry)

// WithMirror attaches a metadata mirror. May be given more than once; every
// mirror receives every snapshot.
func WithMirror(m Mirror) Option {
	return func(r *Registry) { r.mirrors = append(r.mirrors, m) }
}

// New builds an empty registry.
func New(log *logging.Logger, opts ...Option) *Registry {
	if log == nil {
		log = logging.Default("registry")
	}
	r := &Registry{
		entries: make(map[string]*entry),
		log:     log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnSwitch registers a listener invoked after every successful switch. Call
// before serving traffic.
func (r *Registry) OnSwitch(listener SwitchListener) {
	r.listeners = append(r.listeners, listener)
}

// Register adds a descriptor and its adapter. The first registration
// becomes active. Duplicate versions are rejected.
func (r *Registry) Register(ctx context.Context, d model.Descriptor, adapter inference.Adapter) error {
	if d.Version == "" {
		return fmt.Errorf("descriptor has no version")
	}
	if !d.Family.Valid() {
		return fmt.Errorf("descriptor %s has unknown family %q", d.Version, d.Family)
	}
	if adapter == nil {
		return fmt.Errorf("descriptor %s has no adapter", d.Version)
	}
	if adapter.Family() != d.Family {
		return fmt.Errorf("descriptor %s family %s does not match adapter family %s", d.Version, d.Family, adapter.Family())
	}

	r.mu.Lock()
	if _, exists := r.entries[d.Version]; exists {
		r.mu.Unlock()
		return errors.DuplicateModelVersion(d.Version)
	}

	stored := d.Clone()
	stored.IsActive = false
	if len(r.entries) == 0 {
		stored.IsActive = true
		r.active = d.Version
	}
	r.entries[d.Version] = &entry{descriptor: stored, adapter: adapter}
	r.order = append(r.order, d.Version)
	r.mu.Unlock()

	r.log.WithField("version", d.Version).WithField("family", d.Family).Info("model registered")
	r.mirrorDescriptor(ctx, stored)
	return nil
}

// List returns descriptors in registration order, copy-on-read.
func (r *Registry) List() []model.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Descriptor, 0, len(r.order))
	for _, version := range r.order {
		out = append(out, r.entries[version].descriptor.Clone())
	}
	return out
}

// GetActive returns the active descriptor and its adapter. An empty
// registry fails with a no-active-model error. A non-empty registry whose
// active pointer is broken is an invariant violation: it is logged and the
// mock descriptor is used if one is registered.
func (r *Registry) GetActive() (model.Descriptor, inference.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return model.Descriptor{}, nil, errors.NoActiveModel("no models registered")
	}

	if e, ok := r.entries[r.active]; ok {
		return e.descriptor.Clone(), e.adapter, nil
	}

	r.log.WithField("active", r.active).Error("active pointer references no descriptor; falling back to mock")
	for _, e := range r.entries {
		if e.descriptor.Family == model.FamilyMock {
			return e.descriptor.Clone(), e.adapter, nil
		}
	}
	return model.Descriptor{}, nil, errors.NoActiveModel("active model missing and no mock registered")
}

// Get returns one descriptor by resolved target.
func (r *Registry) Get(target string) (model.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, ok := r.resolveLocked(target)
	if !ok {
		return model.Descriptor{}, errors.UnknownModelVersion(target)
	}
	return r.entries[version].descriptor.Clone(), nil
}

// Switch atomically moves the active flag to the resolved target and
// returns the previously active version. Concurrent switches are serialized
// so their flag updates never interleave; prediction reads proceed
// unblocked throughout.
func (r *Registry) Switch(ctx context.Context, target string) (string, error) {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()

	r.mu.Lock()
	version, ok := r.resolveLocked(target)
	if !ok {
		r.mu.Unlock()
		return "", errors.UnknownModelVersion(target)
	}

	previous := r.active
	if previous == version {
		r.mu.Unlock()
		return previous, nil
	}

	var prevDescriptor, nextDescriptor model.Descriptor
	if prev, ok := r.entries[previous]; ok {
		prev.descriptor.IsActive = false
		prevDescriptor = prev.descriptor.Clone()
	}
	next := r.entries[version]
	next.descriptor.IsActive = true
	r.active = version
	nextDescriptor = next.descriptor.Clone()
	r.mu.Unlock()

	r.log.WithField("from", previous).WithField("to", version).Info("active model switched")
	if prevDescriptor.Version != "" {
		r.mirrorDescriptor(ctx, prevDescriptor)
	}
	r.mirrorDescriptor(ctx, nextDescriptor)
	for _, m := range r.mirrors {
		if err := m.SaveActive(ctx, version); err != nil {
			r.log.WithError(err).Warn("mirror active model")
		}
	}
	for _, listener := range r.listeners {
		listener(prevDescriptor, nextDescriptor)
	}
	return previous, nil
}

// aliases maps the model_type names the original product shipped with onto
// families, so both survive as switch targets.
var aliases = map[string]model.Family{
	"baseline":     model.FamilyTabularRF,
	"baseline-rf":  model.FamilyTabularRF,
	"baseline-xgb": model.FamilyTabularXGB,
}

// resolveLocked maps a switch/lookup target to a registered version. The
// target may be an exact version, a family name, or a legacy alias.
func (r *Registry) resolveLocked(target string) (string, bool) {
	if _, ok := r.entries[target]; ok {
		return target, true
	}

	family := model.Family(target)
	if alias, ok := aliases[target]; ok {
		family = alias
	}
	if !family.Valid() {
		return "", false
	}
	for _, version := range r.order {
		if r.entries[version].descriptor.Family == family {
			return version, true
		}
	}
	return "", false
}

func (r *Registry) mirrorDescriptor(ctx context.Context, d model.Descriptor) {
	for _, m := range r.mirrors {
		if err := m.SaveDescriptor(ctx, d); err != nil {
			r.log.WithError(err).WithField("version", d.Version).Warn("mirror descriptor")
		}
	}
}
