package k8s

import (
	"sync"

	"github.com/pkg/errors"
)

// BaseRegistrar stores Runner instances & remembers the order
// in which they were registered
type BaseRegistrar struct {
	EntityType EntityType
	Store      map[Key]Runner

	// Keys that follow the insertion order
	orderedEntries []Key

	// all operations should be thread safe & hence should use
	// this mutex
	mu sync.Mutex
}

// compile time check to assert if BaseRegistrar
// implements the interface Registrar
var _ Registrar = (*BaseRegistrar)(nil)

// NewRegistrar returns an empty registrar for the given entity type
func NewRegistrar(entityType EntityType) *BaseRegistrar {
	return &BaseRegistrar{
		EntityType: entityType,
		Store:      map[Key]Runner{},
	}
}

// Type defines the kind of entries that this
// registry can store
func (r *BaseRegistrar) Type() EntityType {
	return r.EntityType
}

// Get the Runner corresponding to the given Key
func (r *BaseRegistrar) Get(key Key) Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Store[key]
}

// GetKeys returns the entry keys based on their
// inserted order
func (r *BaseRegistrar) GetKeys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Key(nil), r.orderedEntries...)
}

// GetRunners returns the registered runner(s)
// based on their insertion order
func (r *BaseRegistrar) GetRunners() []Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	runners := make([]Runner, 0, len(r.orderedEntries))
	for _, key := range r.orderedEntries {
		runners = append(runners, r.Store[key])
	}
	return runners
}

// Register the provided Runner instance to be retrieved
// later
func (r *BaseRegistrar) Register(runner Runner) error {
	regEntry, ok := runner.(RegistrarEntry)
	if !ok {
		return errors.Errorf(
			"failed to register: unsupported runner: want %q",
			r.EntityType,
		)
	}

	if r.EntityType != regEntry.Type() {
		return errors.Errorf(
			"failed to register: type mismatch: want %q: got %q",
			r.EntityType,
			regEntry.Type(),
		)
	}

	if regVal, ok := runner.(Validator); ok {
		if err := regVal.Validate(); err != nil {
			return errors.Wrapf(err, "failed to register %q", regEntry.Key())
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Store == nil {
		r.Store = map[Key]Runner{}
	}
	if _, duplicate := r.Store[regEntry.Key()]; duplicate {
		return errors.Errorf(
			"duplicate runner: registry type %q: runner key %q", regEntry.Type(), regEntry.Key(),
		)
	}
	r.orderedEntries = append(r.orderedEntries, regEntry.Key())
	r.Store[regEntry.Key()] = runner
	return nil
}

// IsRegistered returns true if the provided key has an entry
// in the registry
func (r *BaseRegistrar) IsRegistered(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, found := r.Store[key]
	return found
}

// Unregister removes the entry with the given key if present
func (r *BaseRegistrar) Unregister(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.Store[key]; !found {
		return
	}
	delete(r.Store, key)
	for i, k := range r.orderedEntries {
		if k == key {
			r.orderedEntries = append(r.orderedEntries[:i], r.orderedEntries[i+1:]...)
			break
		}
	}
}

// gcRegistry remembers every object created by a Task so that
// Teardown can remove them later
var (
	_gcRegistry     *BaseRegistrar
	_gcRegistryOnce sync.Once
)

func getDefaultGCRegistry() *BaseRegistrar {
	_gcRegistryOnce.Do(func() {
		_gcRegistry = NewRegistrar(EntityTypeGarbageCollector)
	})
	return _gcRegistry
}
