// factory.go maps deliverables.backend values to backend constructors.
package storage

import (
	"fmt"

	"github.com/keygate/keygate/internal/config"
)

// BackendDatabase keeps all deliverable content inline; no blob backend is built.
const BackendDatabase = "database"

// FactoryFunc builds a backend from the application configuration
type FactoryFunc func(*config.Config) (Storage, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewStorage creates the configured blob backend. It returns nil, nil when the
// database backend is selected.
func NewStorage(cfg *config.Config) (Storage, error) {
	backend := cfg.Deliverables.Backend
	if backend == "" || backend == BackendDatabase {
		return nil, nil
	}

	factory, ok := factories[backend]
	if !ok {
		return nil, fmt.Errorf("unsupported deliverables backend: %s (is the backend package imported?)", backend)
	}

	return factory(cfg)
}
