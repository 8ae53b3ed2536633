package ipc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
)

// ConfigValidator checks a proposed value for one configuration key
// before it is applied. Grounded on interlock.ChangeHandler's
// snapshot-after-mutation idiom, narrowed here to a pass/reject gate
// run before the mutation commits.
type ConfigValidator func(value string) error

// ConfigChangeHandler is invoked after a key's value is committed.
type ConfigChangeHandler func(key, value string)

// ConfigStore is the fourth external-facing surface spec.md §6 names:
// Get/Set/change-subscription over the live configuration, with
// per-key validation callbacks. Grounded on the teacher's
// internal/events.EventBus (RWMutex-guarded subscriber list,
// deliver-to-all-under-lock), narrowed from pub/sub channels to a
// synchronous handler list since configuration changes are rare and
// must be applied before Set returns.
type ConfigStore struct {
	mu         sync.RWMutex
	values     map[string]string
	validators map[string]ConfigValidator
	handlers   []ConfigChangeHandler
}

// NewConfigStore constructs a ConfigStore seeded with initial values.
func NewConfigStore(initial map[string]string) *ConfigStore {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &ConfigStore{values: values, validators: make(map[string]ConfigValidator)}
}

// RegisterValidator installs the validation gate for key. Calling it
// again for the same key replaces the prior validator.
func (c *ConfigStore) RegisterValidator(key string, v ConfigValidator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validators[key] = v
}

// Subscribe adds h to the set invoked after every committed Set.
func (c *ConfigStore) Subscribe(h ConfigChangeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Get returns key's current value.
func (c *ConfigStore) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set validates and, on success, commits value for key and notifies
// subscribers. A rejected validation leaves the prior value untouched.
func (c *ConfigStore) Set(key, value string) error {
	c.mu.Lock()
	validator := c.validators[key]
	if validator != nil {
		if err := validator(value); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("config: %s rejected: %w", key, err)
		}
	}
	c.values[key] = value
	handlers := append([]ConfigChangeHandler(nil), c.handlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(key, value)
	}
	return nil
}

// Snapshot returns a copy of every key/value pair currently held.
func (c *ConfigStore) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// ConfigRouter exposes ConfigStore over HTTP/JSON, matching the
// command router's mux.Router + CORS shape.
type ConfigRouter struct {
	store *ConfigStore
}

// NewConfigRouter constructs a ConfigRouter over store.
func NewConfigRouter(store *ConfigStore) *ConfigRouter {
	return &ConfigRouter{store: store}
}

// Router builds the mux.Router for the configuration surface.
func (c *ConfigRouter) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.HandleFunc("/config", c.handleSnapshot).Methods("GET")
	r.HandleFunc("/config/{key}", c.handleGet).Methods("GET")
	r.HandleFunc("/config/{key}", c.handleSet).Methods("PUT")
	return r
}

func (c *ConfigRouter) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.store.Snapshot())
}

func (c *ConfigRouter) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, ok := c.store.Get(key)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown config key %q", key), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"key": key, "value": value})
}

type setConfigRequest struct {
	Value string `json:"value"`
}

func (c *ConfigRouter) handleSet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var req setConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := c.store.Set(key, req.Value); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, map[string]bool{"applied": true})
}
