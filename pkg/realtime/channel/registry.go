package channel

import (
	"errors"
	"sort"
	"sync"

	"github.com/amir-yaghoubi/mqttpattern"
	"go.uber.org/zap"
)

// ErrInvalidName is returned for an empty channel name.
var ErrInvalidName = errors.New("invalid channel name")

// Registry owns the channels of one connection.
type Registry struct {
	logger *zap.Logger

	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:   logger,
		channels: make(map[string]*Channel),
	}
}

// Get returns the channel called name, if it exists.
func (r *Registry) Get(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[name]
	return c, ok
}

// GetOrCreate returns the channel called name, creating it if needed.
func (r *Registry) GetOrCreate(name string) (*Channel, error) {
	if name == "" {
		return nil, ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.channels[name]; ok {
		return c, nil
	}

	c := New(name, r.logger)
	r.channels[name] = c
	r.logger.Debug("Channel created", zap.String("channel", name))
	return c, nil
}

// Release forgets the channel called name. It returns false if there was none.
func (r *Registry) Release(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[name]; !ok {
		return false
	}
	delete(r.channels, name)
	r.logger.Debug("Channel released", zap.String("channel", name))
	return true
}

// Names returns the known channel names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Match returns the channels whose names match an MQTT-style pattern, where
// "+" matches one "/"-separated level and "#" matches any remaining levels.
func (r *Registry) Match(pattern string) []*Channel {
	var matched []*Channel
	for _, name := range r.Names() {
		if mqttpattern.Matches(pattern, name) {
			if c, ok := r.Get(name); ok {
				matched = append(matched, c)
			}
		}
	}
	return matched
}

// Resolve returns the channel called name for dispatch. An unknown name is
// logged and resolves to a NullChannel.
func (r *Registry) Resolve(name string) Target {
	if c, ok := r.Get(name); ok {
		return c
	}

	r.logger.Warn("Received frame for unknown channel",
		zap.String("channel", name),
		zap.Strings("known", r.Names()))
	return NewNullChannel(name)
}

// Resolver looks up dispatch targets by channel name.
type Resolver interface {
	Resolve(name string) Target
}

var _ Resolver = (*Registry)(nil)
