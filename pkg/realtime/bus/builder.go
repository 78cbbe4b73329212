package bus

import (
	"fmt"

	"go.uber.org/zap"
)

// BusBuilder provides a fluent interface for creating Bus instances
type BusBuilder struct {
	logger     *zap.Logger
	name       string
	vocabulary []string
}

// NewBus creates a new BusBuilder
func NewBus() *BusBuilder {
	return &BusBuilder{}
}

// WithLogger sets the logger for the Bus
func (b *BusBuilder) WithLogger(logger *zap.Logger) *BusBuilder {
	b.logger = logger
	return b
}

// WithName sets the name for the Bus
func (b *BusBuilder) WithName(name string) *BusBuilder {
	b.name = name
	return b
}

// WithVocabulary adds event names to the closed set accepted by the Bus
func (b *BusBuilder) WithVocabulary(events ...string) *BusBuilder {
	b.vocabulary = append(b.vocabulary, events...)
	return b
}

// IsValid validates the builder configuration and returns an error if invalid
func (b *BusBuilder) IsValid() error {
	if len(b.vocabulary) == 0 {
		return fmt.Errorf("bus %q: vocabulary must not be empty", b.name)
	}

	seen := make(map[string]struct{}, len(b.vocabulary))
	for _, event := range b.vocabulary {
		if event == "" {
			return fmt.Errorf("bus %q: empty event name in vocabulary", b.name)
		}
		if _, dup := seen[event]; dup {
			return fmt.Errorf("bus %q: duplicate event name %q in vocabulary", b.name, event)
		}
		seen[event] = struct{}{}
	}

	return nil
}

// Build creates and returns the Bus instance, returning an error if configuration is invalid
func (b *BusBuilder) Build() (*Bus, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	vocabulary := make([]string, len(b.vocabulary))
	copy(vocabulary, b.vocabulary)

	known := make(map[string]struct{}, len(vocabulary))
	for _, event := range vocabulary {
		known[event] = struct{}{}
	}

	return &Bus{
		name:       b.name,
		logger:     logger,
		vocabulary: vocabulary,
		known:      known,
		handlers:   make(map[string][]*entry),
	}, nil
}

// MustBuild is like Build but panics if the configuration is invalid.
// Intended for buses whose vocabulary is fixed at compile time.
func (b *BusBuilder) MustBuild() *Bus {
	bus, err := b.Build()
	if err != nil {
		panic(err)
	}
	return bus
}
