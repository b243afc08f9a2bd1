package goSession

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goSession/storage"
)

// Builder assembles a Controller. A Builder builds at most one Controller.
type Builder struct {
	config Config
	kv     storage.Storage
	client *http.Client
	log    zerolog.Logger
	sink   EventSink

	built bool
}

// New returns a Builder seeded with DefaultConfig and in-memory storage.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		log:    zerolog.Nop(),
	}
}

// WithConfig replaces the configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStorage sets the durable store. Without it the session lives in a
// MemoryStorage and does not survive the process.
func (b *Builder) WithStorage(kv storage.Storage) *Builder {
	b.kv = kv
	return b
}

// WithHTTPClient sets the client used for every API request.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.client = c
	return b
}

// WithLogger sets the logger. The default discards everything.
func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.log = log
	return b
}

// WithEventSink receives session events when Config.Events.Enabled is set.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.sink = sink
	return b
}

// Build validates the configuration, restores any persisted session and
// returns the Controller.
func (b *Builder) Build() (*Controller, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, w := range cfg.Lint() {
		b.log.Warn().Str("component", "config").Str("code", w.Code).Msg(w.Message)
	}
	if cfg.Events.Enabled && b.sink == nil {
		return nil, errors.New("Events enabled without an event sink")
	}

	kv := b.kv
	if kv == nil {
		kv = storage.NewMemoryStorage()
	}
	client := b.client
	if client == nil {
		client = &http.Client{}
	}

	c, err := newController(context.Background(), cfg, kv, client, b.log, b.sink)
	if err != nil {
		return nil, err
	}
	b.built = true
	return c, nil
}
