package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
	"github.com/MrWong99/babelcast/pkg/provider/translate"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
	"github.com/MrWong99/babelcast/pkg/publish"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// CloneBackend both encodes reference samples and speaks with the result.
type CloneBackend interface {
	tts.Cloner
	tts.Encoder
}

// PublishFactory builds a dialer. It takes a context because some transports
// connect eagerly.
type PublishFactory func(ctx context.Context, cfg PublishConfig) (publish.Dialer, error)

// factories is one provider kind's name → constructor table.
type factories[E, T any] map[string]func(E) (T, error)

func (f factories[E, T]) create(kind, name string, entry E) (T, error) {
	var zero T
	factory, ok := f[name]
	if !ok {
		return zero, fmt.Errorf("%w: %s %q", ErrProviderNotRegistered, kind, name)
	}
	p, err := factory(entry)
	if err != nil {
		return zero, fmt.Errorf("config: create %s %q: %w", kind, name, err)
	}
	return p, nil
}

func (f factories[E, T]) names() []string {
	out := make([]string, 0, len(f))
	for n := range f {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	audio       factories[ProviderEntry, audio.Source]
	recognizer  factories[ProviderEntry, stt.Provider]
	translator  factories[TranslatorEntry, translate.Provider]
	synthesizer factories[ProviderEntry, tts.Provider]
	cloner      factories[ProviderEntry, CloneBackend]
	publisher   map[string]PublishFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		audio:       make(factories[ProviderEntry, audio.Source]),
		recognizer:  make(factories[ProviderEntry, stt.Provider]),
		translator:  make(factories[TranslatorEntry, translate.Provider]),
		synthesizer: make(factories[ProviderEntry, tts.Provider]),
		cloner:      make(factories[ProviderEntry, CloneBackend]),
		publisher:   make(map[string]PublishFactory),
	}
}

// RegisterAudio registers a capture source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// RegisterRecognizer registers a speech recognizer factory under name.
func (r *Registry) RegisterRecognizer(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizer[name] = factory
}

// RegisterTranslator registers a translation provider factory under name.
func (r *Registry) RegisterTranslator(name string, factory func(TranslatorEntry) (translate.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translator[name] = factory
}

// RegisterSynthesizer registers a generic TTS factory under name.
func (r *Registry) RegisterSynthesizer(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesizer[name] = factory
}

// RegisterCloner registers a voice cloning backend factory under name.
func (r *Registry) RegisterCloner(name string, factory func(ProviderEntry) (CloneBackend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cloner[name] = factory
}

// RegisterPublisher registers a publish dialer factory under name.
func (r *Registry) RegisterPublisher(name string, factory PublishFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publisher[name] = factory
}

// CreateAudio instantiates the capture source named in entry.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audio.create("audio", entry.Name, entry)
}

// CreateRecognizer instantiates the recognizer named in entry.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recognizer.create("recognizer", entry.Name, entry)
}

// CreateTranslator instantiates the translation provider named in entry.
func (r *Registry) CreateTranslator(entry TranslatorEntry) (translate.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.translator.create("translator", entry.Name, entry)
}

// CreateSynthesizer instantiates the generic synthesizer named in entry.
func (r *Registry) CreateSynthesizer(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.synthesizer.create("synthesizer", entry.Name, entry)
}

// CreateCloner instantiates the cloning backend named in entry.
func (r *Registry) CreateCloner(entry ProviderEntry) (CloneBackend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cloner.create("cloner", entry.Name, entry)
}

// CreatePublisher instantiates the publish dialer named in cfg.
func (r *Registry) CreatePublisher(ctx context.Context, cfg PublishConfig) (publish.Dialer, error) {
	r.mu.RLock()
	factory, ok := r.publisher[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: publisher %q", ErrProviderNotRegistered, cfg.Name)
	}
	d, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create publisher %q: %w", cfg.Name, err)
	}
	return d, nil
}

// Names returns the registered provider names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pub := make([]string, 0, len(r.publisher))
	for n := range r.publisher {
		pub = append(pub, n)
	}
	slices.Sort(pub)
	return map[string][]string{
		"audio":       r.audio.names(),
		"recognizer":  r.recognizer.names(),
		"translator":  r.translator.names(),
		"synthesizer": r.synthesizer.names(),
		"cloner":      r.cloner.names(),
		"publisher":   pub,
	}
}
