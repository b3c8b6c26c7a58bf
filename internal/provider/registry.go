package provider

import (
	"fmt"
	"sync"

	"github.com/inferkit/inferkit/internal/translator/ir"
)

// ConverterFactory builds a fresh converter for one stream.
type ConverterFactory func(opts ir.ConvertOptions) ir.StreamConverter

// SerializerFactory builds a fresh serializer for one stream.
type SerializerFactory func(opts ir.SerializeOptions) ir.StreamSerializer

type registration struct {
	adapter    Adapter
	converter  ConverterFactory
	serializer SerializerFactory
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

// Register installs a provider's adapter and stream factories under its id.
// Later registrations replace earlier ones.
func Register(adapter Adapter, converter ConverterFactory, serializer SerializerFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[adapter.ID()] = registration{
		adapter:    adapter,
		converter:  converter,
		serializer: serializer,
	}
}

// LookupAdapter returns the adapter registered for id.
func LookupAdapter(id string) (Adapter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("provider: no adapter registered for %q", id)
	}
	return reg.adapter, nil
}

// NewConverter builds a converter for one stream of the given provider.
func NewConverter(id string, opts ir.ConvertOptions) (ir.StreamConverter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[id]
	if !ok || reg.converter == nil {
		return nil, fmt.Errorf("provider: no converter registered for %q", id)
	}
	return reg.converter(opts), nil
}

// NewSerializer builds a serializer for one stream of the given provider.
func NewSerializer(id string, opts ir.SerializeOptions) (ir.StreamSerializer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[id]
	if !ok || reg.serializer == nil {
		return nil, fmt.Errorf("provider: no serializer registered for %q", id)
	}
	return reg.serializer(opts), nil
}
