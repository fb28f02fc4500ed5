package index

import (
	"fmt"

	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

// ID identifies one index inside the indexing service.
type ID uint64

// ProviderDescriptor names the provider implementation an index is
// bound to.
type ProviderDescriptor struct {
	Name    string
	Version string
}

func (p ProviderDescriptor) String() string {
	return p.Name + "-" + p.Version
}

// Descriptor is the unit the indexing service tracks: a schema
// descriptor plus provider identity and per-provider configuration.
// Created at index creation, destroyed at index drop.
type Descriptor struct {
	ID       ID
	Schema   storage.SchemaDescriptor
	Provider ProviderDescriptor
	Unique   bool
	Config   map[string]string
}

func (d Descriptor) String() string {
	return fmt.Sprintf("index[%d, schema=%s, provider=%s]", d.ID, d.Schema, d.Provider)
}

// WithConfigDefault returns a copy of the descriptor with the config
// key set when absent. Providers use it in CompleteConfiguration.
func (d Descriptor) WithConfigDefault(key, value string) Descriptor {
	if _, ok := d.Config[key]; ok {
		return d
	}
	cfg := make(map[string]string, len(d.Config)+1)
	for k, v := range d.Config {
		cfg[k] = v
	}
	cfg[key] = value
	d.Config = cfg
	return d
}
