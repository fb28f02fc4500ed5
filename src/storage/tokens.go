package storage

import (
	"sync"

	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
)

type tokenSpace struct {
	byName map[string]common.TokenID
	byID   map[common.TokenID]string
	next   common.TokenID
}

func newTokenSpace() *tokenSpace {
	return &tokenSpace{
		byName: map[string]common.TokenID{},
		byID:   map[common.TokenID]string{},
		next:   0,
	}
}

func (s *tokenSpace) lookup(name string) (common.TokenID, bool) {
	id, ok := s.byName[name]
	return id, ok
}

func (s *tokenSpace) getOrCreate(name string) common.TokenID {
	if id, ok := s.byName[name]; ok {
		return id
	}
	id := s.next
	s.next++
	s.byName[name] = id
	s.byID[id] = name
	return id
}

// TokenRegistry maps label and property key names to token ids.
// Translation internals are out of the kernel's scope; this default
// implementation backs the TokenRead/TokenWrite capabilities.
type TokenRegistry struct {
	mu       sync.RWMutex
	labels   *tokenSpace
	propKeys *tokenSpace
}

func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{
		labels:   newTokenSpace(),
		propKeys: newTokenSpace(),
	}
}

func (r *TokenRegistry) LabelID(name string) (common.TokenID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.labels.lookup(name)
}

func (r *TokenRegistry) PropertyKeyID(name string) (common.TokenID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.propKeys.lookup(name)
}

func (r *TokenRegistry) LabelName(id common.TokenID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.labels.byID[id]
	return name, ok
}

func (r *TokenRegistry) PropertyKeyName(id common.TokenID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.propKeys.byID[id]
	return name, ok
}

func (r *TokenRegistry) LabelGetOrCreate(name string) common.TokenID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.labels.getOrCreate(name)
}

func (r *TokenRegistry) PropertyKeyGetOrCreate(name string) common.TokenID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.propKeys.getOrCreate(name)
}
