package schema

import "fmt"

// InstrumentID is the numeric identifier for an instrument.
type InstrumentID uint32

// InstrumentInfo describes a registered instrument.
type InstrumentInfo struct {
	ID   InstrumentID
	Name string
	Kind InstrumentKind
}

// Registry stores instrument mappings in a compact form. IDs are assigned in
// registration order starting from 1.
type Registry struct {
	instruments []InstrumentInfo
	byName      map[string]InstrumentID
	assets      int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]InstrumentID),
	}
}

// Add registers a new instrument and returns its ID.
func (r *Registry) Add(name string, kind InstrumentKind) (InstrumentID, error) {
	if name == "" {
		return 0, fmt.Errorf("instrument name is empty")
	}
	if kind != InstrumentKindAsset && kind != InstrumentKindBase {
		return 0, fmt.Errorf("instrument kind is invalid: %s", name)
	}
	if id, ok := r.byName[name]; ok {
		return id, fmt.Errorf("instrument already exists: %s", name)
	}
	id := InstrumentID(len(r.instruments) + 1)
	r.instruments = append(r.instruments, InstrumentInfo{ID: id, Name: name, Kind: kind})
	r.byName[name] = id
	if kind == InstrumentKindAsset {
		r.assets++
	}
	return id, nil
}

// Instrument returns the instrument by ID.
func (r *Registry) Instrument(id InstrumentID) (InstrumentInfo, bool) {
	if id == 0 || int(id) > len(r.instruments) {
		return InstrumentInfo{}, false
	}
	return r.instruments[id-1], true
}

// IDByName returns the instrument ID for a name.
func (r *Registry) IDByName(name string) (InstrumentID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Count returns the number of registered instruments.
func (r *Registry) Count() int {
	return len(r.instruments)
}

// AssetCount returns the number of tradable instruments.
func (r *Registry) AssetCount() int {
	return r.assets
}

// At returns the instrument by zero-based index.
func (r *Registry) At(index int) (InstrumentInfo, bool) {
	if index < 0 || index >= len(r.instruments) {
		return InstrumentInfo{}, false
	}
	return r.instruments[index], true
}
