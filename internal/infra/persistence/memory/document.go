// Package memory provides the in-memory time-sampled document that every
// scenesync backend edits, plus a process-local store used for tests and
// ephemeral sessions.
package memory

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"scenesync/pkg/domain"
)

// Sample is one time-coded attribute value.
type Sample struct {
	Time  float64      `json:"time"`
	Value domain.Value `json:"value"`
}

// Track holds the default value and time samples of one attribute.
type Track struct {
	Default *domain.Value `json:"default,omitempty"`
	Samples []Sample      `json:"samples,omitempty"`
}

// ValueAt returns the sample written at t, falling back to the default.
func (tr Track) ValueAt(t float64) (domain.Value, bool) {
	for _, s := range tr.Samples {
		if s.Time == t {
			return s.Value, true
		}
	}
	if tr.Default != nil {
		return *tr.Default, true
	}
	return domain.Value{}, false
}

// RefSample is one time-coded reference target set. An empty target set is
// an explicit clear.
type RefSample struct {
	Time    float64           `json:"time"`
	Targets []domain.Identity `json:"targets"`
}

// RefTrack holds the default target set and time samples of one reference slot.
type RefTrack struct {
	HasDefault bool              `json:"has_default,omitempty"`
	Default    []domain.Identity `json:"default,omitempty"`
	Samples    []RefSample       `json:"samples,omitempty"`
}

// TargetsAt returns the targets written at t, falling back to the default.
func (rt RefTrack) TargetsAt(t float64) ([]domain.Identity, bool) {
	for _, s := range rt.Samples {
		if s.Time == t {
			return s.Targets, true
		}
	}
	if rt.HasDefault {
		return rt.Default, true
	}
	return nil, false
}

// Entity is one addressable node of the document.
type Entity struct {
	Path       string               `json:"path"`
	Kind       domain.Kind          `json:"kind"`
	Attributes map[string]*Track    `json:"attributes,omitempty"`
	References map[string]*RefTrack `json:"references,omitempty"`
}

// Snapshot is the serializable form of a document.
type Snapshot struct {
	Partition string   `json:"partition"`
	HasRange  bool     `json:"has_range,omitempty"`
	StartTime float64  `json:"start_time"`
	EndTime   float64  `json:"end_time"`
	Entities  []Entity `json:"entities"`
}

// Document is the editable, hierarchical, time-sampled scene document. Paths
// double as identities.
type Document struct {
	mu        sync.RWMutex
	partition string
	entities  map[domain.Identity]*Entity
	hasRange  bool
	start     float64
	end       float64
}

// NewDocument returns an empty document bound to partition.
func NewDocument(partition string) *Document {
	return &Document{partition: partition, entities: make(map[domain.Identity]*Entity)}
}

// Partition returns the partition the document is bound to.
func (d *Document) Partition() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.partition
}

// Reset discards all content and rebinds the document.
func (d *Document) Reset(partition string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.partition = partition
	d.entities = make(map[domain.Identity]*Entity)
	d.hasRange = false
	d.start, d.end = 0, 0
}

// CreateEntity adds an entity at path. When the path is already taken the
// existing identity is returned alongside ErrEntityExists.
func (d *Document) CreateEntity(kind domain.Kind, path string) (domain.Identity, error) {
	if path == "" {
		return "", fmt.Errorf("create entity: empty path")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := domain.Identity(path)
	if _, exists := d.entities[id]; exists {
		return id, fmt.Errorf("create entity %s: %w", path, domain.ErrEntityExists)
	}
	d.entities[id] = &Entity{
		Path:       path,
		Kind:       kind,
		Attributes: make(map[string]*Track),
		References: make(map[string]*RefTrack),
	}
	return id, nil
}

// WriteAttribute writes value as a sample at t or as the time-invariant
// default. A default write drops earlier samples of the attribute.
func (d *Document) WriteAttribute(id domain.Identity, name string, value domain.Value, t float64, timeSample bool) error {
	if timeSample && math.IsNaN(t) {
		return fmt.Errorf("write attribute %s.%s: time sample without time", id, name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ent, ok := d.entities[id]
	if !ok {
		return fmt.Errorf("write attribute %s.%s: %w", id, name, domain.ErrEntityNotFound)
	}
	tr := ent.Attributes[name]
	if tr == nil {
		tr = &Track{}
		ent.Attributes[name] = tr
	}
	v := value.Clone()
	if !timeSample {
		tr.Default = &v
		tr.Samples = nil
		return nil
	}
	for i := range tr.Samples {
		if tr.Samples[i].Time == t {
			tr.Samples[i].Value = v
			return nil
		}
	}
	tr.Samples = append(tr.Samples, Sample{Time: t, Value: v})
	sort.Slice(tr.Samples, func(i, j int) bool { return tr.Samples[i].Time < tr.Samples[j].Time })
	return nil
}

// WriteReference writes a target set for slot. Empty targets record an
// explicit clear rather than leaving the slot untouched.
func (d *Document) WriteReference(id domain.Identity, slot string, targets []domain.Identity, t float64, timeSample bool) error {
	if timeSample && math.IsNaN(t) {
		return fmt.Errorf("write reference %s.%s: time sample without time", id, slot)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ent, ok := d.entities[id]
	if !ok {
		return fmt.Errorf("write reference %s.%s: %w", id, slot, domain.ErrEntityNotFound)
	}
	rt := ent.References[slot]
	if rt == nil {
		rt = &RefTrack{}
		ent.References[slot] = rt
	}
	cp := slices.Clone(targets)
	if cp == nil {
		cp = []domain.Identity{}
	}
	if !timeSample {
		rt.HasDefault = true
		rt.Default = cp
		rt.Samples = nil
		return nil
	}
	for i := range rt.Samples {
		if rt.Samples[i].Time == t {
			rt.Samples[i].Targets = cp
			return nil
		}
	}
	rt.Samples = append(rt.Samples, RefSample{Time: t, Targets: cp})
	sort.Slice(rt.Samples, func(i, j int) bool { return rt.Samples[i].Time < rt.Samples[j].Time })
	return nil
}

// DeleteEntity removes an entity and all its tracks.
func (d *Document) DeleteEntity(id domain.Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entities[id]; !ok {
		return fmt.Errorf("delete entity %s: %w", id, domain.ErrEntityNotFound)
	}
	delete(d.entities, id)
	return nil
}

// SetActiveTimeRange widens the document's time range to include t.
func (d *Document) SetActiveTimeRange(t float64) {
	if math.IsNaN(t) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasRange {
		d.hasRange = true
		d.start, d.end = t, t
		return
	}
	d.start = math.Min(d.start, t)
	d.end = math.Max(d.end, t)
}

// TimeRange returns the active time range and whether one was set.
func (d *Document) TimeRange() (start, end float64, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.start, d.end, d.hasRange
}

// Has reports whether an entity exists for id.
func (d *Document) Has(id domain.Identity) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entities[id]
	return ok
}

// Len returns the number of entities.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entities)
}

// Entity returns a deep copy of the entity at id.
func (d *Document) Entity(id domain.Identity) (Entity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ent, ok := d.entities[id]
	if !ok {
		return Entity{}, false
	}
	return cloneEntity(ent), true
}

// Attribute returns a copy of one attribute track.
func (d *Document) Attribute(id domain.Identity, name string) (Track, bool) {
	ent, ok := d.Entity(id)
	if !ok {
		return Track{}, false
	}
	tr, ok := ent.Attributes[name]
	if !ok {
		return Track{}, false
	}
	return *tr, true
}

// Reference returns a copy of one reference track.
func (d *Document) Reference(id domain.Identity, slot string) (RefTrack, bool) {
	ent, ok := d.Entity(id)
	if !ok {
		return RefTrack{}, false
	}
	rt, ok := ent.References[slot]
	if !ok {
		return RefTrack{}, false
	}
	return *rt, true
}

// Export returns a deep copy of the document sorted by path.
func (d *Document) Export() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := Snapshot{
		Partition: d.partition,
		HasRange:  d.hasRange,
		StartTime: d.start,
		EndTime:   d.end,
		Entities:  make([]Entity, 0, len(d.entities)),
	}
	for _, ent := range d.entities {
		snap.Entities = append(snap.Entities, cloneEntity(ent))
	}
	sort.Slice(snap.Entities, func(i, j int) bool { return snap.Entities[i].Path < snap.Entities[j].Path })
	return snap
}

// Import replaces the document content with snapshot.
func (d *Document) Import(snap Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.partition = snap.Partition
	d.hasRange = snap.HasRange
	d.start, d.end = snap.StartTime, snap.EndTime
	d.entities = make(map[domain.Identity]*Entity, len(snap.Entities))
	for i := range snap.Entities {
		ent := cloneEntity(&snap.Entities[i])
		d.entities[domain.Identity(ent.Path)] = &ent
	}
}

func cloneEntity(src *Entity) Entity {
	out := Entity{
		Path:       src.Path,
		Kind:       src.Kind,
		Attributes: make(map[string]*Track, len(src.Attributes)),
		References: make(map[string]*RefTrack, len(src.References)),
	}
	for name, tr := range src.Attributes {
		cp := Track{}
		if tr.Default != nil {
			v := tr.Default.Clone()
			cp.Default = &v
		}
		for _, s := range tr.Samples {
			cp.Samples = append(cp.Samples, Sample{Time: s.Time, Value: s.Value.Clone()})
		}
		out.Attributes[name] = &cp
	}
	for slot, rt := range src.References {
		cp := RefTrack{HasDefault: rt.HasDefault, Default: slices.Clone(rt.Default)}
		for _, s := range rt.Samples {
			cp.Samples = append(cp.Samples, RefSample{Time: s.Time, Targets: slices.Clone(s.Targets)})
		}
		out.References[slot] = &cp
	}
	return out
}
