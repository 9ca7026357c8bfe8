package domain

import "context"

// Identity is the store's handle for one committed entity. The zero value
// means the object has no store entity.
type Identity string

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool { return id == "" }

// OpenSettings selects the store partition a session writes to.
type OpenSettings struct {
	// Partition is the session-relative output location, e.g. Session_3/rank_1.
	Partition string
	// Fresh discards any previously saved content of the partition.
	Fresh bool
}

// DocumentStore is the hierarchical, time-sampled document the engine writes
// into. Entity and attribute edits apply to the open document; Save makes them
// durable.
type DocumentStore interface {
	Open(ctx context.Context, settings OpenSettings) error
	Close(ctx context.Context) error
	CreateEntity(kind Kind, path string) (Identity, error)
	WriteAttribute(id Identity, name string, value Value, t float64, timeSample bool) error
	WriteReference(id Identity, slot string, targets []Identity, t float64, timeSample bool) error
	DeleteEntity(id Identity) error
	SetActiveTimeRange(t float64)
	Save(ctx context.Context) error
}

// SessionCatalog lists the partitions already present in durable storage.
type SessionCatalog interface {
	Partitions(ctx context.Context) ([]string, error)
}

// SceneIndexWriter records the rank partitions that make up one parallel
// session.
type SceneIndexWriter interface {
	WriteSceneIndex(ctx context.Context, session string, partitions []string) error
}

// Coordinator is the parallel-job collaborator used to agree on output
// partitioning before any rank writes.
type Coordinator interface {
	Rank() int
	Size() int
	BroadcastInt(ctx context.Context, value int) (int, error)
	Barrier(ctx context.Context) error
}
