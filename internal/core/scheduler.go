package core

import (
	"scenesync/pkg/domain"
)

type workItem struct {
	obj        *Object
	commitData bool
}

// worklist holds the objects waiting for the next flush, one entry per object.
type worklist struct {
	items []workItem
	index map[*Object]int
}

func newWorklist() *worklist {
	return &worklist{index: make(map[*Object]int)}
}

// enqueue adds o. A repeated request keeps the first position and ORs in
// commitData.
func (w *worklist) enqueue(o *Object, commitData bool) {
	if i, ok := w.index[o]; ok {
		w.items[i].commitData = w.items[i].commitData || commitData
		return
	}
	w.index[o] = len(w.items)
	w.items = append(w.items, workItem{obj: o, commitData: commitData})
}

func (w *worklist) len() int { return len(w.items) }

func (w *worklist) contains(o *Object) bool {
	_, ok := w.index[o]
	return ok
}

// ordered returns the entries grouped by flush bucket, insertion order kept
// inside each bucket.
func (w *worklist) ordered() []workItem {
	bucketOf := make(map[domain.Kind]int, len(domain.Kinds()))
	for i, bucket := range domain.FlushOrder {
		for _, k := range bucket {
			bucketOf[k] = i
		}
	}
	buckets := make([][]workItem, len(domain.FlushOrder))
	for _, it := range w.items {
		b := bucketOf[it.obj.kind]
		buckets[b] = append(buckets[b], it)
	}
	out := make([]workItem, 0, len(w.items))
	for _, b := range buckets {
		out = append(out, b...)
	}
	return out
}

func (w *worklist) reset() {
	w.items = nil
	w.index = make(map[*Object]int)
}

// FlushStats counts what one flush did to the worklist and the collector.
type FlushStats struct {
	Pending   int `json:"pending"`
	Processed int `json:"processed"`
	Deferred  int `json:"deferred"`
	Created   int `json:"created"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
	Collected int `json:"collected"`
}

// runFlush performs one kind-ordered pass over the worklist. Diagnostics go
// to the status reporter; the pass itself never fails.
func (s *Session) runFlush() FlushStats {
	var (
		stats   = FlushStats{Pending: s.work.len()}
		removal []*Object
		// objects whose data did not reach the store keep their changed flag
		// so a plain re-commit rewrites them.
		unwritten = make(map[*Object]bool)
	)
	items := s.work.ordered()
	for _, it := range items {
		o := it.obj
		if o.dead {
			continue
		}
		stats.Processed++
		if o.pendingRemoval {
			removal = append(removal, o)
			continue
		}
		ops := dispatch[o.kind]
		if err := ops.deferCommit(o); err != nil {
			stats.Deferred++
			unwritten[o] = true
			s.status.Report(o, err)
			continue
		}
		_, isNew, err := s.ensureIdentity(o)
		if err != nil {
			stats.Failed++
			unwritten[o] = true
			s.status.Report(o, err)
			continue
		}
		if isNew {
			stats.Created++
		}
		needRefs := !it.commitData
		if it.commitData {
			needRefs, err = ops.commitData(s, o, isNew)
			if err != nil {
				stats.Failed++
				unwritten[o] = true
				s.status.Report(o, err)
				continue
			}
		}
		if needRefs {
			if err := ops.commitRefs(s, o); err != nil {
				stats.Failed++
				unwritten[o] = true
				s.status.Report(o, err)
			}
		}
	}
	for _, o := range removal {
		if o.identity.IsZero() {
			continue
		}
		if err := s.store.DeleteEntity(o.identity); err != nil {
			stats.Failed++
			s.status.Report(o, domain.StoreError{Op: "delete_entity", Err: err})
			continue
		}
		s.handles.release(o)
		stats.Removed++
	}
	for _, it := range items {
		if !unwritten[it.obj] {
			it.obj.params.ClearChanged()
		}
		it.obj.pendingRemoval = false
	}
	s.work.reset()
	return stats
}
