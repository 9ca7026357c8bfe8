package core

import (
	"errors"

	"scenesync/pkg/domain"
)

// collect deletes the store identity of every tracked object with no public
// and no internal references, then stops tracking it. Children are not
// visited; their own counts already dropped when the parent died.
func (s *Session) collect() (int, error) {
	kept := s.handles.tracked[:0]
	deleted := 0
	var firstErr error
	for _, o := range s.handles.tracked {
		if !o.Orphaned() {
			kept = append(kept, o)
			continue
		}
		if !o.identity.IsZero() {
			if err := s.store.DeleteEntity(o.identity); err != nil && !errors.Is(err, domain.ErrEntityNotFound) {
				serr := domain.StoreError{Op: "delete_entity", Err: err}
				s.status.Report(o, serr)
				if firstErr == nil {
					firstErr = serr
				}
				kept = append(kept, o)
				continue
			}
			s.handles.release(o)
			deleted++
		}
	}
	for i := len(kept); i < len(s.handles.tracked); i++ {
		s.handles.tracked[i] = nil
	}
	s.handles.tracked = kept
	return deleted, firstErr
}
