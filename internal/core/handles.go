package core

import (
	"errors"
	"fmt"

	"scenesync/pkg/domain"
)

// handleTable maps live public handles to objects and tracks every object
// until the collector drops it. owners records which object holds each
// entity path written by this session.
type handleTable struct {
	next    Handle
	live    map[Handle]*Object
	tracked []*Object
	owners  map[string]*Object
}

func newHandleTable() *handleTable {
	return &handleTable{live: make(map[Handle]*Object), owners: make(map[string]*Object)}
}

func (t *handleTable) add(kind domain.Kind, name string) *Object {
	t.next++
	o := newObject(kind, t.next, name)
	t.live[o.handle] = o
	t.tracked = append(t.tracked, o)
	return o
}

func (t *handleTable) lookup(h Handle) (*Object, bool) {
	o, ok := t.live[h]
	return o, ok
}

func (t *handleTable) invalidate(h Handle) {
	delete(t.live, h)
}

func (t *handleTable) claim(path string, o *Object) {
	t.owners[path] = o
}

// release drops the identity of o and frees its entity path.
func (t *handleTable) release(o *Object) {
	if path := o.kind.EntityPath(o.resolvedName); t.owners[path] == o {
		delete(t.owners, path)
	}
	o.identity = ""
	o.resolvedName = ""
}

// ensureIdentity creates the store entity of o at most once. An entity left
// at the same path by an earlier run of the session is adopted; a path held
// by another object of this session is refused.
func (s *Session) ensureIdentity(o *Object) (domain.Identity, bool, error) {
	if !o.identity.IsZero() {
		return o.identity, false, nil
	}
	name := o.Name()
	if explicit, ok := o.explicitName(); ok && explicit != o.defaultName {
		s.names.Reserve(explicit)
	}
	path := o.kind.EntityPath(name)
	if owner, ok := s.handles.owners[path]; ok && owner != o {
		return "", false, domain.TypeError{
			Object:   o.defaultName,
			Param:    ParamName,
			Expected: []string{"unused name"},
			Got:      fmt.Sprintf("%q already held by %s", name, owner.defaultName),
		}
	}
	id, err := s.store.CreateEntity(o.kind, path)
	isNew := true
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrEntityExists) && !id.IsZero():
		s.logger.Debug("adopting existing entity", "path", path)
		isNew = false
	default:
		return "", false, domain.StoreError{Op: "create_entity", Err: fmt.Errorf("%s: %w", path, err)}
	}
	o.identity = id
	o.resolvedName = name
	s.handles.claim(path, o)
	return id, isNew, nil
}
