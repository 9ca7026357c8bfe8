package core

import "scenesync/pkg/domain"

// refCount separates client-held (public) references from references held by
// other objects' parameters (internal).
type refCount struct {
	public   int
	internal int
}

func (o *Object) retainPublic() {
	o.refs.public++
}

// releasePublic drops one client reference. The caller invalidates the handle
// once the public count reaches zero.
func (o *Object) releasePublic() error {
	if o.refs.public <= 0 {
		return domain.IntegrityError{Object: o.Name(), Op: "release", Reason: "public reference count below zero"}
	}
	o.refs.public--
	return o.dieIfOrphaned()
}

func (o *Object) retainInternal() {
	o.refs.internal++
}

func (o *Object) releaseInternal() error {
	if o.refs.internal <= 0 {
		return domain.IntegrityError{Object: o.Name(), Op: "release_internal", Reason: "internal reference count below zero"}
	}
	o.refs.internal--
	return o.dieIfOrphaned()
}

// dieIfOrphaned drops the parameters of an object nothing references any more.
// Its children lose one internal reference each; the store identity stays
// until the collector runs.
func (o *Object) dieIfOrphaned() error {
	if o.dead || !o.Orphaned() {
		return nil
	}
	o.dead = true
	return o.params.clear()
}
