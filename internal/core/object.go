package core

import (
	"math"

	"scenesync/pkg/domain"
)

// Handle is the client-facing reference to a scene object. Zero is never a
// valid handle.
type Handle uint64

// Object is one retained scene object.
type Object struct {
	kind           domain.Kind
	handle         Handle
	defaultName    string
	resolvedName   string
	refs           refCount
	params         *ParamHolder
	identity       domain.Identity
	pendingRemoval bool
	dead           bool
}

func newObject(kind domain.Kind, handle Handle, defaultName string) *Object {
	return &Object{
		kind:        kind,
		handle:      handle,
		defaultName: defaultName,
		refs:        refCount{public: 1},
		params:      NewParamHolder(defaultName, specFor(kind).params),
	}
}

// Kind returns the object kind.
func (o *Object) Kind() domain.Kind { return o.kind }

// Handle returns the handle the object was created with.
func (o *Object) Handle() Handle { return o.handle }

// Identity returns the store identity, zero before the first successful commit.
func (o *Object) Identity() domain.Identity { return o.identity }

// Params exposes the parameter holder.
func (o *Object) Params() *ParamHolder { return o.params }

// Name returns the object name. Once an identity exists the name is fixed;
// before that an explicit name parameter overrides the allocated default.
func (o *Object) Name() string {
	if o.resolvedName != "" {
		return o.resolvedName
	}
	if p, ok := o.params.Get(ParamName); ok && p.Value.String != "" {
		return p.Value.String
	}
	return o.defaultName
}

func (o *Object) explicitName() (string, bool) {
	p, ok := o.params.Get(ParamName)
	if !ok || p.Value.String == "" {
		return "", false
	}
	return p.Value.String, true
}

// PublicRefs returns the public reference count.
func (o *Object) PublicRefs() int { return o.refs.public }

// InternalRefs returns the internal reference count.
func (o *Object) InternalRefs() int { return o.refs.internal }

// Privatized reports whether only graph edges keep the object alive.
func (o *Object) Privatized() bool {
	return !o.dead && o.refs.public == 0 && o.refs.internal > 0
}

// Orphaned reports whether no public handle or parent references the object.
func (o *Object) Orphaned() bool {
	return o.refs.public == 0 && o.refs.internal == 0
}

// Changed reports whether parameters were set since the last flush.
func (o *Object) Changed() bool { return o.params.Changed() }

// PendingRemoval reports whether Remove was requested for the next flush.
func (o *Object) PendingRemoval() bool { return o.pendingRemoval }

// ownTime is the object's usd::time, NaN when unset.
func (o *Object) ownTime() float64 {
	p, ok := o.params.Get(ParamTime)
	if !ok || p.Type != ParamFloat {
		return math.NaN()
	}
	return p.Value.Float()
}

// timeVaryingMask is the object's usd::timeVarying bit set, all bits when unset.
func (o *Object) timeVaryingMask() uint64 {
	p, ok := o.params.Get(ParamTimeVarying)
	if !ok || p.Type != ParamInt {
		return AllTimeVarying
	}
	return uint64(p.Value.Int)
}

func (o *Object) floatParam(name string) float64 {
	p, ok := o.params.Get(name)
	if !ok || p.Type != ParamFloat {
		return math.NaN()
	}
	return p.Value.Float()
}
