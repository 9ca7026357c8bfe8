package core

import (
	"fmt"
	"slices"

	"scenesync/pkg/domain"
)

// ParamType names a value shape a parameter accepts.
type ParamType string

const (
	ParamBool        ParamType = ParamType(domain.ValueBool)
	ParamInt         ParamType = ParamType(domain.ValueInt)
	ParamFloat       ParamType = ParamType(domain.ValueFloat)
	ParamVec2        ParamType = ParamType(domain.ValueVec2)
	ParamVec3        ParamType = ParamType(domain.ValueVec3)
	ParamVec4        ParamType = ParamType(domain.ValueVec4)
	ParamMat4        ParamType = ParamType(domain.ValueMat4)
	ParamString      ParamType = ParamType(domain.ValueString)
	ParamFloatArray  ParamType = ParamType(domain.ValueFloatArray)
	ParamIntArray    ParamType = ParamType(domain.ValueIntArray)
	ParamObject      ParamType = "object"
	ParamObjectArray ParamType = "object_array"
)

func (t ParamType) isObject() bool {
	return t == ParamObject || t == ParamObjectArray
}

// Parameters understood by every object kind.
const (
	ParamName        = "name"
	ParamTime        = "usd::time"
	ParamTimeVarying = "usd::timeVarying"
)

// Param is one typed parameter value. Object-typed params carry handles that
// the session resolves when the value is set.
type Param struct {
	Type    ParamType
	Value   domain.Value
	Handles []Handle

	objects []*Object
}

func dataParam(v domain.Value) Param { return Param{Type: ParamType(v.Type), Value: v} }

// Bool builds a bool param.
func Bool(v bool) Param { return dataParam(domain.BoolValue(v)) }

// Int builds an int param.
func Int(v int64) Param { return dataParam(domain.IntValue(v)) }

// Float builds a float param.
func Float(v float64) Param { return dataParam(domain.FloatValue(v)) }

// Vec2 builds a float2 param.
func Vec2(x, y float64) Param { return dataParam(domain.Vec2Value(x, y)) }

// Vec3 builds a float3 param.
func Vec3(x, y, z float64) Param { return dataParam(domain.Vec3Value(x, y, z)) }

// Vec4 builds a float4 param.
func Vec4(x, y, z, w float64) Param { return dataParam(domain.Vec4Value(x, y, z, w)) }

// Mat4 builds a row-major float4x4 param.
func Mat4(m []float64) Param { return dataParam(domain.Mat4Value(m)) }

// String builds a string param.
func String(v string) Param { return dataParam(domain.StringValue(v)) }

// FloatArray builds a float array param.
func FloatArray(v ...float64) Param { return dataParam(domain.FloatArrayValue(v)) }

// IntArray builds an int array param.
func IntArray(v ...int64) Param { return dataParam(domain.IntArrayValue(v)) }

// Ref builds a single object reference param.
func Ref(h Handle) Param { return Param{Type: ParamObject, Handles: []Handle{h}} }

// RefArray builds an object array param. The element kind is checked when the
// referencing object is flushed.
func RefArray(hs ...Handle) Param {
	return Param{Type: ParamObjectArray, Handles: slices.Clone(hs)}
}

// Objects returns the resolved children of an object-typed param.
func (p Param) Objects() []*Object {
	return p.objects
}

func (p Param) clone() Param {
	p.Value = p.Value.Clone()
	p.Handles = slices.Clone(p.Handles)
	p.objects = slices.Clone(p.objects)
	return p
}

// ParamDecl declares a parameter, its accepted types and its default. Kind is
// the expected child kind of object-typed values.
type ParamDecl struct {
	Name    string
	Types   []ParamType
	Default *domain.Value
	Kind    domain.Kind
}

func (d ParamDecl) accepts(t ParamType) bool {
	return slices.Contains(d.Types, t)
}

func (d ParamDecl) expected() []string {
	out := make([]string, 0, len(d.Types))
	for _, t := range d.Types {
		if t.isObject() && d.Kind != "" {
			out = append(out, fmt.Sprintf("%s<%s>", t, d.Kind))
			continue
		}
		out = append(out, string(t))
	}
	return out
}

// ParamHolder keeps the write and read buffers of one object. Object-typed
// values hold an internal reference on each child for as long as they sit in
// either buffer.
type ParamHolder struct {
	owner   string
	decls   map[string]ParamDecl
	write   map[string]Param
	read    map[string]Param
	changed bool
}

// NewParamHolder builds a holder over the supplied declarations.
func NewParamHolder(owner string, decls []ParamDecl) *ParamHolder {
	h := &ParamHolder{
		owner: owner,
		decls: make(map[string]ParamDecl, len(decls)),
		write: make(map[string]Param),
		read:  make(map[string]Param),
	}
	for _, d := range decls {
		h.decls[d.Name] = d
	}
	return h
}

// Decl returns the declaration of name.
func (h *ParamHolder) Decl(name string) (ParamDecl, bool) {
	d, ok := h.decls[name]
	return d, ok
}

// Set validates p against the declaration and stores it in the write buffer.
// A rejected value leaves the holder untouched.
func (h *ParamHolder) Set(name string, p Param) error {
	if err := h.check(name, p); err != nil {
		return err
	}
	p = p.clone()
	for _, child := range p.objects {
		child.retainInternal()
	}
	old, had := h.write[name]
	h.write[name] = p
	if name != ParamTime {
		h.changed = true
	}
	if had {
		return releaseChildren(old)
	}
	return nil
}

// Reset restores the declared default in the write buffer.
func (h *ParamHolder) Reset(name string) error {
	if _, ok := h.decls[name]; !ok {
		return domain.TypeError{Object: h.owner, Param: name, Expected: []string{"declared parameter"}, Got: "unknown"}
	}
	old, had := h.write[name]
	delete(h.write, name)
	if name != ParamTime {
		h.changed = true
	}
	if had {
		return releaseChildren(old)
	}
	return nil
}

func (h *ParamHolder) check(name string, p Param) error {
	decl, ok := h.decls[name]
	if !ok {
		return domain.TypeError{Object: h.owner, Param: name, Expected: []string{"declared parameter"}, Got: string(p.Type)}
	}
	mismatch := domain.TypeError{Object: h.owner, Param: name, Expected: decl.expected(), Got: string(p.Type)}
	if !decl.accepts(p.Type) {
		return mismatch
	}
	switch p.Type {
	case ParamObject:
		if len(p.objects) != 1 || p.objects[0] == nil {
			mismatch.Got = "missing object"
			return mismatch
		}
		if decl.Kind != "" && p.objects[0].kind != decl.Kind {
			mismatch.Got = fmt.Sprintf("%s<%s>", ParamObject, p.objects[0].kind)
			return mismatch
		}
	case ParamObjectArray:
		if slices.Contains(p.objects, nil) {
			mismatch.Got = "missing object"
			return mismatch
		}
	default:
		if string(p.Value.Type) != string(p.Type) || !p.Value.Valid() {
			mismatch.Got = string(p.Value.Type)
			return mismatch
		}
	}
	return nil
}

// TransferWriteToRead publishes the write buffer to the read buffer.
func (h *ParamHolder) TransferWriteToRead() error {
	next := make(map[string]Param, len(h.write))
	for name, p := range h.write {
		cp := p.clone()
		for _, child := range cp.objects {
			child.retainInternal()
		}
		next[name] = cp
	}
	prev := h.read
	h.read = next
	var firstErr error
	for _, p := range prev {
		if err := releaseChildren(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Get returns the read-buffer value of name, falling back to its default.
func (h *ParamHolder) Get(name string) (Param, bool) {
	if p, ok := h.read[name]; ok {
		return p, true
	}
	if d, ok := h.decls[name]; ok && d.Default != nil {
		return dataParam(d.Default.Clone()), true
	}
	return Param{}, false
}

// Children returns the read-buffer objects referenced by name.
func (h *ParamHolder) Children(name string) []*Object {
	p, ok := h.read[name]
	if !ok || !p.Type.isObject() {
		return nil
	}
	return p.objects
}

// Changed reports whether a parameter was set since the last flush.
func (h *ParamHolder) Changed() bool { return h.changed }

// MarkChanged forces the next commit to rewrite data.
func (h *ParamHolder) MarkChanged() { h.changed = true }

// ClearChanged resets the changed flag.
func (h *ParamHolder) ClearChanged() { h.changed = false }

// clear drops both buffers and releases every held child.
func (h *ParamHolder) clear() error {
	var firstErr error
	for _, buf := range []map[string]Param{h.write, h.read} {
		for _, p := range buf {
			if err := releaseChildren(p); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	h.write = make(map[string]Param)
	h.read = make(map[string]Param)
	return firstErr
}

func releaseChildren(p Param) error {
	var firstErr error
	for _, child := range p.objects {
		if err := child.releaseInternal(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
