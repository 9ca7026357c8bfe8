package core

import (
	"math"

	"scenesync/pkg/domain"
)

// attrDecl maps a data parameter onto a store attribute. bit selects the
// time-varying flag; -1 means always written as a default.
type attrDecl struct {
	param string
	bit   int
}

// slotDecl maps an object-typed parameter onto a store reference slot.
type slotDecl struct {
	param   string
	slot    string
	kind    domain.Kind
	bit     int
	refTime string
}

type kindSpec struct {
	params []ParamDecl
	attrs  []attrDecl
	slots  []slotDecl
}

// kindOps is the per-kind commit behavior the scheduler dispatches through.
type kindOps struct {
	spec        kindSpec
	deferCommit func(o *Object) error
	commitData  func(s *Session, o *Object, isNew bool) (bool, error)
	commitRefs  func(s *Session, o *Object) error
}

func standardOps(spec kindSpec) kindOps {
	return kindOps{
		spec:        spec,
		deferCommit: deferUnresolved(spec),
		commitData:  writeAttributes(spec),
		commitRefs:  writeReferences(spec),
	}
}

var dispatch = map[domain.Kind]kindOps{
	domain.KindSampler:      standardOps(samplerSpec),
	domain.KindSpatialField: standardOps(spatialFieldSpec),
	domain.KindGeometry:     standardOps(geometrySpec),
	domain.KindLight:        standardOps(lightSpec),
	domain.KindMaterial:     standardOps(materialSpec),
	domain.KindSurface:      standardOps(surfaceSpec),
	domain.KindVolume:       standardOps(volumeSpec),
	domain.KindGroup:        standardOps(groupSpec),
	domain.KindInstance:     standardOps(instanceSpec),
	domain.KindWorld:        standardOps(worldSpec),
	domain.KindCamera:       standardOps(cameraSpec),
	domain.KindFrame:        standardOps(frameSpec),
}

func specFor(kind domain.Kind) kindSpec {
	return dispatch[kind].spec
}

func valuePtr(v domain.Value) *domain.Value { return &v }

func paramTypes(ts ...ParamType) []ParamType { return ts }

func withCommon(decls ...ParamDecl) []ParamDecl {
	common := []ParamDecl{
		{Name: ParamName, Types: paramTypes(ParamString)},
		{Name: ParamTime, Types: paramTypes(ParamFloat)},
		{Name: ParamTimeVarying, Types: paramTypes(ParamInt)},
	}
	return append(common, decls...)
}

var samplerSpec = kindSpec{
	params: withCommon(
		ParamDecl{Name: "image", Types: paramTypes(ParamFloatArray)},
		ParamDecl{Name: "inAttribute", Types: paramTypes(ParamString), Default: valuePtr(domain.StringValue("attribute0"))},
		ParamDecl{Name: "filter", Types: paramTypes(ParamString), Default: valuePtr(domain.StringValue("linear"))},
		ParamDecl{Name: "wrapMode1", Types: paramTypes(ParamString), Default: valuePtr(domain.StringValue("clampToEdge"))},
	),
	attrs: []attrDecl{{"image", 0}, {"inAttribute", 1}, {"filter", 2}, {"wrapMode1", 3}},
}

var spatialFieldSpec = kindSpec{
	params: withCommon(
		ParamDecl{Name: "data", Types: paramTypes(ParamFloatArray)},
		ParamDecl{Name: "spacing", Types: paramTypes(ParamVec3), Default: valuePtr(domain.Vec3Value(1, 1, 1))},
		ParamDecl{Name: "origin", Types: paramTypes(ParamVec3), Default: valuePtr(domain.Vec3Value(0, 0, 0))},
		ParamDecl{Name: "filter", Types: paramTypes(ParamString), Default: valuePtr(domain.StringValue("linear"))},
	),
	attrs: []attrDecl{{"data", 0}, {"spacing", 1}, {"origin", 2}, {"filter", -1}},
}

var geometrySpec = kindSpec{
	params: withCommon(
		ParamDecl{Name: "vertex.position", Types: paramTypes(ParamFloatArray)},
		ParamDecl{Name: "vertex.normal", Types: paramTypes(ParamFloatArray)},
		ParamDecl{Name: "vertex.color", Types: paramTypes(ParamFloatArray)},
		ParamDecl{Name: "primitive.index", Types: paramTypes(ParamIntArray)},
		ParamDecl{Name: "radius", Types: paramTypes(ParamFloat), Default: valuePtr(domain.FloatValue(1))},
	),
	attrs: []attrDecl{{"vertex.position", 0}, {"vertex.normal", 1}, {"vertex.color", 2}, {"primitive.index", 3}, {"radius", 4}},
}

var lightSpec = kindSpec{
	params: withCommon(
		ParamDecl{Name: "color", Types: paramTypes(ParamVec3), Default: valuePtr(domain.Vec3Value(1, 1, 1))},
		ParamDecl{Name: "intensity", Types: paramTypes(ParamFloat), Default: valuePtr(domain.FloatValue(1))},
		ParamDecl{Name: "direction", Types: paramTypes(ParamVec3), Default: valuePtr(domain.Vec3Value(0, 0, -1))},
		ParamDecl{Name: "visible", Types: paramTypes(ParamBool), Default: valuePtr(domain.BoolValue(true))},
	),
	attrs: []attrDecl{{"color", 0}, {"intensity", 1}, {"direction", 2}, {"visible", -1}},
}

// Material inputs accept a constant, a geometry attribute name, or a sampler.
var materialSpec = kindSpec{
	params: withCommon(
		ParamDecl{Name: "color", Types: paramTypes(ParamVec3, ParamString, ParamObject), Kind: domain.KindSampler, Default: valuePtr(domain.Vec3Value(0.8, 0.8, 0.8))},
		ParamDecl{Name: "opacity", Types: paramTypes(ParamFloat, ParamString, ParamObject), Kind: domain.KindSampler, Default: valuePtr(domain.FloatValue(1))},
		ParamDecl{Name: "roughness", Types: paramTypes(ParamFloat, ParamString, ParamObject), Kind: domain.KindSampler, Default: valuePtr(domain.FloatValue(0.5))},
		ParamDecl{Name: "metallic", Types: paramTypes(ParamFloat, ParamString, ParamObject), Kind: domain.KindSampler, Default: valuePtr(domain.FloatValue(0))},
		ParamDecl{Name: "emissive", Types: paramTypes(ParamVec3, ParamString, ParamObject), Kind: domain.KindSampler},
	),
	attrs: []attrDecl{{"color", 0}, {"opacity", 1}, {"roughness", 2}, {"metallic", 3}, {"emissive", 4}},
	slots: []slotDecl{
		{param: "color", slot: "color.sampler", kind: domain.KindSampler, bit: 0},
		{param: "opacity", slot: "opacity.sampler", kind: domain.KindSampler, bit: 1},
		{param: "roughness", slot: "roughness.sampler", kind: domain.KindSampler, bit: 2},
		{param: "metallic", slot: "metallic.sampler", kind: domain.KindSampler, bit: 3},
		{param: "emissive", slot: "emissive.sampler", kind: domain.KindSampler, bit: 4},
	},
}

var surfaceSpec = kindSpec{
	params: withCommon(
		ParamDecl{Name: "geometry", Types: paramTypes(ParamObject), Kind: domain.KindGeometry},
		ParamDecl{Name: "material", Types: paramTypes(ParamObject), Kind: domain.KindMaterial},
		ParamDecl{Name: "usd::time.geometry", Types: paramTypes(ParamFloat)},
		ParamDecl{Name: "usd::time.material", Types: paramTypes(ParamFloat)},
	),
	slots: []slotDecl{
		{param: "geometry", slot: "geometry", kind: domain.KindGeometry, bit: 0, refTime: "usd::time.geometry"},
		{param: "material", slot: "material", kind: domain.KindMaterial, bit: 1, refTime: "usd::time.material"},
	},
}

var volumeSpec = kindSpec{
	params: withCommon(
		ParamDecl{Name: "value", Types: paramTypes(ParamObject), Kind: domain.KindSpatialField},
		ParamDecl{Name: "valueRange", Types: paramTypes(ParamVec2), Default: valuePtr(domain.Vec2Value(0, 1))},
		ParamDecl{Name: "densityScale", Types: paramTypes(ParamFloat), Default: valuePtr(domain.FloatValue(1))},
		ParamDecl{Name: "color", Types: paramTypes(ParamFloatArray)},
		ParamDecl{Name: "opacity", Types: paramTypes(ParamFloatArray)},
	),
	attrs: []attrDecl{{"valueRange", 1}, {"densityScale", 2}, {"color", 3}, {"opacity", 4}},
	slots: []slotDecl{{param: "value", slot: "field", kind: domain.KindSpatialField, bit: 0}},
}

var groupSpec = kindSpec{
	params: withCommon(
		ParamDecl{Name: "surface", Types: paramTypes(ParamObjectArray), Kind: domain.KindSurface},
		ParamDecl{Name: "volume", Types: paramTypes(ParamObjectArray), Kind: domain.KindVolume},
	),
	slots: []slotDecl{
		{param: "surface", slot: "surfaces", kind: domain.KindSurface, bit: 0},
		{param: "volume", slot: "volumes", kind: domain.KindVolume, bit: 1},
	},
}

var instanceSpec = kindSpec{
	params: withCommon(
		ParamDecl{Name: "group", Types: paramTypes(ParamObject), Kind: domain.KindGroup},
		ParamDecl{Name: "transform", Types: paramTypes(ParamMat4), Default: valuePtr(domain.Identity4())},
	),
	attrs: []attrDecl{{"transform", 1}},
	slots: []slotDecl{{param: "group", slot: "group", kind: domain.KindGroup, bit: 0}},
}

var worldSpec = kindSpec{
	params: withCommon(
		ParamDecl{Name: "instance", Types: paramTypes(ParamObjectArray), Kind: domain.KindInstance},
		ParamDecl{Name: "surface", Types: paramTypes(ParamObjectArray), Kind: domain.KindSurface},
		ParamDecl{Name: "volume", Types: paramTypes(ParamObjectArray), Kind: domain.KindVolume},
		ParamDecl{Name: "light", Types: paramTypes(ParamObjectArray), Kind: domain.KindLight},
	),
	slots: []slotDecl{
		{param: "instance", slot: "instances", kind: domain.KindInstance, bit: 0},
		{param: "surface", slot: "surfaces", kind: domain.KindSurface, bit: 1},
		{param: "volume", slot: "volumes", kind: domain.KindVolume, bit: 2},
		{param: "light", slot: "lights", kind: domain.KindLight, bit: 3},
	},
}

var cameraSpec = kindSpec{
	params: withCommon(
		ParamDecl{Name: "position", Types: paramTypes(ParamVec3), Default: valuePtr(domain.Vec3Value(0, 0, 0))},
		ParamDecl{Name: "direction", Types: paramTypes(ParamVec3), Default: valuePtr(domain.Vec3Value(0, 0, -1))},
		ParamDecl{Name: "up", Types: paramTypes(ParamVec3), Default: valuePtr(domain.Vec3Value(0, 1, 0))},
		ParamDecl{Name: "aspect", Types: paramTypes(ParamFloat), Default: valuePtr(domain.FloatValue(1))},
		ParamDecl{Name: "fovy", Types: paramTypes(ParamFloat), Default: valuePtr(domain.FloatValue(math.Pi / 3))},
		ParamDecl{Name: "imageRegion", Types: paramTypes(ParamVec4), Default: valuePtr(domain.Vec4Value(0, 0, 1, 1))},
	),
	attrs: []attrDecl{{"position", 0}, {"direction", 1}, {"up", 2}, {"aspect", 3}, {"fovy", 4}, {"imageRegion", 5}},
}

var frameSpec = kindSpec{
	params: withCommon(
		ParamDecl{Name: "world", Types: paramTypes(ParamObject), Kind: domain.KindWorld},
		ParamDecl{Name: "camera", Types: paramTypes(ParamObject), Kind: domain.KindCamera},
		ParamDecl{Name: "size", Types: paramTypes(ParamIntArray), Default: valuePtr(domain.IntArrayValue([]int64{1920, 1080}))},
		ParamDecl{Name: "channel.color", Types: paramTypes(ParamString), Default: valuePtr(domain.StringValue("UFIXED8_RGBA_SRGB"))},
	),
	attrs: []attrDecl{{"size", -1}, {"channel.color", -1}},
	slots: []slotDecl{
		{param: "world", slot: "world", kind: domain.KindWorld, bit: 0},
		{param: "camera", slot: "camera", kind: domain.KindCamera, bit: 1},
	},
}

// deferUnresolved defers a parent while any referenced child still lacks a
// store identity.
func deferUnresolved(spec kindSpec) func(o *Object) error {
	return func(o *Object) error {
		for _, slot := range spec.slots {
			for _, child := range o.params.Children(slot.param) {
				if child.identity.IsZero() {
					return domain.OrderingError{
						Parent:     o.Name(),
						ParentKind: o.kind,
						Slot:       slot.slot,
						Child:      child.Name(),
						ChildKind:  child.kind,
					}
				}
			}
		}
		return nil
	}
}

// writeAttributes writes every data parameter of a changed or new object. It
// reports whether reference slots need writing too.
func writeAttributes(spec kindSpec) func(s *Session, o *Object, isNew bool) (bool, error) {
	return func(s *Session, o *Object, isNew bool) (bool, error) {
		if !isNew && !o.params.Changed() {
			return false, nil
		}
		t := ResolveTime(math.NaN(), o.ownTime(), s.worldTime())
		mask := o.timeVaryingMask()
		for _, attr := range spec.attrs {
			p, ok := o.params.Get(attr.param)
			if !ok || p.Type.isObject() {
				continue
			}
			if err := s.store.WriteAttribute(o.identity, attr.param, p.Value, t, TimeVarying(mask, attr.bit)); err != nil {
				return false, domain.StoreError{Op: "write_attribute", Err: err}
			}
		}
		return len(spec.slots) > 0, nil
	}
}

// writeReferences writes every reference slot. A ref array holding an object
// of the wrong kind skips all reference writes of the object.
func writeReferences(spec kindSpec) func(s *Session, o *Object) error {
	return func(s *Session, o *Object) error {
		for _, slot := range spec.slots {
			for _, child := range o.params.Children(slot.param) {
				if child.kind != slot.kind {
					return domain.TypeError{
						Object:   o.Name(),
						Param:    slot.param,
						Expected: []string{string(slot.kind)},
						Got:      string(child.kind),
					}
				}
			}
		}
		mask := o.timeVaryingMask()
		world := s.worldTime()
		for _, slot := range spec.slots {
			children := o.params.Children(slot.param)
			targets := make([]domain.Identity, 0, len(children))
			for _, child := range children {
				targets = append(targets, child.identity)
			}
			own := o.ownTime()
			if len(children) == 1 {
				own = ResolveTime(math.NaN(), children[0].ownTime(), own)
			}
			override := math.NaN()
			if slot.refTime != "" {
				override = o.floatParam(slot.refTime)
			}
			t := ResolveTime(override, own, world)
			if err := s.store.WriteReference(o.identity, slot.slot, targets, t, TimeVarying(mask, slot.bit)); err != nil {
				return domain.StoreError{Op: "write_reference", Err: err}
			}
		}
		return nil
	}
}
