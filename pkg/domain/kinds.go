// Package domain defines the scene object kinds, store value types, status
// records, and collaborator contracts shared by the scenesync engine and its
// persistence backends.
package domain

// Kind identifies the concrete variant of a scene object.
type Kind string

// Supported scene object kinds.
const (
	// KindSampler identifies a texture sampler.
	KindSampler Kind = "sampler"
	// KindSpatialField identifies a volumetric field.
	KindSpatialField Kind = "spatial_field"
	// KindGeometry identifies a geometry primitive set.
	KindGeometry Kind = "geometry"
	// KindLight identifies a light source.
	KindLight Kind = "light"
	// KindMaterial identifies a surface material.
	KindMaterial Kind = "material"
	// KindSurface binds a geometry to a material.
	KindSurface Kind = "surface"
	// KindVolume binds a spatial field to a transfer function.
	KindVolume Kind = "volume"
	// KindGroup aggregates surfaces and volumes.
	KindGroup Kind = "group"
	// KindInstance places a group with a transform.
	KindInstance Kind = "instance"
	// KindWorld aggregates instances, surfaces, volumes and lights.
	KindWorld Kind = "world"
	// KindCamera identifies a viewpoint.
	KindCamera Kind = "camera"
	// KindFrame identifies a frame that renders a world through a camera.
	KindFrame Kind = "frame"
)

// FlushOrder lists kind buckets in the order the commit scheduler visits them.
// Kinds inside one bucket do not reference each other.
var FlushOrder = [][]Kind{
	{KindSampler},
	{KindSpatialField, KindGeometry, KindLight},
	{KindMaterial},
	{KindSurface, KindVolume},
	{KindGroup},
	{KindInstance},
	{KindWorld},
	{KindCamera},
	{KindFrame},
}

var kindCategories = map[Kind]string{
	KindSampler:      "samplers",
	KindSpatialField: "spatialfields",
	KindGeometry:     "geometries",
	KindLight:        "lights",
	KindMaterial:     "materials",
	KindSurface:      "surfaces",
	KindVolume:       "volumes",
	KindGroup:        "groups",
	KindInstance:     "instances",
	KindWorld:        "worlds",
	KindCamera:       "cameras",
	KindFrame:        "frames",
}

var kindBaseNames = map[Kind]string{
	KindSampler:      "Sampler",
	KindSpatialField: "SpatialField",
	KindGeometry:     "Geometry",
	KindLight:        "Light",
	KindMaterial:     "Material",
	KindSurface:      "Surface",
	KindVolume:       "Volume",
	KindGroup:        "Group",
	KindInstance:     "Instance",
	KindWorld:        "World",
	KindCamera:       "Camera",
	KindFrame:        "Frame",
}

// Kinds returns every supported kind in flush order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindCategories))
	for _, bucket := range FlushOrder {
		out = append(out, bucket...)
	}
	return out
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	_, ok := kindCategories[k]
	return ok
}

// Category returns the store path segment grouping entities of this kind.
func (k Kind) Category() string {
	return kindCategories[k]
}

// BaseName returns the prefix used when allocating default object names.
func (k Kind) BaseName() string {
	return kindBaseNames[k]
}

// EntityPath returns the canonical store path for an object of this kind.
func (k Kind) EntityPath(name string) string {
	return "/" + k.Category() + "/" + name
}
