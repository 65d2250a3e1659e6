package scene

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Built-in object type tags.
const (
	TypeMesh  uint8 = 0
	TypeLight uint8 = 1
)

// Vec3 is a three-component float vector.
type Vec3 struct {
	X, Y, Z float32
}

// Transform is a position plus Euler rotation in degrees.
type Transform struct {
	Position Vec3
	Rotation Vec3
}

// Color24 is an 8-bit-per-channel RGB color.
type Color24 struct {
	R, G, B uint8
}

// Object is one serializable scene element. The type tag written before the
// payload selects the Go type through a Registry.
type Object interface {
	// Type returns the tag identifying the concrete type on the wire.
	Type() uint8
	// Encode writes the object payload.
	Encode(w *Writer)
	// Decode reads the object payload, resolving references through db.
	Decode(r *Reader, db Database) error
}

// Mesh places a configured mesh in the scene.
type Mesh struct {
	Transform Transform
	ConfigID  int32

	// Config is resolved from the database on decode; nil if unknown.
	Config *MeshConfig
}

// Type implements Object.
func (m *Mesh) Type() uint8 { return TypeMesh }

// Encode implements Object.
func (m *Mesh) Encode(w *Writer) {
	w.WriteTransform(m.Transform)
	w.WriteInt32(m.ConfigID)
}

// Decode implements Object. An unknown configuration id is logged and leaves
// Config nil; renderers fall back to a default appearance.
func (m *Mesh) Decode(r *Reader, db Database) error {
	m.Transform = r.ReadTransform()
	id := r.ReadInt32()
	if err := r.Err(); err != nil {
		return err
	}

	if id != m.ConfigID || m.Config == nil {
		m.ConfigID = id
		m.Config = nil
		if db != nil {
			if cfg, ok := db.MeshConfig(id); ok {
				m.Config = &cfg
			}
		}
		if m.Config == nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Mesh.Decode",
				"config_id": id,
			}).Warn("Cannot find mesh config")
		}
	}
	return nil
}

// LightKind selects the light model; values follow the client engine's enum.
type LightKind uint8

// Light kinds.
const (
	LightSpot        LightKind = 0
	LightDirectional LightKind = 1
	LightPoint       LightKind = 2
	LightArea        LightKind = 3
)

// String returns the kind name.
func (k LightKind) String() string {
	switch k {
	case LightSpot:
		return "spot"
	case LightDirectional:
		return "directional"
	case LightPoint:
		return "point"
	case LightArea:
		return "area"
	default:
		return fmt.Sprintf("light(%d)", uint8(k))
	}
}

// Light is a scene light. Only the fields relevant to Kind are serialized.
type Light struct {
	Transform Transform
	Color     Color24
	Intensity float32
	Kind      LightKind

	Range      float32 // spot, point
	InnerAngle float32 // spot
	OuterAngle float32 // spot
	Bounce     float32 // directional
}

// Type implements Object.
func (l *Light) Type() uint8 { return TypeLight }

// Encode implements Object.
func (l *Light) Encode(w *Writer) {
	w.WriteTransform(l.Transform)
	w.WriteColor24(l.Color)
	w.WriteFloat32(l.Intensity)
	w.WriteUint8(uint8(l.Kind))
	switch l.Kind {
	case LightSpot:
		w.WriteFloat32(l.Range)
		w.WriteFloat32(l.InnerAngle)
		w.WriteFloat32(l.OuterAngle)
	case LightDirectional:
		w.WriteFloat32(l.Bounce)
	case LightPoint:
		w.WriteFloat32(l.Range)
	}
}

// Decode implements Object.
func (l *Light) Decode(r *Reader, _ Database) error {
	l.Transform = r.ReadTransform()
	l.Color = r.ReadColor24()
	l.Intensity = r.ReadFloat32()
	l.Kind = LightKind(r.ReadUint8())
	switch l.Kind {
	case LightSpot:
		l.Range = r.ReadFloat32()
		l.InnerAngle = r.ReadFloat32()
		l.OuterAngle = r.ReadFloat32()
	case LightDirectional:
		l.Bounce = r.ReadFloat32()
	case LightPoint:
		l.Range = r.ReadFloat32()
	}
	return r.Err()
}
