package scene

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/opd-ai/rendercast/limits"
	"github.com/sirupsen/logrus"
)

// objectHeaderSize is the id and type tag preceding every object payload.
const objectHeaderSize = 5

// Serializer produces the scene bytes carried in a frame request. It returns
// false when there is nothing to send yet.
type Serializer interface {
	SerializeScene(w *Writer) bool
}

// SerializerFunc adapts a function to Serializer.
type SerializerFunc func(w *Writer) bool

// SerializeScene implements Serializer.
func (f SerializerFunc) SerializeScene(w *Writer) bool {
	return f(w)
}

// Entry is an object with its scene-unique id.
type Entry struct {
	ID     int32
	Object Object
}

// cloner is implemented by objects that can be decoded into a copy of their
// previous state.
type cloner interface {
	Clone() Object
}

// Clone returns a copy of the mesh.
func (m *Mesh) Clone() Object {
	c := *m
	return &c
}

// Clone returns a copy of the light.
func (l *Light) Clone() Object {
	c := *l
	return &c
}

// Snapshot is a complete scene description as sent by a client.
type Snapshot struct {
	Camera  Transform
	Objects []Entry
}

// SerializeScene implements Serializer. An empty snapshot is still sent so
// that a server can clear its scene.
func (s *Snapshot) SerializeScene(w *Writer) bool {
	w.WriteTransform(s.Camera)
	w.WriteInt32(int32(len(s.Objects)))
	for _, e := range s.Objects {
		w.WriteInt32(e.ID)
		w.WriteUint8(e.Object.Type())
		e.Object.Encode(w)
	}
	return w.Err() == nil
}

// Marshal serializes the snapshot into a new slice.
func (s *Snapshot) Marshal() ([]byte, error) {
	w := NewWriter(64 + 64*len(s.Objects))
	s.SerializeScene(w)
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeSnapshot parses snapshot bytes into fresh objects.
func DecodeSnapshot(data []byte, reg *Registry, db Database) (*Snapshot, error) {
	return decodeSnapshot(data, reg, db, nil)
}

func decodeSnapshot(data []byte, reg *Registry, db Database, prev map[int32]Object) (*Snapshot, error) {
	if err := limits.ValidateSceneSnapshot(data); err != nil {
		if errors.Is(err, limits.ErrMessageEmpty) {
			return nil, fmt.Errorf("%w: empty snapshot", ErrTruncated)
		}
		return nil, fmt.Errorf("%w: %v", ErrSnapshotTooLarge, err)
	}

	r := NewReader(data)
	snap := &Snapshot{Camera: r.ReadTransform()}
	count := r.ReadInt32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if count < 0 || int(count) > r.Remaining()/objectHeaderSize {
		return nil, fmt.Errorf("%w: %d objects in %d bytes", ErrInvalidCount, count, r.Remaining())
	}

	seen := make(map[int32]struct{}, count)
	snap.Objects = make([]Entry, 0, count)
	for i := int32(0); i < count; i++ {
		id := r.ReadInt32()
		tag := r.ReadUint8()
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateObject, id)
		}
		seen[id] = struct{}{}

		var obj Object
		if old, ok := prev[id]; ok && old.Type() == tag {
			if c, ok := old.(cloner); ok {
				obj = c.Clone()
			}
		}
		if obj == nil {
			var err error
			if obj, err = reg.New(tag); err != nil {
				return nil, fmt.Errorf("object %d (id %d): %w", i, id, err)
			}
		}
		if err := obj.Decode(r, db); err != nil {
			return nil, fmt.Errorf("object %d (id %d): %w", i, id, err)
		}
		snap.Objects = append(snap.Objects, Entry{ID: id, Object: obj})
	}
	return snap, nil
}

// Scene is the server-side copy of one client's scene. Apply replaces its
// contents with a new snapshot; objects keep their identity across
// snapshots while their id and type are unchanged.
type Scene struct {
	mu       sync.RWMutex
	registry *Registry
	db       Database
	camera   Transform
	objects  map[int32]Object
	active   bool
	applied  uint64
}

// NewScene creates an empty scene. A nil registry uses DefaultRegistry.
func NewScene(reg *Registry, db Database) *Scene {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Scene{
		registry: reg,
		db:       db,
		objects:  make(map[int32]Object),
	}
}

// Apply decodes data and replaces the scene with it. On error the scene is
// left exactly as it was.
func (s *Scene) Apply(data []byte) error {
	s.mu.RLock()
	prev := s.objects
	s.mu.RUnlock()

	snap, err := decodeSnapshot(data, s.registry, s.db, prev)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Scene.Apply",
			"bytes":    len(data),
			"error":    err.Error(),
		}).Debug("Discarding malformed scene")
		return err
	}

	next := make(map[int32]Object, len(snap.Objects))
	for _, e := range snap.Objects {
		next[e.ID] = e.Object
	}

	s.mu.Lock()
	s.camera = snap.Camera
	s.objects = next
	s.applied++
	s.mu.Unlock()
	return nil
}

// Camera returns the current camera transform.
func (s *Scene) Camera() Transform {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.camera
}

// Entries returns the objects ordered by id.
func (s *Scene) Entries() []Entry {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.objects))
	for id, obj := range s.objects {
		entries = append(entries, Entry{ID: id, Object: obj})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Object returns the object with id.
func (s *Scene) Object(id int32) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	return obj, ok
}

// Len returns the number of objects.
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Applied returns how many snapshots have been applied.
func (s *Scene) Applied() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applied
}

// SetActive marks the scene as the one being rendered.
func (s *Scene) SetActive(active bool) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
}

// Active reports whether the scene is the one being rendered.
func (s *Scene) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}
