package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Camera: Transform{Position: Vec3{0, 1, -10}, Rotation: Vec3{10, 0, 0}},
		Objects: []Entry{
			{ID: 1, Object: &Mesh{Transform: Transform{Position: Vec3{1, 2, 3}}, ConfigID: 7}},
			{ID: 2, Object: &Light{Color: Color24{255, 128, 0}, Intensity: 2, Kind: LightSpot, Range: 10, InnerAngle: 20, OuterAngle: 40}},
			{ID: 3, Object: &Light{Intensity: 1, Kind: LightDirectional, Bounce: 0.5}},
			{ID: 4, Object: &Light{Intensity: 3, Kind: LightPoint, Range: 6}},
		},
	}
}

func testDatabase() *MapDatabase {
	return NewMapDatabase(MeshConfig{ID: 7, Name: "cube", Color: Color24{10, 20, 30}, Size: 2})
}

func TestSnapshotLayout(t *testing.T) {
	snap := &Snapshot{
		Camera:  Transform{Position: Vec3{1, 0, 0}},
		Objects: []Entry{{ID: 9, Object: &Mesh{ConfigID: 3}}},
	}
	data, err := snap.Marshal()
	require.NoError(t, err)

	// camera(24) + count(4) + id(4) + tag(1) + transform(24) + config(4)
	require.Len(t, data, 61)
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3F}, data[0:4], "float32 1.0 little-endian")
	assert.Equal(t, []byte{1, 0, 0, 0}, data[24:28])
	assert.Equal(t, []byte{9, 0, 0, 0}, data[28:32])
	assert.Equal(t, TypeMesh, data[32])
	assert.Equal(t, []byte{3, 0, 0, 0}, data[57:61])
}

func TestLightPayloadSizes(t *testing.T) {
	tests := []struct {
		kind LightKind
		size int
	}{
		{LightSpot, 24 + 3 + 4 + 1 + 12},
		{LightDirectional, 24 + 3 + 4 + 1 + 4},
		{LightPoint, 24 + 3 + 4 + 1 + 4},
		{LightArea, 24 + 3 + 4 + 1},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			w := NewWriter(0)
			(&Light{Kind: tt.kind}).Encode(w)
			assert.Equal(t, tt.size, w.Len())
		})
	}
}

func TestDecodeSnapshot(t *testing.T) {
	original := testSnapshot()
	data, err := original.Marshal()
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(data, DefaultRegistry(), testDatabase())
	require.NoError(t, err)
	assert.Equal(t, original.Camera, decoded.Camera)
	require.Len(t, decoded.Objects, 4)

	mesh := decoded.Objects[0].Object.(*Mesh)
	assert.Equal(t, int32(7), mesh.ConfigID)
	require.NotNil(t, mesh.Config)
	assert.Equal(t, "cube", mesh.Config.Name)

	for i := 1; i < 4; i++ {
		assert.Equal(t, original.Objects[i].Object, decoded.Objects[i].Object)
	}
}

func TestDecodeSnapshotErrors(t *testing.T) {
	valid, err := testSnapshot().Marshal()
	require.NoError(t, err)

	unknown := append([]byte(nil), valid[:28]...)
	unknown[24] = 1
	unknown = append(unknown, 5, 0, 0, 0, 99)

	negative := append([]byte(nil), valid...)
	copy(negative[24:28], []byte{0xFF, 0xFF, 0xFF, 0xFF})

	huge := append([]byte(nil), valid...)
	copy(huge[24:28], []byte{0xFF, 0xFF, 0xFF, 0x7F})

	dup := (&Snapshot{Objects: []Entry{
		{ID: 1, Object: &Light{Kind: LightArea}},
		{ID: 1, Object: &Light{Kind: LightArea}},
	}})
	dupData, err := dup.Marshal()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"truncated camera", valid[:10], ErrTruncated},
		{"truncated object", valid[:len(valid)-2], ErrTruncated},
		{"unknown type", unknown, ErrUnknownType},
		{"negative count", negative, ErrInvalidCount},
		{"implausible count", huge, ErrInvalidCount},
		{"duplicate id", dupData, ErrDuplicateObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSnapshot(tt.data, DefaultRegistry(), nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSceneApplyReusesAndDrops(t *testing.T) {
	s := NewScene(nil, testDatabase())
	data, err := testSnapshot().Marshal()
	require.NoError(t, err)
	require.NoError(t, s.Apply(data))
	assert.Equal(t, 4, s.Len())

	first, ok := s.Object(1)
	require.True(t, ok)

	next := &Snapshot{Objects: []Entry{
		{ID: 1, Object: &Mesh{Transform: Transform{Position: Vec3{5, 5, 5}}, ConfigID: 7}},
		{ID: 8, Object: &Light{Kind: LightPoint, Range: 2}},
	}}
	data, err = next.Marshal()
	require.NoError(t, err)
	require.NoError(t, s.Apply(data))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, int32(1), entries[0].ID)
	assert.Equal(t, int32(8), entries[1].ID)

	moved := entries[0].Object.(*Mesh)
	assert.Equal(t, Vec3{5, 5, 5}, moved.Transform.Position)
	assert.NotNil(t, moved.Config)
	assert.Equal(t, Vec3{1, 2, 3}, first.(*Mesh).Transform.Position, "previous object untouched")

	_, ok = s.Object(2)
	assert.False(t, ok)
	assert.Equal(t, uint64(2), s.Applied())
}

func TestSceneApplyIsAtomic(t *testing.T) {
	s := NewScene(nil, testDatabase())
	data, err := testSnapshot().Marshal()
	require.NoError(t, err)
	require.NoError(t, s.Apply(data))
	before := s.Entries()
	camera := s.Camera()

	assert.Error(t, s.Apply(data[:len(data)-1]))
	assert.Equal(t, before, s.Entries())
	assert.Equal(t, camera, s.Camera())
	assert.Equal(t, uint64(1), s.Applied())
}

func TestSceneTypeChangeReplacesObject(t *testing.T) {
	s := NewScene(nil, nil)
	data, err := (&Snapshot{Objects: []Entry{{ID: 1, Object: &Mesh{}}}}).Marshal()
	require.NoError(t, err)
	require.NoError(t, s.Apply(data))

	data, err = (&Snapshot{Objects: []Entry{{ID: 1, Object: &Light{Kind: LightPoint}}}}).Marshal()
	require.NoError(t, err)
	require.NoError(t, s.Apply(data))

	obj, ok := s.Object(1)
	require.True(t, ok)
	assert.IsType(t, &Light{}, obj)
}

func TestSceneActive(t *testing.T) {
	s := NewScene(nil, nil)
	assert.False(t, s.Active())
	s.SetActive(true)
	assert.True(t, s.Active())
}

func TestMeshUnknownConfig(t *testing.T) {
	w := NewWriter(0)
	(&Mesh{ConfigID: 42}).Encode(w)

	m := &Mesh{}
	require.NoError(t, m.Decode(NewReader(w.Bytes()), testDatabase()))
	assert.Equal(t, int32(42), m.ConfigID)
	assert.Nil(t, m.Config)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.ErrorIs(t, r.Register(TypeMesh, func() Object { return &Mesh{} }), ErrDuplicateType)

	obj, err := r.New(TypeLight)
	require.NoError(t, err)
	assert.IsType(t, &Light{}, obj)

	_, err = r.New(200)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestSerializerFunc(t *testing.T) {
	var s Serializer = SerializerFunc(func(w *Writer) bool {
		w.WriteUint8(1)
		return true
	})
	w := NewWriter(1)
	assert.True(t, s.SerializeScene(w))
	assert.Equal(t, []byte{1}, w.Bytes())
}

func TestReaderStickyError(t *testing.T) {
	r := NewReader([]byte{1, 2})
	assert.Equal(t, int32(0), r.ReadInt32())
	assert.ErrorIs(t, r.Err(), ErrTruncated)
	assert.Equal(t, uint8(0), r.ReadUint8(), "reads after an error return zero")
}

func TestParseDatabase(t *testing.T) {
	db, err := ParseDatabase([]byte(`
meshes:
  - id: 1
    name: cube
    color: [200, 40, 40]
    size: 1.5
  - id: 2
    name: sphere
`))
	require.NoError(t, err)
	assert.Equal(t, 2, db.Len())

	cube, ok := db.MeshConfig(1)
	require.True(t, ok)
	assert.Equal(t, Color24{200, 40, 40}, cube.Color)
	assert.Equal(t, float32(1.5), cube.Size)

	sphere, ok := db.MeshConfig(2)
	require.True(t, ok)
	assert.Equal(t, float32(1), sphere.Size)

	_, err = ParseDatabase([]byte("meshes:\n  - id: 1\n  - id: 1\n"))
	assert.Error(t, err)
	_, err = ParseDatabase([]byte("meshes:\n  - id: 1\n    color: [1, 2]\n"))
	assert.Error(t, err)
}
