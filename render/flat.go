package render

import (
	"math"
	"sort"

	"github.com/opd-ai/rendercast/scene"
)

// FlatConfig tunes FlatRenderer.
type FlatConfig struct {
	// FieldOfView is the vertical field of view in degrees.
	FieldOfView float64
	// Ambient is the light level applied without any scene light, 0..1.
	Ambient float64
	// NearPlane culls meshes closer than this distance in front of the camera.
	NearPlane float64
	// DefaultColor is used for meshes without a resolved configuration.
	DefaultColor scene.Color24
}

// DefaultFlatConfig returns a 60 degree camera with dim ambient light.
func DefaultFlatConfig() FlatConfig {
	return FlatConfig{
		FieldOfView:  60,
		Ambient:      0.2,
		NearPlane:    0.1,
		DefaultColor: scene.Color24{R: 200, G: 200, B: 200},
	}
}

// FlatRenderer is a small software renderer. The background is a vertical
// gradient tinted by the camera orientation and every mesh is drawn as a
// flat shaded square facing the camera, nearest last.
type FlatRenderer struct {
	config FlatConfig
}

// NewFlatRenderer creates a renderer; zero fields in cfg take defaults.
func NewFlatRenderer(cfg FlatConfig) *FlatRenderer {
	def := DefaultFlatConfig()
	if cfg.FieldOfView <= 0 || cfg.FieldOfView >= 180 {
		cfg.FieldOfView = def.FieldOfView
	}
	if cfg.NearPlane <= 0 {
		cfg.NearPlane = def.NearPlane
	}
	if cfg.Ambient < 0 {
		cfg.Ambient = 0
	}
	if cfg.DefaultColor == (scene.Color24{}) {
		cfg.DefaultColor = def.DefaultColor
	}
	return &FlatRenderer{config: cfg}
}

type vec3 struct{ x, y, z float64 }

func toVec3(v scene.Vec3) vec3 {
	return vec3{float64(v.X), float64(v.Y), float64(v.Z)}
}

func (a vec3) sub(b vec3) vec3 { return vec3{a.x - b.x, a.y - b.y, a.z - b.z} }

func (a vec3) length() float64 { return math.Sqrt(a.x*a.x + a.y*a.y + a.z*a.z) }

// view transforms a world-space offset from the camera into camera space
// using yaw (Y) then pitch (X), both in degrees.
func view(offset vec3, rotation scene.Vec3) vec3 {
	yaw := -float64(rotation.Y) * math.Pi / 180
	pitch := -float64(rotation.X) * math.Pi / 180

	sy, cy := math.Sincos(yaw)
	x := offset.x*cy + offset.z*sy
	z := -offset.x*sy + offset.z*cy

	sp, cp := math.Sincos(pitch)
	y := offset.y*cp - z*sp
	z = offset.y*sp + z*cp
	return vec3{x, y, z}
}

type sprite struct {
	depth  float64
	cx, cy float64
	half   float64
	color  scene.Color24
}

// Render implements Renderer.
func (r *FlatRenderer) Render(s *scene.Scene, target *Target) error {
	if err := target.Validate(); err != nil {
		return err
	}

	camera := s.Camera()
	r.background(camera, target)

	entries := s.Entries()
	var lights []*scene.Light
	for _, e := range entries {
		if l, ok := e.Object.(*scene.Light); ok {
			lights = append(lights, l)
		}
	}

	focal := float64(target.Height) / 2 / math.Tan(r.config.FieldOfView*math.Pi/360)
	camPos := toVec3(camera.Position)

	sprites := make([]sprite, 0, len(entries))
	for _, e := range entries {
		m, ok := e.Object.(*scene.Mesh)
		if !ok {
			continue
		}
		pos := toVec3(m.Transform.Position)
		v := view(pos.sub(camPos), camera.Rotation)
		if v.z < r.config.NearPlane {
			continue
		}

		base, size := r.config.DefaultColor, 1.0
		if m.Config != nil {
			base, size = m.Config.Color, float64(m.Config.Size)
		}
		sprites = append(sprites, sprite{
			depth: v.z,
			cx:    float64(target.Width)/2 + focal*v.x/v.z,
			cy:    float64(target.Height)/2 - focal*v.y/v.z,
			half:  focal * size / v.z / 2,
			color: shade(base, r.illumination(pos, lights)),
		})
	}

	sort.Slice(sprites, func(i, j int) bool { return sprites[i].depth > sprites[j].depth })
	for _, sp := range sprites {
		drawSquare(target, sp)
	}
	return nil
}

func (r *FlatRenderer) background(camera scene.Transform, target *Target) {
	tint := math.Mod(float64(camera.Rotation.Y), 360)
	if tint < 0 {
		tint += 360
	}
	warm := uint8(tint / 360 * 64)
	for y := 0; y < target.Height; y++ {
		level := uint8(32 + 96*y/target.Height)
		c := scene.Color24{R: level/2 + warm, G: level / 2, B: level}
		row := target.Pix[y*target.Width*4 : (y+1)*target.Width*4]
		for i := 0; i < len(row); i += 4 {
			row[i], row[i+1], row[i+2], row[i+3] = c.R, c.G, c.B, 0xFF
		}
	}
}

// illumination returns per-channel light levels at pos.
func (r *FlatRenderer) illumination(pos vec3, lights []*scene.Light) [3]float64 {
	level := [3]float64{r.config.Ambient, r.config.Ambient, r.config.Ambient}
	for _, l := range lights {
		var k float64
		switch l.Kind {
		case scene.LightDirectional:
			k = float64(l.Intensity) * (0.5 + 0.5*float64(l.Bounce))
		case scene.LightPoint, scene.LightSpot:
			if l.Range <= 0 {
				continue
			}
			d := pos.sub(toVec3(l.Transform.Position)).length()
			k = float64(l.Intensity) * math.Max(0, 1-d/float64(l.Range))
		default:
			k = float64(l.Intensity) * 0.25
		}
		level[0] += k * float64(l.Color.R) / 255
		level[1] += k * float64(l.Color.G) / 255
		level[2] += k * float64(l.Color.B) / 255
	}
	return level
}

func shade(c scene.Color24, level [3]float64) scene.Color24 {
	ch := func(v uint8, l float64) uint8 {
		return uint8(math.Min(255, float64(v)*math.Min(l, 1)))
	}
	return scene.Color24{R: ch(c.R, level[0]), G: ch(c.G, level[1]), B: ch(c.B, level[2])}
}

func drawSquare(t *Target, sp sprite) {
	x0 := int(math.Max(0, math.Floor(sp.cx-sp.half)))
	x1 := int(math.Min(float64(t.Width), math.Ceil(sp.cx+sp.half)))
	y0 := int(math.Max(0, math.Floor(sp.cy-sp.half)))
	y1 := int(math.Min(float64(t.Height), math.Ceil(sp.cy+sp.half)))
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			t.Set(x, y, sp.color)
		}
	}
}
