package main

import (
	"math"
	"time"

	"github.com/opd-ai/rendercast/scene"
)

// demoScene is an orbiting camera around a ring of meshes lit by one point
// light and one directional light.
type demoScene struct {
	start   time.Time
	meshes  int
	configs int32
	radius  float32
}

func newDemoScene(meshes int, configs int32) *demoScene {
	if configs < 1 {
		configs = 1
	}
	return &demoScene{start: time.Now(), meshes: meshes, configs: configs, radius: 4}
}

// snapshot builds the scene at time now.
func (d *demoScene) snapshot(now time.Time) *scene.Snapshot {
	angle := now.Sub(d.start).Seconds() * 20
	rad := angle * math.Pi / 180

	snap := &scene.Snapshot{
		Camera: scene.Transform{
			Position: scene.Vec3{
				X: float32(-math.Sin(rad)) * 12,
				Y: 2,
				Z: float32(-math.Cos(rad)) * 12,
			},
			Rotation: scene.Vec3{X: -8, Y: float32(angle)},
		},
	}

	for i := 0; i < d.meshes; i++ {
		a := float64(i) / float64(d.meshes) * 2 * math.Pi
		snap.Objects = append(snap.Objects, scene.Entry{
			ID: int32(i + 1),
			Object: &scene.Mesh{
				Transform: scene.Transform{Position: scene.Vec3{
					X: d.radius * float32(math.Cos(a)),
					Z: d.radius * float32(math.Sin(a)),
				}},
				ConfigID: int32(i)%d.configs + 1,
			},
		})
	}
	snap.Objects = append(snap.Objects,
		scene.Entry{ID: 1000, Object: &scene.Light{
			Color:     scene.Color24{R: 255, G: 240, B: 220},
			Intensity: 1.5,
			Kind:      scene.LightPoint,
			Range:     14,
			Transform: scene.Transform{Position: scene.Vec3{Y: 4}},
		}},
		scene.Entry{ID: 1001, Object: &scene.Light{
			Color:     scene.Color24{R: 120, G: 140, B: 255},
			Intensity: 0.4,
			Kind:      scene.LightDirectional,
			Bounce:    0.5,
			Transform: scene.Transform{Rotation: scene.Vec3{X: 50, Y: -30}},
		}},
	)
	return snap
}
