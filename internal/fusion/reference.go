package fusion

import (
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/fusion.record/internal/agent"
	"github.com/banshee-data/fusion.record/internal/sensor"
)

// ToReference returns the lidar's points expressed in its reference frame.
func (p *Projector) ToReference(lidar *sensor.Lidar) ([]r3.Vector, error) {
	if lidar == nil || lidar.Points == nil {
		return nil, nil
	}
	tf, err := p.Resolver.ForLidar(lidar.Info)
	if err != nil {
		return nil, fmt.Errorf("to reference: %w", err)
	}
	pts, err := lidar.Points.Points()
	if err != nil {
		return nil, fmt.Errorf("lidar %s: %w", lidar.Info.Name, err)
	}
	return tf.ApplyAll(pts), nil
}

// CombineLidarPoints concatenates the reference-frame points of every lidar
// in argument order. Nil lidars are skipped.
func (p *Projector) CombineLidarPoints(lidars ...*sensor.Lidar) ([]r3.Vector, error) {
	var out []r3.Vector
	for _, l := range lidars {
		if l == nil {
			continue
		}
		pts, err := p.ToReference(l)
		if err != nil {
			return nil, fmt.Errorf("combine: %w", err)
		}
		out = append(out, pts...)
	}
	return out, nil
}

// VehiclePoints combines every populated vehicle lidar.
func (p *Projector) VehiclePoints(v *agent.Vehicle) ([]r3.Vector, error) {
	var lidars []*sensor.Lidar
	for _, l := range v.LidarSlots() {
		lidars = append(lidars, l)
	}
	return p.CombineLidarPoints(lidars...)
}

// TowerPoints combines every populated tower lidar.
func (p *Projector) TowerPoints(t *agent.Tower) ([]r3.Vector, error) {
	var lidars []*sensor.Lidar
	for _, l := range t.LidarSlots() {
		lidars = append(lidars, l)
	}
	return p.CombineLidarPoints(lidars...)
}

// ToReference uses the default reference frames.
func ToReference(lidar *sensor.Lidar) ([]r3.Vector, error) {
	return defaultProjector().ToReference(lidar)
}

// CombineLidarPoints uses the default reference frames.
func CombineLidarPoints(lidars ...*sensor.Lidar) ([]r3.Vector, error) {
	return defaultProjector().CombineLidarPoints(lidars...)
}

// VehiclePoints uses the default reference frames.
func VehiclePoints(v *agent.Vehicle) ([]r3.Vector, error) {
	return defaultProjector().VehiclePoints(v)
}

// TowerPoints uses the default reference frames.
func TowerPoints(t *agent.Tower) ([]r3.Vector, error) {
	return defaultProjector().TowerPoints(t)
}
