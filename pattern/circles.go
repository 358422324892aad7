package pattern

import "math"

// circles samples concentric rings. Ring 0 is the origin; ring k has radius
// k*radiusStep and is sampled every angleStep degrees, starting at
// k*rotation degrees.
type circles struct {
	radiusStep float64
	angleStep  float64
	rotation   float64
	maxRadius  float64

	ring    int
	j       int
	perRing int
}

func newCircles(radiusStep, angleStep, rotation, maxRadius float64) *circles {
	return &circles{
		radiusStep: radiusStep,
		angleStep:  angleStep,
		rotation:   rotation,
		maxRadius:  maxRadius,
		perRing:    int(math.Ceil(360/angleStep - 1e-9)),
	}
}

func (c *circles) next() (Offset, bool) {
	if c.ring == 0 {
		c.ring = 1
		c.j = 0
		return Offset{}, true
	}

	radius := float64(c.ring) * c.radiusStep
	if c.maxRadius > 0 && radius > c.maxRadius+1e-9 {
		return Offset{}, false
	}

	deg := math.Mod(float64(c.ring)*c.rotation+float64(c.j)*c.angleStep, 360)
	rad := deg * math.Pi / 180
	o := Offset{DX: radius * math.Cos(rad), DY: radius * math.Sin(rad)}

	c.j++
	if c.j >= c.perRing {
		c.ring++
		c.j = 0
	}
	return o, true
}

func (c *circles) reset() {
	c.ring = 0
	c.j = 0
}

// RadiusToCover is the radius of the smallest circle around the origin that
// contains the half extents.
func RadiusToCover(halfX, halfY float64) float64 {
	return math.Hypot(halfX, halfY)
}
