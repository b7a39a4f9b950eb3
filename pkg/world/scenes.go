package world

import "github.com/teslashibe/go-rover/pkg/geom"

// Default endpoints of the obstacle course.
var (
	CourseStart = geom.V2(-3.0, 3.0)
	CourseGoal  = geom.V2(3.0, -3.0)
)

// ObstacleCourse returns the mobile-robot scene: eight boxes, some on
// the straight line from CourseStart to CourseGoal, some around it.
func ObstacleCourse() SimConfig {
	box := func(x, y, hx, hy float64) Box {
		return Box{Center: geom.V2(x, y), HalfX: hx, HalfY: hy, Height: 1.0}
	}
	return SimConfig{
		Obstacles: []Box{
			box(-1.0, 1.5, 0.3, 0.3),
			box(0.5, 0.0, 0.4, 0.25),
			box(-0.5, -1.0, 0.25, 0.4),
			box(1.5, 1.0, 0.35, 0.35),
			box(-1.5, -0.5, 0.3, 0.3),
			box(0.0, 2.0, 0.2, 0.2),
			box(2.0, -1.5, 0.3, 0.3),
			box(-2.0, -2.0, 0.25, 0.25),
		},
		Start:       geom.Pose{X: CourseStart.X, Y: CourseStart.Y, Heading: CourseGoal.Sub(CourseStart).Angle()},
		RobotRadius: 0.18,
	}
}

// Room returns a square walled room of the given side length centered
// on the origin, with a few pieces of furniture, for coverage runs.
func Room(side float64) SimConfig {
	const (
		wallHalf   = 0.05
		wallHeight = 0.5
	)
	h := side / 2
	wall := func(x, y, hx, hy float64) Box {
		return Box{Center: geom.V2(x, y), HalfX: hx, HalfY: hy, Height: wallHeight}
	}
	s := side / 4 // furniture scales with the room
	return SimConfig{
		Obstacles: []Box{
			wall(0, h-wallHalf, h, wallHalf),
			wall(0, -h+wallHalf, h, wallHalf),
			wall(h-wallHalf, 0, wallHalf, h),
			wall(-h+wallHalf, 0, wallHalf, h),
			{Center: geom.V2(0.4*s, 0.4*s), HalfX: 0.15 * s, HalfY: 0.15 * s, Height: 0.4},
			{Center: geom.V2(-0.45*s, 0.6*s), HalfX: 0.25 * s, HalfY: 0.1 * s, Height: 0.4},
			{Center: geom.V2(0.45*s, -0.5*s), HalfX: 0.12 * s, HalfY: 0.12 * s, Height: 0.4},
		},
		Start:       geom.Pose{X: -0.6 * s, Y: -0.6 * s},
		RobotRadius: 0.15,
	}
}
