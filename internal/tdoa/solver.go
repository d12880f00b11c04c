// Package tdoa solves the 2-D time-difference-of-arrival problem for
// exactly three receivers by Gauss-Newton iteration, rejecting solutions
// that are geometrically infeasible or fall outside the sensor room.
package tdoa

import "math"

const (
	maxIterations  = 200
	convergenceEps = 1e-9
	degenerateDet  = 1e-20
	minDistance    = 1e-9
)

// Receiver is one listener's known position and adjusted arrival timestamp
// (milliseconds). In Solve, r[0] is the TDOA reference.
type Receiver struct {
	X, Y float64
	TMS  float64
}

// Bounds is the rectangular region a solution must fall within.
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

func (b Bounds) contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Result is a converged, accepted solution, rounded per the wire contract:
// position to 4 decimal places, residual to 6.
type Result struct {
	X, Y     float64
	Residual float64
}

// Solve computes the source position from three receivers. It returns
// (Result{}, false) when the geometry is infeasible (a range difference
// exceeds the physical separation of the two receivers involved) or the
// final position falls outside bounds. Degenerate normal equations, like
// exhausting the iteration limit, only stop the iteration: the current
// estimate is still bounds-checked and returned.
func Solve(r [3]Receiver, speedOfSound float64, bounds Bounds) (Result, bool) {
	tau10 := (r[1].TMS - r[0].TMS) / 1000
	tau20 := (r[2].TMS - r[0].TMS) / 1000

	delta10 := speedOfSound * tau10
	delta20 := speedOfSound * tau20

	d10 := dist(r[1].X, r[1].Y, r[0].X, r[0].Y)
	d20 := dist(r[2].X, r[2].Y, r[0].X, r[0].Y)

	if math.Abs(delta10) > d10 || math.Abs(delta20) > d20 {
		return Result{}, false
	}

	x := (r[0].X + r[1].X + r[2].X) / 3
	y := (r[0].Y + r[1].Y + r[2].Y) / 3

	for iter := 0; iter < maxIterations; iter++ {
		d0 := math.Max(dist(x, y, r[0].X, r[0].Y), minDistance)
		d1 := math.Max(dist(x, y, r[1].X, r[1].Y), minDistance)
		d2 := math.Max(dist(x, y, r[2].X, r[2].Y), minDistance)

		f1 := (d1-d0)/speedOfSound - tau10
		f2 := (d2-d0)/speedOfSound - tau20

		jx1 := (x-r[1].X)/(speedOfSound*d1) - (x-r[0].X)/(speedOfSound*d0)
		jy1 := (y-r[1].Y)/(speedOfSound*d1) - (y-r[0].Y)/(speedOfSound*d0)
		jx2 := (x-r[2].X)/(speedOfSound*d2) - (x-r[0].X)/(speedOfSound*d0)
		jy2 := (y-r[2].Y)/(speedOfSound*d2) - (y-r[0].Y)/(speedOfSound*d0)

		a := jx1*jx1 + jx2*jx2
		b := jx1*jy1 + jx2*jy2
		dd := jy1*jy1 + jy2*jy2
		gx := jx1*f1 + jx2*f2
		gy := jy1*f1 + jy2*f2

		det := a*dd - b*b
		if math.Abs(det) < degenerateDet {
			break
		}

		deltaX := (-dd*gx + b*gy) / det
		deltaY := (b*gx - a*gy) / det

		x += deltaX
		y += deltaY

		if math.Abs(deltaX) < convergenceEps && math.Abs(deltaY) < convergenceEps {
			break
		}
	}

	d0 := math.Max(dist(x, y, r[0].X, r[0].Y), minDistance)
	d1 := math.Max(dist(x, y, r[1].X, r[1].Y), minDistance)
	d2 := math.Max(dist(x, y, r[2].X, r[2].Y), minDistance)

	e1 := (d1 - d0) - delta10
	e2 := (d2 - d0) - delta20
	residual := math.Sqrt((e1*e1 + e2*e2) / 2)

	if !bounds.contains(x, y) {
		return Result{}, false
	}

	return Result{
		X:        round(x, 4),
		Y:        round(y, 4),
		Residual: round(residual, 6),
	}, true
}

func dist(x1, y1, x2, y2 float64) float64 {
	dx := x1 - x2
	dy := y1 - y2
	return math.Sqrt(dx*dx + dy*dy)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
