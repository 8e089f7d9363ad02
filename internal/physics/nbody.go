package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/stepsim/internal/dynamo"
)

// parallelBodies is the body count above which forces are computed on
// several goroutines.
const parallelBodies = 64

// NBody is softened 2D gravity. State layout: x0 y0 x1 y1 ... vx0 vy0 vx1 vy1 ...
type NBody struct {
	NumBodies int
	Masses    []float64
	G         float64
	Softening float64
}

func NewNBody(n int) *NBody {
	n = max(n, 1)
	masses := make([]float64, n)
	for i := range masses {
		masses[i] = 1.0
	}
	return &NBody{
		NumBodies: n,
		Masses:    masses,
		G:         1.0,
		Softening: 0.01,
	}
}

func (nb *NBody) StateDim() int  { return nb.NumBodies * 4 }
func (nb *NBody) Particles() int { return nb.NumBodies }
func (nb *NBody) Dim() int       { return 2 }

// DefaultState places the bodies on the unit circle with tangential velocity.
func (nb *NBody) DefaultState() dynamo.State {
	n := nb.NumBodies
	state := make(dynamo.State, n*4)
	vel := n * 2
	for i := 0; i < n; i++ {
		angle := float64(i) * 2.0 * math.Pi / float64(n)
		state[i*2] = math.Cos(angle)
		state[i*2+1] = math.Sin(angle)
		state[vel+i*2] = -math.Sin(angle) * 0.5
		state[vel+i*2+1] = math.Cos(angle) * 0.5
	}
	return state
}

func (nb *NBody) Derive(x dynamo.State, _ float64) dynamo.State {
	n := nb.NumBodies
	vel := n * 2
	dx := make(dynamo.State, len(x))
	copy(dx[:vel], x[vel:])

	forces := func(start, end int) {
		nb.accelerations(x, dx[vel:], start, end)
	}
	if n >= parallelBodies {
		dynamo.ParallelFor(n, parallelBodies/4, forces)
	} else {
		forces(0, n)
	}
	return dx
}

// accelerations writes the acceleration of bodies [start, end) into acc.
// Each body sums over all others, so disjoint ranges never share writes.
func (nb *NBody) accelerations(x, acc dynamo.State, start, end int) {
	eps2 := nb.Softening * nb.Softening
	for i := start; i < end; i++ {
		xi, yi := x[i*2], x[i*2+1]
		var ax, ay float64
		for j := 0; j < nb.NumBodies; j++ {
			if j == i {
				continue
			}
			rx := x[j*2] - xi
			ry := x[j*2+1] - yi
			rInv := 1.0 / math.Sqrt(rx*rx+ry*ry+eps2)
			f := nb.G * nb.Masses[j] * rInv * rInv * rInv
			ax += f * rx
			ay += f * ry
		}
		acc[i*2] = ax
		acc[i*2+1] = ay
	}
}

func (nb *NBody) Energy(x dynamo.State) float64 {
	n := nb.NumBodies
	vel := n * 2
	ke, pe := 0.0, 0.0
	for i := 0; i < n; i++ {
		vx, vy := x[vel+i*2], x[vel+i*2+1]
		ke += 0.5 * nb.Masses[i] * (vx*vx + vy*vy)

		for j := i + 1; j < n; j++ {
			rx := x[j*2] - x[i*2]
			ry := x[j*2+1] - x[i*2+1]
			r := math.Sqrt(rx*rx + ry*ry + nb.Softening*nb.Softening)
			pe -= nb.G * nb.Masses[i] * nb.Masses[j] / r
		}
	}
	return ke + pe
}

func (nb *NBody) Momentum(x dynamo.State) (px, py float64) {
	vel := nb.NumBodies * 2
	for i := 0; i < nb.NumBodies; i++ {
		px += nb.Masses[i] * x[vel+i*2]
		py += nb.Masses[i] * x[vel+i*2+1]
	}
	return
}

func (nb *NBody) GetParams() map[string]float64 {
	return map[string]float64{"g": nb.G, "softening": nb.Softening}
}

func (nb *NBody) SetParam(name string, value float64) error {
	switch name {
	case "g":
		nb.G = value
	case "softening":
		nb.Softening = value
	default:
		return fmt.Errorf("nbody %q: %w", name, dynamo.ErrUnknownParam)
	}
	return nil
}
