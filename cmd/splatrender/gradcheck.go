package main

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/gogpu/gsplat"
)

// gradReport summarizes a finite-difference gradient check.
type gradReport struct {
	Checked   int
	Failed    int
	MaxAbsErr float64
}

func (r gradReport) String() string {
	return fmt.Sprintf("%d checked, %d outside tolerance, max abs error %.4g", r.Checked, r.Failed, r.MaxAbsErr)
}

const (
	fdStep   = 1e-3
	fdAbsTol = 0.03
	fdRelTol = 0.05
)

// gradCheck compares the analytic mean and opacity gradients of the loss
// sum(w * color) against central differences, for up to samples
// parameters of each kind. The weights are drawn from [0, 1) with seed.
func gradCheck(r *gsplat.Rasterizer, cam *gsplat.Camera, g *gsplat.Gaussians, samples int, seed uint64) (gradReport, error) {
	var rep gradReport
	res, err := r.Forward(cam, g)
	if err != nil {
		return rep, err
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	w := make([]float32, len(res.Color()))
	for i := range w {
		w[i] = rng.Float32()
	}
	grads, err := r.Backward(res, cam, g, &gsplat.OutputGrads{Color: w})
	if err != nil {
		return rep, err
	}

	loss := func() (float64, error) {
		res, err := r.Forward(cam, g)
		if err != nil {
			return 0, err
		}
		var s float64
		for i, c := range res.Color() {
			s += float64(w[i]) * float64(c)
		}
		return s, nil
	}

	check := func(param []float32, analytic []float32) error {
		n := min(samples, len(param))
		for _, k := range rng.Perm(len(param))[:n] {
			orig := param[k]
			param[k] = orig + fdStep
			up, err := loss()
			if err != nil {
				return err
			}
			param[k] = orig - fdStep
			down, err := loss()
			param[k] = orig
			if err != nil {
				return err
			}
			fd := (up - down) / (2 * fdStep)
			diff := math.Abs(fd - float64(analytic[k]))
			rep.Checked++
			rep.MaxAbsErr = max(rep.MaxAbsErr, diff)
			if diff > fdAbsTol+fdRelTol*math.Abs(fd) {
				rep.Failed++
				gsplat.Logger().Debug("gradient mismatch", "index", k, "analytic", analytic[k], "numeric", fd)
			}
		}
		return nil
	}

	if err := check(g.Means, grads.Means3D); err != nil {
		return rep, err
	}
	if err := check(g.Opacities, grads.Opacities); err != nil {
		return rep, err
	}
	return rep, nil
}
