// Package sweep evaluates transmission over a grid of energies in parallel.
//
// Evaluations at different energies are independent, and each one builds its own leads, couplings and System,
// so that workers share only the read only blocks of the model.
package sweep

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/negf"
	"github.com/fumin/negf/model"
	"github.com/fumin/negf/util"
)

// Point is the outcome of an evaluation at a single energy.
type Point struct {
	Energy float64
	// T is the transmission matrix between leads, nil if the evaluation failed.
	T *mat.Dense
	// Err is the reason of a failed evaluation.
	Err error
}

// An Evaluator computes the transmission matrix at the energy of p.
type Evaluator func(p negf.Params) (*mat.Dense, error)

// ModelEvaluator evaluates all pairs of leads of m.
func ModelEvaluator(m model.Model) Evaluator {
	return func(p negf.Params) (*mat.Dense, error) {
		s, err := m.System(p)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		t, err := s.Transmissions()
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		return t, nil
	}
}

// Grid returns n evenly spaced energies from lo to hi inclusive.
func Grid(lo, hi float64, n int) []float64 {
	if n < 2 {
		panic(fmt.Sprintf("%d", n))
	}
	return floats.Span(make([]float64, n), lo, hi)
}

// Options are options of a sweep.
type Options struct {
	workers  int
	logEvery time.Duration
}

// NewOptions returns the default options, which use one worker per CPU.
func NewOptions() Options {
	opt := Options{}
	opt.workers = runtime.GOMAXPROCS(0)
	opt.logEvery = 10 * time.Second
	return opt
}

// Workers sets the number of concurrent evaluations.
func (opt Options) Workers(n int) Options {
	opt.workers = n
	return opt
}

// LogEvery sets the period of progress logs.
func (opt Options) LogEvery(d time.Duration) Options {
	opt.logEvery = d
	return opt
}

// Run evaluates eval at each of energies, using base for the other parameters.
// A failed evaluation is recorded in its Point and does not stop the sweep.
// If ctx is done before all energies are evaluated, Run returns the points evaluated so far, in the order of energies,
// together with the error of ctx.
func Run(ctx context.Context, energies []float64, base negf.Params, eval Evaluator, options ...Options) ([]Point, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}

	points := make([]Point, len(energies))
	// evaluated[i] is written only by the goroutine of energies[i].
	evaluated := make([]bool, len(energies))
	progress := struct {
		sync.Mutex
		done      int
		failed    int
		throttler *util.SkipThrottler
	}{throttler: util.NewSkipThrottler(opt.logEvery)}
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opt.workers, 1))
	for i, e := range energies {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pt := Point{Energy: e}
			pt.T, pt.Err = eval(base.Energy(e))
			points[i] = pt
			evaluated[i] = true

			progress.Lock()
			defer progress.Unlock()
			progress.done++
			if pt.Err != nil {
				progress.failed++
				log.Printf("energy %g: %v", e, pt.Err)
			}
			sinceLog := progress.throttler.Skipped() + 1
			if progress.throttler.Ok() {
				log.Printf("%d/%d done, %d failed, %d since last log, %s", progress.done, len(energies), progress.failed, sinceLog, time.Since(start))
			}
			return nil
		})
	}
	waitErr := g.Wait()

	completed := make([]Point, 0, len(energies))
	for i, pt := range points {
		if evaluated[i] {
			completed = append(completed, pt)
		}
	}
	if err := ctx.Err(); err != nil {
		return completed, errors.Wrap(err, fmt.Sprintf("%d/%d evaluated", len(completed), len(energies)))
	}
	if waitErr != nil {
		return completed, errors.Wrap(waitErr, "")
	}
	return completed, nil
}

// Failed returns the points whose evaluation failed.
func Failed(points []Point) []Point {
	failed := make([]Point, 0)
	for _, pt := range points {
		if pt.Err != nil {
			failed = append(failed, pt)
		}
	}
	return failed
}
