package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/fumin/negf"
	"github.com/fumin/negf/model"
	"github.com/fumin/negf/store"
	"github.com/fumin/negf/sweep"
)

const (
	fnameDB   = "spectrum.db"
	fnameCSV  = "transmission.csv"
	fnamePlot = "transmission.png"
)

var (
	runDir    = flag.String("d", filepath.Join("runs", "negf"), "run directory")
	modelName = flag.String("model", "atom", "model, one of atom, tightbinding, ladder")
	layers    = flag.Int("n", 8, "number of layers of the scattering region")
	force     = flag.Float64("f", 1, "force constant, or hopping for electronic models")
	tPerp     = flag.Float64("tperp", 0.5, "hopping across a rung of a ladder")
	defect    = flag.Float64("defect", 0, "on-site shift of the middle layer")
	lo        = flag.Float64("lo", 1e-8, "lowest energy or frequency")
	hi        = flag.Float64("hi", 5, "highest energy or frequency")
	num       = flag.Int("num", 100, "number of energies")
	delta     = flag.Float64("delta", 1e-6, "broadening")
	epsilon   = flag.Float64("epsilon", 1e-6, "decimation tolerance")
	maxIter   = flag.Int("maxiter", 128, "maximum decimation iterations")
	workers   = flag.Int("workers", 0, "concurrent evaluations, 0 for one per CPU")
	plotFlag  = flag.Bool("plot", true, "plot the spectrum")
)

func newModel() (model.Model, error) {
	var m model.Model
	switch *modelName {
	case "atom":
		m = model.AtomChain(*layers, *force)
	case "tightbinding":
		m = model.TightBinding(*layers, 0, *force)
	case "ladder":
		m = model.Ladder(*layers, *force, *tPerp)
	default:
		return model.Model{}, errors.Errorf("unknown model %q", *modelName)
	}
	if *defect != 0 {
		m = m.Defect(*layers/2, *defect)
	}
	return m, nil
}

// pending returns the energies not yet stored in db.
func pending(ctx context.Context, db *store.DB, energies []float64) ([]float64, error) {
	todo := make([]float64, 0, len(energies))
	for _, e := range energies {
		ok, err := db.Has(ctx, e)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if !ok {
			todo = append(todo, e)
		}
	}
	return todo, nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	start := time.Now()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	m, err := newModel()
	if err != nil {
		return errors.Wrap(err, "")
	}
	db, err := store.Open(filepath.Join(*runDir, fnameDB))
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer db.Close()

	// Skip energies solved by a previous run.
	todo, err := pending(ctx, db, sweep.Grid(*lo, *hi, *num))
	if err != nil {
		return errors.Wrap(err, "")
	}
	log.Printf("%d/%d energies to solve", len(todo), *num)

	base := negf.NewParams(0).Order(m.Order).Delta(*delta).Epsilon(*epsilon).MaxIterations(*maxIter)
	opt := sweep.NewOptions()
	if *workers > 0 {
		opt = opt.Workers(*workers)
	}
	points, runErr := sweep.Run(ctx, todo, base, sweep.ModelEvaluator(m), opt)
	// Store what was evaluated even if interrupted, so that the next run resumes from there.
	dbCtx := context.WithoutCancel(ctx)
	for _, pt := range points {
		if err := db.Put(dbCtx, pt); err != nil {
			return errors.Wrap(err, "")
		}
	}
	if runErr != nil {
		return errors.Wrap(runErr, fmt.Sprintf("%d stored", len(points)))
	}

	// Gather results of this and previous runs.
	points, err = db.Points(dbCtx)
	if err != nil {
		return errors.Wrap(err, "")
	}
	for _, pt := range sweep.Failed(points) {
		log.Printf("failed %g: %v", pt.Energy, pt.Err)
	}

	f, err := os.Create(filepath.Join(*runDir, fnameCSV))
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := store.WriteCSV(f, points, len(m.Leads)); err != nil {
		f.Close()
		return errors.Wrap(err, "")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "")
	}

	if *plotFlag {
		title := fmt.Sprintf("%s n=%d", *modelName, *layers)
		if err := plotSpectrum(filepath.Join(*runDir, fnamePlot), title, m.Order, points); err != nil {
			return errors.Wrap(err, "")
		}
	}

	log.Printf("%d energies, %d failed, %s", len(points), len(sweep.Failed(points)), time.Since(start))
	return nil
}
