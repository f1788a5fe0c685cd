package main

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/fumin/negf"
	"github.com/fumin/negf/sweep"
)

// plotSpectrum plots the transmission between the first two leads against energy, skipping failed points.
func plotSpectrum(path, title string, order negf.Order, points []sweep.Point) error {
	xys := make(plotter.XYs, 0, len(points))
	for _, pt := range points {
		if pt.Err != nil {
			continue
		}
		if r, _ := pt.T.Dims(); r < 2 {
			continue
		}
		xys = append(xys, plotter.XY{X: pt.Energy, Y: pt.T.At(0, 1)})
	}
	if len(xys) == 0 {
		return errors.Errorf("no points to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "E"
	if order == negf.Second {
		p.X.Label.Text = "ω"
	}
	p.Y.Label.Text = "T"

	line, err := plotter.NewLine(xys)
	if err != nil {
		return errors.Wrap(err, "")
	}
	p.Add(line, plotter.NewGrid())

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
