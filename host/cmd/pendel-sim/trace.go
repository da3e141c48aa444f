package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var csvHeader = []string{"t_s", "cart_steps", "angle_deg", "pulses", "phase", "control"}

func writeCSV(filename string, samples []sample) error {
	if len(samples) == 0 {
		return fmt.Errorf("csv: no samples")
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("csv: cannot create directory: %w", err)
	}
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("csv: cannot open %s: %w", filename, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("csv: cannot write header: %w", err)
	}
	for _, s := range samples {
		row := []string{
			strconv.FormatFloat(s.T, 'f', 4, 64),
			strconv.FormatFloat(s.Cart, 'f', 5, 64),
			strconv.FormatFloat(s.Angle, 'f', 3, 64),
			strconv.FormatUint(s.Pulses, 10),
			s.Phase.String(),
			s.Control.String(),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("csv: cannot write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func linePlot(title, ylabel string, samples []sample, y func(sample) float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		pts[i].X = s.T
		pts[i].Y = y(s)
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.LineStyle.Width = vg.Points(1.5)
	p.Add(line)
	return p, nil
}

// savePlot stacks arm angle, cart position and machine phase over time.
func savePlot(filename string, samples []sample) error {
	if len(samples) == 0 {
		return fmt.Errorf("plot: no samples")
	}
	angle, err := linePlot("Arm angle (0 = hanging)", "angle (deg)", samples,
		func(s sample) float64 { return s.Angle })
	if err != nil {
		return err
	}
	cart, err := linePlot("Cart position", "steps from motor end", samples,
		func(s sample) float64 { return s.Cart })
	if err != nil {
		return err
	}
	phase, err := linePlot("Phase", "phase", samples,
		func(s sample) float64 { return float64(s.Phase) })
	if err != nil {
		return err
	}

	const rows = 3
	c := vgimg.NewWith(
		vgimg.UseWH(10*vg.Inch, 12*vg.Inch),
		vgimg.UseDPI(150),
	)
	dc := draw.New(c)
	tiles := draw.Tiles{
		Rows: rows,
		Cols: 1,
		PadX: vg.Millimeter,
		PadY: 4 * vg.Millimeter,
	}
	plots := [][]*plot.Plot{{angle}, {cart}, {phase}}
	canvases := plot.Align(plots, tiles, dc)
	for i := 0; i < rows; i++ {
		plots[i][0].Draw(canvases[i][0])
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("plot: cannot create directory: %w", err)
	}
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("plot: cannot create png: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return fmt.Errorf("plot: cannot write png: %w", err)
	}
	return bw.Flush()
}
