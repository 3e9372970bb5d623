// Package chart turns query results into a PNG image. The language model
// picks the chart (title, kind, series) and the renderer draws it locally.
package chart

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
)

// Planner asks the model to choose a chart for the data and returns the raw
// JSON spec. Implemented by the ai client.
type Planner interface {
	ChartSpecJSON(ctx context.Context, userText, data string) (string, error)
}

// Spec is the chart description the planner produces.
type Spec struct {
	Title  string    `json:"title"`
	Kind   string    `json:"kind"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

type Renderer struct {
	planner Planner
	outDir  string
}

func NewRenderer(planner Planner, outDir string) *Renderer {
	return &Renderer{
		planner: planner,
		outDir:  outDir,
	}
}

// Render plans and draws a chart for the given request and data, returning
// the path of the written PNG. Errors propagate: the user explicitly asked
// for a chart, so a silent miss would look like a lost request.
func (r *Renderer) Render(ctx context.Context, userText, data string) (string, error) {
	raw, err := r.planner.ChartSpecJSON(ctx, userText, data)
	if err != nil {
		return "", err
	}

	var spec Spec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return "", fmt.Errorf("parse chart spec: %w", err)
	}

	return r.RenderSpec(spec)
}

// RenderSpec draws a validated spec to a PNG file.
func (r *Renderer) RenderSpec(spec Spec) (string, error) {
	if err := spec.validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.outDir, 0755); err != nil {
		return "", fmt.Errorf("create chart dir: %w", err)
	}

	path := filepath.Join(r.outDir, fmt.Sprintf("chart_%d.png", time.Now().UnixNano()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()

	switch spec.Kind {
	case "line":
		err = renderLine(spec, f)
	default:
		err = renderBar(spec, f)
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("render chart: %w", err)
	}
	return path, nil
}

func (s Spec) validate() error {
	if len(s.Values) == 0 {
		return fmt.Errorf("chart spec has no values")
	}
	if len(s.Labels) != len(s.Values) {
		return fmt.Errorf("chart spec has %d labels for %d values", len(s.Labels), len(s.Values))
	}
	return nil
}

func renderBar(spec Spec, f *os.File) error {
	bars := make([]gochart.Value, len(spec.Values))
	for i, v := range spec.Values {
		bars[i] = gochart.Value{Label: spec.Labels[i], Value: v}
	}

	graph := gochart.BarChart{
		Title:    spec.Title,
		Width:    1000,
		Height:   512,
		BarWidth: 60,
		Bars:     bars,
	}
	return graph.Render(gochart.PNG, f)
}

func renderLine(spec Spec, f *os.File) error {
	xs := make([]float64, len(spec.Values))
	for i := range spec.Values {
		xs[i] = float64(i)
	}

	graph := gochart.Chart{
		Title:  spec.Title,
		Width:  1000,
		Height: 512,
		XAxis: gochart.XAxis{
			ValueFormatter: func(v any) string {
				if f, ok := v.(float64); ok {
					i := int(f)
					if i >= 0 && i < len(spec.Labels) && f == float64(i) {
						return spec.Labels[i]
					}
				}
				return ""
			},
		},
		Series: []gochart.Series{
			gochart.ContinuousSeries{
				XValues: xs,
				YValues: spec.Values,
			},
		},
	}
	return graph.Render(gochart.PNG, f)
}
