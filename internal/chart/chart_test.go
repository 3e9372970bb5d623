package chart

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlanner struct {
	spec string
	err  error
}

func (f fakePlanner) ChartSpecJSON(context.Context, string, string) (string, error) {
	return f.spec, f.err
}

func TestRender_Bar(t *testing.T) {
	r := NewRenderer(fakePlanner{
		spec: `{"title":"Sales by region","kind":"bar","labels":["North","South"],"values":[400,250]}`,
	}, t.TempDir())

	path, err := r.Render(context.Background(), "sales by region", "data")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0), "PNG file must not be empty")
}

func TestRender_Line(t *testing.T) {
	r := NewRenderer(fakePlanner{
		spec: `{"title":"Monthly sales","kind":"line","labels":["Jan","Feb","Mar"],"values":[10,20,15]}`,
	}, t.TempDir())

	path, err := r.Render(context.Background(), "monthly sales", "data")
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestRender_PlannerError(t *testing.T) {
	r := NewRenderer(fakePlanner{err: errors.New("model down")}, t.TempDir())

	_, err := r.Render(context.Background(), "sales", "data")
	assert.Error(t, err)
}

func TestRender_BadSpecJSON(t *testing.T) {
	r := NewRenderer(fakePlanner{spec: "not json"}, t.TempDir())

	_, err := r.Render(context.Background(), "sales", "data")
	assert.Error(t, err)
}

func TestRenderSpec_Validation(t *testing.T) {
	r := NewRenderer(nil, t.TempDir())

	_, err := r.RenderSpec(Spec{Title: "empty"})
	assert.Error(t, err, "spec without values must be rejected")

	_, err = r.RenderSpec(Spec{Labels: []string{"a", "b"}, Values: []float64{1}})
	assert.Error(t, err, "label/value length mismatch must be rejected")
}
