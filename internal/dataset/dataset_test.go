package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightbot/internal/model"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resultado.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newLoaded(t *testing.T, content string) *Dataset {
	t.Helper()
	d := New(model.DatasetConfig{
		CSVPath: writeCSV(t, content),
		Table:   "dataset",
	})
	require.NoError(t, d.Load())
	t.Cleanup(func() { d.Close() })
	return d
}

const salesCSV = `Data,Região,Vendas
02-01-2023,Norte,100
15-06-2023,Sul,250
20-11-2024,Norte,300
`

func TestLoadAndExecute(t *testing.T) {
	d := newLoaded(t, salesCSV)

	rows, err := d.Execute(context.Background(), "SELECT COUNT(*) AS n FROM dataset")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 3, rows[0]["n"])
}

func TestColumnNormalization(t *testing.T) {
	d := newLoaded(t, salesCSV)

	table, cols := d.Schema()
	assert.Equal(t, "dataset", table)
	// "Região" → "regi_o": lowercased, non [a-z0-9] replaced with _.
	assert.Equal(t, []string{"data", "regi_o", "vendas"}, cols)
}

func TestDateRewrite(t *testing.T) {
	d := newLoaded(t, salesCSV)

	rows, err := d.Execute(context.Background(),
		"SELECT data FROM dataset WHERE data >= '2023-01-01' AND data < '2024-01-01' ORDER BY data")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2023-01-02", rows[0]["data"])
	assert.Equal(t, "2023-06-15", rows[1]["data"])
}

func TestExecute_Aggregate(t *testing.T) {
	d := newLoaded(t, salesCSV)

	rows, err := d.Execute(context.Background(),
		"SELECT SUM(CAST(vendas AS INTEGER)) AS total FROM dataset WHERE regi_o = 'Norte'")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 400, rows[0]["total"])
}

func TestExecute_MalformedQuery(t *testing.T) {
	d := newLoaded(t, salesCSV)

	_, err := d.Execute(context.Background(), "SELECT FROM WHERE nonsense")
	assert.Error(t, err)
}

func TestExecute_NotLoaded(t *testing.T) {
	d := New(model.DatasetConfig{CSVPath: "missing.csv", Table: "dataset"})
	_, err := d.Execute(context.Background(), "SELECT 1")
	assert.Error(t, err)
}

func TestLoad_EmptyCSV(t *testing.T) {
	d := New(model.DatasetConfig{CSVPath: writeCSV(t, ""), Table: "dataset"})
	assert.Error(t, d.Load())
}

func TestReload_SwapsData(t *testing.T) {
	path := writeCSV(t, salesCSV)
	d := New(model.DatasetConfig{CSVPath: path, Table: "dataset"})
	require.NoError(t, d.Load())
	defer d.Close()

	require.NoError(t, os.WriteFile(path, []byte("Data,Região,Vendas\n01-01-2025,Leste,999\n"), 0644))
	require.NoError(t, d.Load())

	rows, err := d.Execute(context.Background(), "SELECT regi_o, vendas FROM dataset")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Leste", rows[0]["regi_o"])
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"02-01-2023", "2023-01-02"},
		{"2023-01-02", "2023-01-02"},
		{"not a date", "not a date"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeDate(tt.in); got != tt.want {
			t.Errorf("normalizeDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
