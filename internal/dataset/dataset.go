// Package dataset loads a CSV file into an in-memory SQLite database and
// executes generated queries against it. The database is rebuilt from scratch
// on every reload and swapped atomically under a read-write lock.
package dataset

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"

	_ "modernc.org/sqlite"

	"insightbot/internal/model"
)

type Dataset struct {
	csvPath string
	table   string

	mu      sync.RWMutex
	db      *sql.DB
	columns []string
}

func New(cfg model.DatasetConfig) *Dataset {
	return &Dataset{
		csvPath: cfg.CSVPath,
		table:   cfg.Table,
	}
}

// Load reads the CSV file and rebuilds the in-memory database. Safe to call
// again at any time; queries in flight finish against the old database.
func (d *Dataset) Load() error {
	f, err := os.Open(d.csvPath)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("csv file %s is empty", d.csvPath)
	}

	headers := records[0]
	dataRows := records[1:]

	columns := make([]string, len(headers))
	for i, h := range headers {
		columns[i] = normalizeColumnName(h)
	}

	db, err := buildDatabase(d.table, columns, dataRows)
	if err != nil {
		return err
	}

	d.mu.Lock()
	old := d.db
	d.db = db
	d.columns = columns
	d.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// buildDatabase creates a fresh in-memory database with one table holding
// every CSV row. The "data" column is typed DATE and its values rewritten
// from DD-MM-YYYY to YYYY-MM-DD so date comparisons work.
func buildDatabase(table string, columns []string, rows [][]string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection only: each sqlite :memory: connection is its own database.
	db.SetMaxOpenConns(1)

	defs := make([]string, len(columns))
	dateIndex := -1
	for i, col := range columns {
		typ := "TEXT"
		if col == "data" {
			typ = "DATE"
			dateIndex = i
		}
		defs[i] = fmt.Sprintf("%s %s", col, typ)
	}

	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))
	if _, err := db.Exec(createSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",")
	insertSQL := fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, placeholders)

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("begin insert: %w", err)
	}
	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if len(row) != len(columns) {
			continue
		}
		values := make([]any, len(row))
		for i, v := range row {
			if i == dateIndex {
				v = normalizeDate(v)
			}
			values[i] = v
		}
		if _, err := stmt.Exec(values...); err != nil {
			tx.Rollback()
			db.Close()
			return nil, fmt.Errorf("insert row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, fmt.Errorf("commit insert: %w", err)
	}
	return db, nil
}

// Execute runs a query against the current database and returns all rows.
func (d *Dataset) Execute(ctx context.Context, query string) ([]model.Row, error) {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()

	if db == nil {
		return nil, fmt.Errorf("dataset not loaded")
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []model.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(model.Row, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Schema returns the table name and current column names for prompt building.
func (d *Dataset) Schema() (string, []string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cols := make([]string, len(d.columns))
	copy(cols, d.columns)
	return d.table, cols
}

// Path returns the CSV file path being served.
func (d *Dataset) Path() string {
	return d.csvPath
}

func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// normalizeColumnName lowercases the header and replaces every character
// outside [a-z0-9] with an underscore.
func normalizeColumnName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// normalizeDate rewrites DD-MM-YYYY into YYYY-MM-DD; anything else passes
// through untouched.
func normalizeDate(v string) string {
	parts := strings.Split(v, "-")
	if len(parts) != 3 || len(parts[0]) != 2 || len(parts[1]) != 2 || len(parts[2]) != 4 {
		return v
	}
	return parts[2] + "-" + parts[1] + "-" + parts[0]
}
