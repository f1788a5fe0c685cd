// Package store persists transmission spectra.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/negf/sweep"
)

const (
	tableTransmission = "t"
	tableFailure      = "failure"
)

// DB is a SQLite database of transmission spectra.
// Each energy is stored either as the entries of its transmission matrix, or as the reason of its failure.
type DB struct {
	Path string

	db *sql.DB
}

// Open opens the database at dbPath, creating it if it does not exist.
func Open(dbPath string) (*DB, error) {
	d := &DB{Path: dbPath}
	var err error
	d.db, err = sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := prepareDB(d.db); err != nil {
		d.db.Close()
		return nil, errors.Wrap(err, "")
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Put stores the outcome of an evaluation, replacing any previous outcome at the same energy.
func (d *DB) Put(ctx context.Context, pt sweep.Point) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := put(ctx, tx, pt); err != nil {
		tx.Rollback()
		return errors.Wrap(err, fmt.Sprintf("%g", pt.Energy))
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func put(ctx context.Context, tx *sql.Tx, pt sweep.Point) error {
	for _, table := range []string{tableTransmission, tableFailure} {
		sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE e=?`, table)
		if _, err := tx.ExecContext(ctx, sqlStr, pt.Energy); err != nil {
			return errors.Wrap(err, sqlStr)
		}
	}

	if pt.Err != nil {
		sqlStr := fmt.Sprintf(`INSERT INTO %s (e, err) VALUES (?, ?)`, tableFailure)
		if _, err := tx.ExecContext(ctx, sqlStr, pt.Energy, pt.Err.Error()); err != nil {
			return errors.Wrap(err, sqlStr)
		}
		return nil
	}

	if pt.T == nil {
		return errors.Errorf("no transmission")
	}
	sqlStr := fmt.Sprintf(`INSERT INTO %s (e, i, j, v) VALUES (?, ?, ?, ?)`, tableTransmission)
	r, c := pt.T.Dims()
	for i := range r {
		for j := range c {
			args := []any{pt.Energy, i, j, pt.T.At(i, j)}
			if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
			}
		}
	}
	return nil
}

// Has reports whether an outcome at energy e is stored.
func (d *DB) Has(ctx context.Context, e float64) (bool, error) {
	sqlStr := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE e=?) OR EXISTS(SELECT 1 FROM %s WHERE e=?)`, tableTransmission, tableFailure)
	var ok bool
	if err := d.db.QueryRowContext(ctx, sqlStr, e, e).Scan(&ok); err != nil {
		return false, errors.Wrap(err, "")
	}
	return ok, nil
}

// Points returns all stored outcomes ordered by energy.
// The error of a failed point carries only the stored message.
func (d *DB) Points(ctx context.Context) ([]sweep.Point, error) {
	type entry struct {
		i, j int
		v    float64
	}
	entries := make(map[float64][]entry)
	energies := make([]float64, 0)

	sqlStr := fmt.Sprintf(`SELECT e, i, j, v FROM %s ORDER BY e, i, j`, tableTransmission)
	rows, err := d.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()
	for rows.Next() {
		var e float64
		var et entry
		if err := rows.Scan(&e, &et.i, &et.j, &et.v); err != nil {
			return nil, errors.Wrap(err, "")
		}
		if _, ok := entries[e]; !ok {
			energies = append(energies, e)
		}
		entries[e] = append(entries[e], et)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	points := make([]sweep.Point, 0, len(energies))
	for _, e := range energies {
		var n int
		for _, et := range entries[e] {
			n = max(n, et.i+1, et.j+1)
		}
		t := mat.NewDense(n, n, nil)
		for _, et := range entries[e] {
			t.Set(et.i, et.j, et.v)
		}
		points = append(points, sweep.Point{Energy: e, T: t})
	}

	failures, err := d.failures(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return mergeByEnergy(points, failures), nil
}

func (d *DB) failures(ctx context.Context) ([]sweep.Point, error) {
	sqlStr := fmt.Sprintf(`SELECT e, err FROM %s ORDER BY e`, tableFailure)
	rows, err := d.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	points := make([]sweep.Point, 0)
	for rows.Next() {
		var e float64
		var msg string
		if err := rows.Scan(&e, &msg); err != nil {
			return nil, errors.Wrap(err, "")
		}
		points = append(points, sweep.Point{Energy: e, Err: errors.New(msg)})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return points, nil
}

// mergeByEnergy merges two slices sorted by energy.
func mergeByEnergy(a, b []sweep.Point) []sweep.Point {
	merged := make([]sweep.Point, 0, len(a)+len(b))
	for len(a) > 0 && len(b) > 0 {
		if a[0].Energy <= b[0].Energy {
			merged, a = append(merged, a[0]), a[1:]
		} else {
			merged, b = append(merged, b[0]), b[1:]
		}
	}
	merged = append(merged, a...)
	return append(merged, b...)
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStrs := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (e REAL, i INTEGER, j INTEGER, v REAL, PRIMARY KEY (e, i, j)) STRICT`, tableTransmission),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (e REAL PRIMARY KEY, err TEXT) STRICT`, tableFailure),
	}
	for _, sqlStr := range sqlStrs {
		if _, err := db.ExecContext(ctx, sqlStr); err != nil {
			return errors.Wrap(err, sqlStr)
		}
	}
	return nil
}
