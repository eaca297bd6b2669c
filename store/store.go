// Package store keeps tagged matrix product states in a sqlite database in the
// scratch directory, so that an evolution can be resumed and the 1-PDM
// extracted in a later process.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/errs"
	"github.com/fumin/ftdmrg/mps"
	"github.com/fumin/ftdmrg/pool"
	"github.com/fumin/ftdmrg/symm"
	"github.com/fumin/ftdmrg/tensor"
)

const (
	Fname = "ftdmrg.db"

	tableInfo = "info"
	tableSite = "site"

	opTimeout = 30 * time.Second

	// normTol bounds the deviation from unit norm of a loaded state, which
	// is checked in single precision.
	normTol = 1e-3
)

var ErrNotFound = errors.New("not found")

// Info describes a stored state.
type Info struct {
	Tag      string
	RunID    string
	Tau      float64
	Steps    int
	Center   int
	Len      int
	Complete bool
	Updated  time.Time
}

type Store struct {
	Path string

	db *sql.DB
}

// Open opens or creates the database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "")
	}
	s := &Store{Path: filepath.Join(dir, Fname)}
	var err error
	s.db, err = newDB(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Save writes m under its tag, replacing any state stored under the same tag.
func (s *Store) Save(ctx context.Context, m *mps.MPS, runID string, complete bool) error {
	if m.Tag() == "" {
		return errors.Errorf("untagged state")
	}
	labels := make([][]symm.QN, 0, m.Len()+1)
	for b := range m.Len() + 1 {
		labels = append(labels, m.Labels(b))
	}
	labelsB, err := json.Marshal(labels)
	if err != nil {
		return errors.Wrap(err, "")
	}
	phys := make([][]symm.QN, 0, m.Len())
	for i := range m.Len() {
		phys = append(phys, m.Phys(i))
	}
	physB, err := json.Marshal(phys)
	if err != nil {
		return errors.Wrap(err, "")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer tx.Rollback()

	sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE tag=?`, tableSite)
	if _, err := tx.ExecContext(ctx, sqlStr, m.Tag()); err != nil {
		return errors.Wrap(err, "")
	}
	sqlStr = fmt.Sprintf(`INSERT OR REPLACE INTO %s (tag, run_id, tau, steps, center, len, complete, labels, phys, updated) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, tableInfo)
	args := []any{m.Tag(), runID, m.Tau(), m.Steps(), m.Center(), m.Len(), complete, string(labelsB), string(physB), time.Now().UTC().Format(time.RFC3339Nano)}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args[:7]))
	}

	sqlStr = fmt.Sprintf(`INSERT INTO %s (tag, i, shape, data) VALUES (?, ?, ?, ?)`, tableSite)
	stmt, err := tx.PrepareContext(ctx, sqlStr)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer stmt.Close()
	for i := range m.Len() {
		shape, data, err := encodeSite(m.Site(i))
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d", i))
		}
		if _, err := stmt.ExecContext(ctx, m.Tag(), i, shape, data); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d", i))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Info returns the description of the state stored under tag.
func (s *Store) Info(ctx context.Context, tag string) (Info, error) {
	info, _, _, err := s.info(ctx, tag)
	if err != nil {
		return Info{}, errors.Wrap(err, "")
	}
	return info, nil
}

func (s *Store) info(ctx context.Context, tag string) (Info, [][]symm.QN, [][]symm.QN, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT run_id, tau, steps, center, len, complete, labels, phys, updated FROM %s WHERE tag=?`, tableInfo)
	info := Info{Tag: tag}
	var labelsS, physS, updated string
	err := s.db.QueryRowContext(ctx, sqlStr, tag).Scan(&info.RunID, &info.Tau, &info.Steps, &info.Center, &info.Len, &info.Complete, &labelsS, &physS, &updated)
	switch {
	case err == sql.ErrNoRows:
		return Info{}, nil, nil, errors.Wrap(ErrNotFound, tag)
	case err != nil:
		return Info{}, nil, nil, errors.Wrap(err, "")
	}
	if info.Updated, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return Info{}, nil, nil, errors.Wrap(err, updated)
	}

	var labels, phys [][]symm.QN
	if err := json.Unmarshal([]byte(labelsS), &labels); err != nil {
		return Info{}, nil, nil, errors.Wrap(err, "")
	}
	if err := json.Unmarshal([]byte(physS), &phys); err != nil {
		return Info{}, nil, nil, errors.Wrap(err, "")
	}
	if len(labels) != info.Len+1 || len(phys) != info.Len {
		return Info{}, nil, nil, errors.Errorf("%d %d %d", info.Len, len(labels), len(phys))
	}
	return info, labels, phys, nil
}

// Load reads the state stored under tag into arena storage.
func (s *Store) Load(ctx context.Context, alloc pool.Allocator, tag string) (*mps.MPS, Info, error) {
	info, labels, phys, err := s.info(ctx, tag)
	if err != nil {
		return nil, Info{}, errors.Wrap(err, "")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT i, shape, data FROM %s WHERE tag=? ORDER BY i`, tableSite)
	rows, err := s.db.QueryContext(ctx, sqlStr, tag)
	if err != nil {
		return nil, Info{}, errors.Wrap(err, "")
	}
	defer rows.Close()

	sites := make([]*tensor.Dense, 0, info.Len)
	for rows.Next() {
		var i int
		var shape string
		var data []byte
		if err := rows.Scan(&i, &shape, &data); err != nil {
			return nil, Info{}, errors.Wrap(err, "")
		}
		if i != len(sites) {
			return nil, Info{}, errors.Errorf("missing site %d of %s", len(sites), tag)
		}
		t, err := decodeSite(shape, data)
		if err != nil {
			return nil, Info{}, errors.Wrap(err, fmt.Sprintf("%d", i))
		}
		sites = append(sites, t)
	}
	if err := rows.Err(); err != nil {
		return nil, Info{}, errors.Wrap(err, "")
	}
	if len(sites) != info.Len {
		return nil, Info{}, errors.Errorf("%s has %d sites, expected %d", tag, len(sites), info.Len)
	}

	m, err := mps.New(alloc, sites, phys, labels, info.Center)
	if err != nil {
		return nil, Info{}, errors.Wrap(err, "")
	}
	// Stored states are normalized, anything else was misread.
	if norm := real(mps.Overlap(m, m)); !(math.Abs(float64(norm)-1) < normTol) {
		m.Release()
		return nil, Info{}, errors.Wrapf(errs.ErrFormat, "%s has norm %g", tag, norm)
	}
	m.SetTag(tag)
	m.SetProgress(info.Tau, info.Steps)
	return m, info, nil
}

// Tags returns the stored tags in alphabetical order.
func (s *Store) Tags(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT tag FROM %s ORDER BY tag`, tableInfo)
	rows, err := s.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	tags := make([]string, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, errors.Wrap(err, "")
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return tags, nil
}

// Delete removes the state stored under tag. Deleting a missing tag is not an error.
func (s *Store) Delete(ctx context.Context, tag string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	for _, table := range []string{tableSite, tableInfo} {
		sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE tag=?`, table)
		if _, err := s.db.ExecContext(ctx, sqlStr, tag); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%s %s", sqlStr, tag))
		}
	}
	return nil
}

func encodeSite(t *tensor.Dense) (string, []byte, error) {
	s := t.Shape()
	shape, err := json.Marshal(s)
	if err != nil {
		return "", nil, errors.Wrap(err, "")
	}
	data, err := t.Matrix(s[0]).MarshalBinary()
	if err != nil {
		return "", nil, errors.Wrap(err, "")
	}
	return string(shape), data, nil
}

func decodeSite(shapeS string, data []byte) (*tensor.Dense, error) {
	var shape []int
	if err := json.Unmarshal([]byte(shapeS), &shape); err != nil {
		return nil, errors.Wrap(err, shapeS)
	}
	if len(shape) != 3 {
		return nil, errors.Errorf("%#v", shape)
	}
	var m mat.Dense
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if r, c := m.Dims(); r != shape[0] || c != shape[1]*shape[2] {
		return nil, errors.Errorf("%d %d %#v", r, c, shape)
	}
	return tensor.FromMatrix(&m, shape...), nil
}

func newDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}

	return db, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (tag TEXT PRIMARY KEY, run_id TEXT, tau REAL, steps INTEGER, center INTEGER, len INTEGER, complete INTEGER, labels TEXT, phys TEXT, updated TEXT) STRICT`, tableInfo),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (tag TEXT, i INTEGER, shape TEXT, data BLOB, PRIMARY KEY (tag, i)) STRICT`, tableSite),
	}
	for _, sqlStr := range stmts {
		if _, err := db.ExecContext(ctx, sqlStr); err != nil {
			return errors.Wrap(err, sqlStr)
		}
	}
	return nil
}
