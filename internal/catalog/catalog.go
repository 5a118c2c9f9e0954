// Package catalog indexes record files in SQLite so frames can be found by
// timestamp without opening every record.
package catalog

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/fusion.record/internal/fsutil"
	"github.com/banshee-data/fusion.record/internal/monitoring"
	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/record"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found in catalog")

// Catalog is an open catalog database.
type Catalog struct {
	db *sql.DB
}

// RecordEntry is one indexed record file.
type RecordEntry struct {
	RecordID      string
	Path          string
	SizeBytes     int64
	FrameCount    int
	FormatVersion uint32
	CreatedNs     int64
	// Start and End are zero for a record without frames.
	Start        payload.Timestamp
	End          payload.Timestamp
	HeaderSHA256 string
}

// FrameEntry locates one frame.
type FrameEntry struct {
	RecordID    string
	Path        string
	FrameIndex  int
	FrameID     uint64
	Timestamp   payload.Timestamp
	Version     uint32
	LengthBytes int
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Open opens or creates the catalog at dsn and brings its schema up to date.
func Open(dsn string) (*Catalog, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", dsn, err)
	}
	// One connection: SQLite serializes writers anyway and the pragmas are
	// per connection.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("catalog %s: %s: %w", dsn, p, err)
		}
	}
	c := &Catalog{db: db}
	if err := c.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// IndexRecord replaces whatever the catalog knew about r's record id with the
// contents of r. Every frame checksum is verified on the way.
func (c *Catalog) IndexRecord(ctx context.Context, path string, r *record.Record) error {
	id := r.Header.RecordID.String()
	metas := make([]record.FrameMeta, r.FrameCount())
	lengths := make([]int, r.FrameCount())
	for i := range metas {
		raw, err := r.RawFrame(i)
		if err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
		if metas[i], err = record.DecodeFrameMeta(raw); err != nil {
			return fmt.Errorf("index %s frame %d: %w", path, i, err)
		}
		lengths[i] = len(raw)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM frames WHERE record_id = ? OR record_id IN (SELECT record_id FROM records WHERE path = ?)`,
		`DELETE FROM slots WHERE record_id = ? OR record_id IN (SELECT record_id FROM records WHERE path = ?)`,
		`DELETE FROM records WHERE record_id = ? OR path = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id, path); err != nil {
			return fmt.Errorf("index %s: clear: %w", path, err)
		}
	}

	var start, end sql.NullInt64
	if n := len(metas); n > 0 {
		start = sql.NullInt64{Int64: int64(metas[0].Timestamp), Valid: true}
		end = sql.NullInt64{Int64: int64(metas[n-1].Timestamp), Valid: true}
	}
	sum := r.HeaderChecksum()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (record_id, path, size_bytes, frame_count, format_version, created_ns, start_ns, end_ns, header_sha256)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, path, r.Size(), r.FrameCount(), r.Header.Version, r.Header.CreatedNs, start, end, hex.EncodeToString(sum[:]))
	if err != nil {
		return fmt.Errorf("index %s: insert record: %w", path, err)
	}

	frameStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frames (record_id, frame_index, frame_id, timestamp_ns, version, length_bytes)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer frameStmt.Close()
	for i, m := range metas {
		if _, err := frameStmt.ExecContext(ctx, id, i, int64(m.FrameID), int64(m.Timestamp), m.Version, lengths[i]); err != nil {
			return fmt.Errorf("index %s: insert frame %d: %w", path, i, err)
		}
	}

	for _, name := range r.Names {
		if _, err := tx.ExecContext(ctx, `INSERT INTO slots (record_id, path) VALUES (?, ?)`, id, name); err != nil {
			return fmt.Errorf("index %s: insert slot %s: %w", path, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index %s: commit: %w", path, err)
	}
	monitoring.Logf("catalog: indexed %s (%s, %d frames)", path, id, len(metas))
	return nil
}

// IndexFile opens path through fs and indexes it.
func (c *Catalog) IndexFile(ctx context.Context, fs fsutil.FileSystem, path string) error {
	r, err := record.Open(fs, path)
	if err != nil {
		return err
	}
	return c.IndexRecord(ctx, path, r)
}

// IndexDir indexes every record file in dir with up to workers files open at
// once. It stops at the first failure and returns how many were indexed.
func (c *Catalog) IndexDir(ctx context.Context, fs fsutil.FileSystem, dir string, workers int) (int, error) {
	names, err := fs.ListFiles(dir, record.FileExtension)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", dir, err)
	}
	var indexed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, path := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.IndexFile(ctx, fs, path); err != nil {
				return err
			}
			indexed.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(indexed.Load()), err
}

// Remove drops a record and its frames.
func (c *Catalog) Remove(ctx context.Context, recordID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range []string{
		`DELETE FROM frames WHERE record_id = ?`,
		`DELETE FROM slots WHERE record_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, recordID); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE record_id = ?`, recordID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}
	return tx.Commit()
}

const recordColumns = `record_id, path, size_bytes, frame_count, format_version, created_ns, start_ns, end_ns, header_sha256`

func scanRecord(s interface{ Scan(...any) error }) (RecordEntry, error) {
	var e RecordEntry
	var start, end sql.NullInt64
	err := s.Scan(&e.RecordID, &e.Path, &e.SizeBytes, &e.FrameCount, &e.FormatVersion, &e.CreatedNs, &start, &end, &e.HeaderSHA256)
	e.Start = payload.Timestamp(start.Int64)
	e.End = payload.Timestamp(end.Int64)
	return e, err
}

// Records lists every indexed record ordered by first frame time.
func (c *Catalog) Records(ctx context.Context) ([]RecordEntry, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records ORDER BY start_ns, path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RecordEntry
	for rows.Next() {
		e, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Record looks one record up by id.
func (c *Catalog) Record(ctx context.Context, recordID string) (RecordEntry, error) {
	e, err := scanRecord(c.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE record_id = ?`, recordID))
	if errors.Is(err, sql.ErrNoRows) {
		return RecordEntry{}, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}
	return e, err
}

// Slots lists the slot paths that carry calibration in a record.
func (c *Catalog) Slots(ctx context.Context, recordID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT path FROM slots WHERE record_id = ? ORDER BY path`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const frameQuery = `
	SELECT f.record_id, r.path, f.frame_index, f.frame_id, f.timestamp_ns, f.version, f.length_bytes
	FROM frames f JOIN records r ON r.record_id = f.record_id`

func (c *Catalog) queryFrames(ctx context.Context, q string, args ...any) ([]FrameEntry, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FrameEntry
	for rows.Next() {
		var e FrameEntry
		var id, ts int64
		if err := rows.Scan(&e.RecordID, &e.Path, &e.FrameIndex, &id, &ts, &e.Version, &e.LengthBytes); err != nil {
			return nil, err
		}
		e.FrameID = uint64(id)
		e.Timestamp = payload.Timestamp(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// FramesBetween returns frames with start <= timestamp <= end across all
// records, in time order.
func (c *Catalog) FramesBetween(ctx context.Context, start, end payload.Timestamp) ([]FrameEntry, error) {
	return c.queryFrames(ctx, frameQuery+`
		WHERE f.timestamp_ns BETWEEN ? AND ?
		ORDER BY f.timestamp_ns, r.path, f.frame_index`, int64(start), int64(end))
}

// Frames returns every frame of one record in stored order.
func (c *Catalog) Frames(ctx context.Context, recordID string) ([]FrameEntry, error) {
	return c.queryFrames(ctx, frameQuery+`
		WHERE f.record_id = ?
		ORDER BY f.frame_index`, recordID)
}

// FrameAt returns the first frame at or after ts, matching Player seeks.
func (c *Catalog) FrameAt(ctx context.Context, ts payload.Timestamp) (FrameEntry, error) {
	out, err := c.queryFrames(ctx, frameQuery+`
		WHERE f.timestamp_ns >= ?
		ORDER BY f.timestamp_ns, r.path, f.frame_index
		LIMIT 1`, int64(ts))
	if err != nil {
		return FrameEntry{}, err
	}
	if len(out) == 0 {
		return FrameEntry{}, fmt.Errorf("frame at %s: %w", ts, ErrNotFound)
	}
	return out[0], nil
}
