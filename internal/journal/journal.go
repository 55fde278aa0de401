// Package journal persists the hub's change feed. Writes happen on a
// single background goroutine so polling loops never block on disk;
// when the queue is full new records are dropped, not the poll.
package journal

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"roomctl/internal/model"
)

const (
	DefaultQueueSize = 1000

	sqliteFile = "journal.db"
	csvFile    = "journal.csv"
)

var csvHeader = []string{"timestamp", "node_id", "field", "old", "new"}

const createStmt = `
CREATE TABLE IF NOT EXISTS changes (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	node_id   TEXT NOT NULL,
	field     TEXT NOT NULL,
	old_value TEXT NOT NULL,
	new_value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_node ON changes(node_id, timestamp);
`

// Config selects the journal outputs. Outputs is a combination of
// "sqlite" and "csv"; empty means both.
type Config struct {
	Dir       string
	Outputs   string
	QueueSize int
}

// Journal appends state changes to sqlite and/or CSV.
type Journal struct {
	q      chan model.Change
	closed chan struct{}
	once   sync.Once

	db *sql.DB

	csvF *os.File
	csvW *csv.Writer
}

// Open prepares the output directory and starts the writer goroutine.
func Open(cfg Config) (*Journal, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal dir %s: %w", dir, err)
	}

	wantSQL, wantCSV, err := parseOutputs(cfg.Outputs)
	if err != nil {
		return nil, err
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	j := &Journal{
		q:      make(chan model.Change, size),
		closed: make(chan struct{}),
	}

	if wantSQL {
		db, err := sql.Open("sqlite", filepath.Join(dir, sqliteFile))
		if err != nil {
			return nil, fmt.Errorf("open journal db: %w", err)
		}
		if _, err := db.Exec(createStmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
		j.db = db
	}

	if wantCSV {
		f, err := os.OpenFile(filepath.Join(dir, csvFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			j.closeOutputs()
			return nil, fmt.Errorf("open journal csv: %w", err)
		}
		j.csvF = f
		j.csvW = csv.NewWriter(f)
		if off, _ := f.Seek(0, os.SEEK_END); off == 0 {
			if err := j.csvW.Write(csvHeader); err != nil {
				j.closeOutputs()
				return nil, fmt.Errorf("write csv header: %w", err)
			}
			j.csvW.Flush()
		}
	}

	go j.run()
	return j, nil
}

func parseOutputs(outputs string) (wantSQL, wantCSV bool, err error) {
	switch strings.ToLower(strings.TrimSpace(outputs)) {
	case "sqlite":
		return true, false, nil
	case "csv":
		return false, true, nil
	case "", "both", "sqlite+csv", "csv+sqlite":
		return true, true, nil
	default:
		return false, false, fmt.Errorf("unsupported journal outputs %q", outputs)
	}
}

// Record queues one change. It never blocks; on a full queue the change
// is dropped and counted against the log.
func (j *Journal) Record(c model.Change) error {
	select {
	case j.q <- c:
		return nil
	default:
		return errors.New("journal queue full")
	}
}

// Close drains queued changes, flushes, and closes outputs.
func (j *Journal) Close() {
	j.once.Do(func() { close(j.q) })
	<-j.closed
	if j.csvW != nil {
		j.csvW.Flush()
	}
	j.closeOutputs()
}

func (j *Journal) closeOutputs() {
	if j.db != nil {
		j.db.Close()
	}
	if j.csvF != nil {
		j.csvF.Close()
	}
}

func (j *Journal) run() {
	defer close(j.closed)
	for c := range j.q {
		if j.db != nil {
			if err := j.writeSQL(c); err != nil {
				log.Printf("journal sqlite write failed node=%s field=%s err=%v", c.NodeID, c.Field, err)
			}
		}
		if j.csvW != nil {
			if err := j.writeCSV(c); err != nil {
				log.Printf("journal csv write failed node=%s field=%s err=%v", c.NodeID, c.Field, err)
			}
		}
	}
}

func (j *Journal) writeSQL(c model.Change) error {
	_, err := j.db.Exec(
		`INSERT INTO changes (timestamp, node_id, field, old_value, new_value) VALUES (?, ?, ?, ?, ?)`,
		c.Timestamp.UTC().Format(time.RFC3339Nano), c.NodeID, c.Field, c.Old, c.New,
	)
	return err
}

func (j *Journal) writeCSV(c model.Change) error {
	rec := []string{
		c.Timestamp.UTC().Format(time.RFC3339Nano),
		c.NodeID,
		c.Field,
		c.Old,
		c.New,
	}
	if err := j.csvW.Write(rec); err != nil {
		return err
	}
	j.csvW.Flush()
	return j.csvW.Error()
}

// Recent returns the newest changes for a node, newest first, up to
// limit rows. It requires the sqlite output.
func (j *Journal) Recent(nodeID string, limit int) ([]model.Change, error) {
	if j.db == nil {
		return nil, errors.New("sqlite output disabled")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(
		`SELECT timestamp, node_id, field, old_value, new_value
		 FROM changes WHERE node_id = ? ORDER BY id DESC LIMIT ?`,
		nodeID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Change
	for rows.Next() {
		var c model.Change
		var ts string
		if err := rows.Scan(&ts, &c.NodeID, &c.Field, &c.Old, &c.New); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			c.Timestamp = t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
