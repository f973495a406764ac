package journal

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	corejournal "github.com/kilianp07/orderdispatch/core/journal"
)

// SQLiteStore persists records to a SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

type row struct {
	TS         int64  `db:"ts"`
	Type       string `db:"type"`
	OrderID    string `db:"order_id"`
	HeaderID   string `db:"header_id"`
	LineID     string `db:"line_id"`
	ShipmentID string `db:"shipment_id"`
	Payload    string `db:"payload"`
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	schema := []string{`CREATE TABLE IF NOT EXISTS dispatch_journal (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts INTEGER NOT NULL,
        type TEXT NOT NULL,
        order_id TEXT NOT NULL DEFAULT '',
        header_id TEXT NOT NULL DEFAULT '',
        line_id TEXT NOT NULL DEFAULT '',
        shipment_id TEXT NOT NULL DEFAULT '',
        payload TEXT NOT NULL
    )`,
		`CREATE INDEX IF NOT EXISTS dispatch_journal_order ON dispatch_journal (order_id, ts)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			if cerr := db.Close(); cerr != nil {
				return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
			}
			return nil, err
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes the record to the database.
func (s *SQLiteStore) Append(ctx context.Context, rec corejournal.Record) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO dispatch_journal (ts, type, order_id, header_id, line_id, shipment_id, payload)
         VALUES (:ts, :type, :order_id, :header_id, :line_id, :shipment_id, :payload)`,
		row{
			TS:         rec.Time.UnixNano(),
			Type:       rec.Type,
			OrderID:    rec.OrderID,
			HeaderID:   rec.HeaderID,
			LineID:     rec.LineID,
			ShipmentID: rec.ShipmentID,
			Payload:    string(rec.Payload),
		})
	return err
}

// Query returns records matching q in time order.
func (s *SQLiteStore) Query(ctx context.Context, q corejournal.Query) ([]corejournal.Record, error) {
	var args []any
	query := `SELECT ts, type, order_id, header_id, line_id, shipment_id, payload FROM dispatch_journal WHERE 1=1`
	if !q.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Start.UnixNano())
	}
	if !q.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.End.UnixNano())
	}
	if q.OrderID != "" {
		query += ` AND order_id = ?`
		args = append(args, q.OrderID)
	}
	if q.HeaderID != "" {
		query += ` AND header_id = ?`
		args = append(args, q.HeaderID)
	}
	if q.Type != "" {
		query += ` AND type = ?`
		args = append(args, q.Type)
	}
	query += ` ORDER BY ts, id`
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	res := make([]corejournal.Record, 0, len(rows))
	for _, r := range rows {
		res = append(res, corejournal.Record{
			Time:       unixNano(r.TS),
			Type:       r.Type,
			OrderID:    r.OrderID,
			HeaderID:   r.HeaderID,
			LineID:     r.LineID,
			ShipmentID: r.ShipmentID,
			Payload:    []byte(r.Payload),
		})
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
