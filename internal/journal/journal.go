package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/gofrs/uuid"
	_ "github.com/lib/pq"

	"github.com/Yua17/tftp/internal/migrations"
)

// Direction is seen from the server: a read serves a file, a write stores one.
type Direction string

const (
	DirectionRead  Direction = "read"
	DirectionWrite Direction = "write"
)

// Entry describes one server session.
type Entry struct {
	ID          uuid.UUID
	Peer        string
	Filename    string
	Direction   Direction
	Bytes       int64
	Blocks      int
	Retransmits int
	StartedAt   time.Time
	FinishedAt  time.Time
	// Error is empty for successful transfers.
	Error string
}

func (e Entry) Succeeded() bool { return e.Error == "" }

// Recorder persists entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

var ErrInvalidEntry = errors.New("invalid journal entry")

func (e Entry) validate() error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidEntry)
	}
	if e.Direction != DirectionRead && e.Direction != DirectionWrite {
		return fmt.Errorf("%w: direction %q", ErrInvalidEntry, e.Direction)
	}
	if e.FinishedAt.Before(e.StartedAt) {
		return fmt.Errorf("%w: finished before it started", ErrInvalidEntry)
	}
	return nil
}

// Postgres records entries in the transfers table.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and applies the journal migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal database: %w", err)
	}
	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

const insertEntry = `
INSERT INTO transfers (id, peer, filename, direction, bytes, blocks, retransmits, started_at, finished_at, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func (p *Postgres) Record(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, insertEntry,
		e.ID.String(), e.Peer, e.Filename, string(e.Direction),
		e.Bytes, e.Blocks, e.Retransmits,
		e.StartedAt.UTC(), e.FinishedAt.UTC(), e.Error)
	return err
}

const selectRecent = `
SELECT id, peer, filename, direction, bytes, blocks, retransmits, started_at, finished_at, error
FROM transfers
ORDER BY finished_at DESC
LIMIT $1`

// Recent returns up to limit entries, newest first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			id        string
			direction string
		)
		if err := rows.Scan(&id, &e.Peer, &e.Filename, &direction, &e.Bytes, &e.Blocks,
			&e.Retransmits, &e.StartedAt, &e.FinishedAt, &e.Error); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.FromString(id); err != nil {
			return nil, err
		}
		e.Direction = Direction(direction)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Print writes entries as an aligned table, one transfer per line.
func Print(w io.Writer, entries []Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tDIRECTION\tPEER\tFILE\tBYTES\tBLOCKS\tRETRANSMITS\tRESULT")
	for _, e := range entries {
		result := "ok"
		if !e.Succeeded() {
			result = e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			e.FinishedAt.Local().Format(time.DateTime), e.Direction, e.Peer, e.Filename,
			e.Bytes, e.Blocks, e.Retransmits, result)
	}
	return tw.Flush()
}
