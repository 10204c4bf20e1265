package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/placefields/internal/recording"
	"github.com/banshee-data/placefields/internal/timeutil"
)

// maxSessionDims is the number of coordinate columns position_samples holds.
const maxSessionDims = 3

// ErrNotFound is returned when a session or place field set does not exist.
var ErrNotFound = errors.New("db: not found")

// Session describes one stored recording.
type Session struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	NDim         int       `json:"ndim"`
	SamplingRate float64   `json:"sampling_rate"`
	Notes        string    `json:"notes"`
	CreatedAt    time.Time `json:"created_at"`
	NumSamples   int       `json:"num_samples"`
	NumSpikes    int       `json:"num_spikes"`
}

// InsertSession stores a recording under a new session and fills in s.ID,
// s.NDim, s.SamplingRate and s.CreatedAt. Everything is written in one
// transaction.
func (db *DB) InsertSession(ctx context.Context, s *Session, pos *recording.Position, spikes *recording.Spikes) error {
	if pos == nil || spikes == nil {
		return fmt.Errorf("session %q: position and spikes are required", s.Name)
	}
	if pos.NDim() < 1 || pos.NDim() > maxSessionDims {
		return fmt.Errorf("session %q: %d position dimensions, at most %d supported", s.Name, pos.NDim(), maxSessionDims)
	}
	created := db.clock.Now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO recording_sessions (name, ndim, sampling_rate, notes, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.Name, pos.NDim(), pos.SamplingRate, s.Notes, timeutil.UnixSeconds(created))
	if err != nil {
		return fmt.Errorf("failed to create session %q: %w", s.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}

	posStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO position_samples (session_id, idx, t, x, y, z, speed) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer posStmt.Close()
	for i, t := range pos.T {
		var coords [maxSessionDims]sql.NullFloat64
		for d := range pos.Coords {
			coords[d] = nullable(pos.Coords[d][i])
		}
		var speed sql.NullFloat64
		if pos.Speed != nil {
			speed = nullable(pos.Speed[i])
		}
		if _, err := posStmt.ExecContext(ctx, id, i, t, coords[0], coords[1], coords[2], speed); err != nil {
			return fmt.Errorf("failed to insert position sample %d: %w", i, err)
		}
	}

	spikeStmt, err := tx.PrepareContext(ctx, `INSERT INTO spikes (session_id, t, neuron_id) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer spikeStmt.Close()
	for i, t := range spikes.T {
		if _, err := spikeStmt.ExecContext(ctx, id, t, spikes.NeuronID[i]); err != nil {
			return fmt.Errorf("failed to insert spike %d: %w", i, err)
		}
	}

	for _, u := range spikes.Units {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO units (session_id, unit_id, shank, cluster) VALUES (?, ?, ?, ?)`,
			id, u.ID, u.Shank, u.Cluster); err != nil {
			return fmt.Errorf("failed to insert unit %d: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %q: %w", s.Name, err)
	}
	s.ID = id
	s.NDim = pos.NDim()
	s.SamplingRate = pos.SamplingRate
	s.CreatedAt = timeutil.FromUnixSeconds(timeutil.UnixSeconds(created))
	s.NumSamples = pos.Len()
	s.NumSpikes = spikes.Len()
	return nil
}

const sessionColumns = `
	s.id, s.name, s.ndim, s.sampling_rate, COALESCE(s.notes, ''), s.created_at,
	(SELECT COUNT(*) FROM position_samples p WHERE p.session_id = s.id),
	(SELECT COUNT(*) FROM spikes k WHERE k.session_id = s.id)`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	var created float64
	if err := row.Scan(&s.ID, &s.Name, &s.NDim, &s.SamplingRate, &s.Notes, &created, &s.NumSamples, &s.NumSpikes); err != nil {
		return nil, err
	}
	s.CreatedAt = timeutil.FromUnixSeconds(created)
	return &s, nil
}

// GetSession returns the session with the given name.
func (db *DB) GetSession(ctx context.Context, name string) (*Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM recording_sessions s WHERE s.name = ?`, name)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %q: %w", name, err)
	}
	return s, nil
}

// ListSessions returns every session, oldest first.
func (db *DB) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM recording_sessions s ORDER BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session together with its samples, spikes and
// stored place field sets.
func (db *DB) DeleteSession(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM recording_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	return nil
}

// LoadRecording reads back the position and spike streams of a session.
func (db *DB) LoadRecording(ctx context.Context, sessionID int64) (*recording.Position, *recording.Spikes, error) {
	var ndim int
	var rate float64
	err := db.QueryRowContext(ctx,
		`SELECT ndim, sampling_rate FROM recording_sessions WHERE id = ?`, sessionID).Scan(&ndim, &rate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get session %d: %w", sessionID, err)
	}

	pos, err := db.loadPosition(ctx, sessionID, ndim, rate)
	if err != nil {
		return nil, nil, err
	}
	spikes, err := db.loadSpikes(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return pos, spikes, nil
}

func (db *DB) loadPosition(ctx context.Context, sessionID int64, ndim int, rate float64) (*recording.Position, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT t, x, y, z, speed FROM position_samples WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var t, speed []float64
	coords := make([][]float64, ndim)
	for rows.Next() {
		var ti float64
		var c [maxSessionDims]sql.NullFloat64
		var sp sql.NullFloat64
		if err := rows.Scan(&ti, &c[0], &c[1], &c[2], &sp); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		t = append(t, ti)
		for d := range coords {
			coords[d] = append(coords[d], orNaN(c[d]))
		}
		speed = append(speed, orNaN(sp))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recording.NewPosition(t, coords, speed, rate)
}

// SQLite stores NaN as NULL, so missing samples round-trip through NULL.
func nullable(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func (db *DB) loadSpikes(ctx context.Context, sessionID int64) (*recording.Spikes, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT t, neuron_id FROM spikes WHERE session_id = ? ORDER BY t, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query spikes: %w", err)
	}
	var t []float64
	var ids []int
	for rows.Next() {
		var ti float64
		var id int
		if err := rows.Scan(&ti, &id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan spike: %w", err)
		}
		t = append(t, ti)
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	urows, err := db.QueryContext(ctx,
		`SELECT unit_id, shank, cluster FROM units WHERE session_id = ? ORDER BY unit_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer urows.Close()
	var units []recording.Unit
	for urows.Next() {
		var u recording.Unit
		if err := urows.Scan(&u.ID, &u.Shank, &u.Cluster); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		units = append(units, u)
	}
	if err := urows.Err(); err != nil {
		return nil, err
	}
	return recording.NewSpikes(t, ids, units)
}
