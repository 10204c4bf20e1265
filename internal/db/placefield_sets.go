package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/placefields/internal/placefield"
	"github.com/banshee-data/placefields/internal/placefield/epochs"
	"github.com/banshee-data/placefields/internal/timeutil"
)

// SetRecord is the stored form of a place field set. Snapshot carries no
// position or spike data; those come from the session.
type SetRecord struct {
	ID          uuid.UUID           `json:"id"`
	SessionID   int64               `json:"session_id"`
	Label       string              `json:"label"`
	ParamsKey   uuid.UUID           `json:"params_key"`
	Snapshot    placefield.Snapshot `json:"snapshot"`
	IncludedIDs []int               `json:"included_ids"`
	CreatedAt   time.Time           `json:"created_at"`
}

// SavePlaceFieldSet stores the configuration of a computed set against the
// session its inputs came from and returns the new record's id.
func (db *DB) SavePlaceFieldSet(ctx context.Context, sessionID int64, label string, s *placefield.Set) (uuid.UUID, error) {
	ids, err := s.IncludedNeuronIDs()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to save place field set: %w", err)
	}
	snap := s.Snapshot()
	var sessionDims int
	err = db.QueryRowContext(ctx, `SELECT ndim FROM recording_sessions WHERE id = ?`, sessionID).Scan(&sessionDims)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to get session %d: %w", sessionID, err)
	}
	// Merged and projected sets cannot be rebuilt from the session alone.
	if snap.PseudoDims > 0 || snap.NDim != sessionDims {
		return uuid.Nil, fmt.Errorf("cannot store a %d-D derived set against %d-D session %d", snap.NDim, sessionDims, sessionID)
	}
	params, err := json.Marshal(snap.Params)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode params: %w", err)
	}
	policy, err := json.Marshal(snap.Policy)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode policy: %w", err)
	}
	edges, err := json.Marshal(snap.Edges)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode edges: %w", err)
	}
	included, err := json.Marshal(ids)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO placefield_sets (
			id, session_id, label, params_key, params_json, policy_json, edges_json,
			ndim, pseudo_dims, fixed_edges, sampling_rate, included_ids_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), sessionID, label, snap.Params.Key().String(),
		string(params), string(policy), string(edges),
		snap.NDim, snap.PseudoDims, snap.FixedEdges, snap.SamplingRate,
		string(included), timeutil.UnixSeconds(db.clock.Now()),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert place field set: %w", err)
	}
	for i, e := range snap.Epochs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO placefield_set_epochs (set_id, idx, start_t, stop_t, label) VALUES (?, ?, ?, ?, ?)`,
			id.String(), i, e.Start, e.Stop, e.Label); err != nil {
			return uuid.Nil, fmt.Errorf("failed to insert epoch %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit place field set: %w", err)
	}
	return id, nil
}

const setColumns = `id, session_id, label, params_key, params_json, policy_json, edges_json,
	ndim, pseudo_dims, fixed_edges, sampling_rate, included_ids_json, created_at`

func scanSetRecord(row interface{ Scan(...any) error }) (*SetRecord, error) {
	var (
		r                                    SetRecord
		id, key, params, policy, edges, incl string
		created                              float64
	)
	err := row.Scan(&id, &r.SessionID, &r.Label, &key, &params, &policy, &edges,
		&r.Snapshot.NDim, &r.Snapshot.PseudoDims, &r.Snapshot.FixedEdges, &r.Snapshot.SamplingRate,
		&incl, &created)
	if err != nil {
		return nil, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("bad set id %q: %w", id, err)
	}
	if r.ParamsKey, err = uuid.Parse(key); err != nil {
		return nil, fmt.Errorf("bad params key %q: %w", key, err)
	}
	for _, f := range []struct {
		name string
		src  string
		dst  any
	}{
		{"params", params, &r.Snapshot.Params},
		{"policy", policy, &r.Snapshot.Policy},
		{"edges", edges, &r.Snapshot.Edges},
		{"included ids", incl, &r.IncludedIDs},
	} {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode %s of set %s: %w", f.name, id, err)
		}
	}
	r.CreatedAt = timeutil.FromUnixSeconds(created)
	return &r, nil
}

// GetPlaceFieldSet returns a stored set record, epochs included.
func (db *DB) GetPlaceFieldSet(ctx context.Context, id uuid.UUID) (*SetRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+setColumns+` FROM placefield_sets WHERE id = ?`, id.String())
	r, err := scanSetRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("place field set %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get place field set %s: %w", id, err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT start_t, stop_t, label FROM placefield_set_epochs WHERE set_id = ? ORDER BY idx`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query epochs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e epochs.Epoch
		if err := rows.Scan(&e.Start, &e.Stop, &e.Label); err != nil {
			return nil, fmt.Errorf("failed to scan epoch: %w", err)
		}
		r.Snapshot.Epochs = append(r.Snapshot.Epochs, e)
	}
	return r, rows.Err()
}

// ListPlaceFieldSets returns the records stored for a session, newest first,
// without their epochs.
func (db *DB) ListPlaceFieldSets(ctx context.Context, sessionID int64) ([]SetRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+setColumns+` FROM placefield_sets WHERE session_id = ? ORDER BY created_at DESC, rowid DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list place field sets: %w", err)
	}
	defer rows.Close()

	var out []SetRecord
	for rows.Next() {
		r, err := scanSetRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// FindPlaceFieldSets returns the ids of every stored set computed with
// parameters equal to p.
func (db *DB) FindPlaceFieldSets(ctx context.Context, p placefield.Params) ([]uuid.UUID, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id FROM placefield_sets WHERE params_key = ? ORDER BY created_at, rowid`, p.Key().String())
	if err != nil {
		return nil, fmt.Errorf("failed to find place field sets: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("bad set id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// LoadPlaceFieldSet rebuilds a stored set from its session. The maps are
// recomputed, which also re-applies the peak rate filter.
func (db *DB) LoadPlaceFieldSet(ctx context.Context, id uuid.UUID) (*placefield.Set, error) {
	r, err := db.GetPlaceFieldSet(ctx, id)
	if err != nil {
		return nil, err
	}
	pos, spikes, err := db.LoadRecording(ctx, r.SessionID)
	if err != nil {
		return nil, err
	}
	snap := r.Snapshot
	snap.Position = pos
	snap.Spikes = spikes
	return placefield.Restore(ctx, snap)
}

// DeletePlaceFieldSet removes a stored set and its epochs.
func (db *DB) DeletePlaceFieldSet(ctx context.Context, id uuid.UUID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM placefield_sets WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete place field set %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("place field set %s: %w", id, ErrNotFound)
	}
	return nil
}
