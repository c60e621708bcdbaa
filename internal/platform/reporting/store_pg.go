package reporting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps snapshots in PostgreSQL (table dashboard_snapshot).
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const snapshotColumns = `id, generated_at, window_start, window_end, population_at_risk, vehicle_count,
	classifier_strategy, total_encounters, total_traffic_accidents, total_fatalities, degraded`

func (s *PGStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dashboard_snapshot (`+snapshotColumns+`, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		snap.ID, snap.GeneratedAt, snap.WindowStart, snap.WindowEnd,
		snap.PopulationAtRisk, snap.VehicleCount, snap.ClassifierStrategy,
		snap.TotalEncounters, snap.TotalTrafficAccidents, snap.TotalFatalities,
		snap.Degraded, []byte(snap.Report),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+`, report FROM dashboard_snapshot WHERE id = $1`, id)
	var snap Snapshot
	var report []byte
	err := row.Scan(
		&snap.ID, &snap.GeneratedAt, &snap.WindowStart, &snap.WindowEnd,
		&snap.PopulationAtRisk, &snap.VehicleCount, &snap.ClassifierStrategy,
		&snap.TotalEncounters, &snap.TotalTrafficAccidents, &snap.TotalFatalities,
		&snap.Degraded, &report,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	snap.Report = report
	return &snap, nil
}

func (s *PGStore) List(ctx context.Context, limit, offset int) ([]*Snapshot, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dashboard_snapshot`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count snapshots: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM dashboard_snapshot
		ORDER BY generated_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := []*Snapshot{}
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(
			&snap.ID, &snap.GeneratedAt, &snap.WindowStart, &snap.WindowEnd,
			&snap.PopulationAtRisk, &snap.VehicleCount, &snap.ClassifierStrategy,
			&snap.TotalEncounters, &snap.TotalTrafficAccidents, &snap.TotalFatalities,
			&snap.Degraded,
		); err != nil {
			return nil, 0, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, total, nil
}
