// Package reporting keeps a history of computed dashboards.
package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a snapshot does not exist.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is one computed dashboard with its headline numbers broken out
// for listing. Report holds the full serialized report.
type Snapshot struct {
	ID                    uuid.UUID       `json:"id"`
	GeneratedAt           time.Time       `json:"generated_at"`
	WindowStart           *time.Time      `json:"window_start,omitempty"`
	WindowEnd             *time.Time      `json:"window_end,omitempty"`
	PopulationAtRisk      float64         `json:"population_at_risk"`
	VehicleCount          float64         `json:"vehicle_count"`
	ClassifierStrategy    string          `json:"classifier_strategy"`
	TotalEncounters       int             `json:"total_encounters"`
	TotalTrafficAccidents int             `json:"total_traffic_accidents"`
	TotalFatalities       int             `json:"total_fatalities"`
	Degraded              bool            `json:"degraded"`
	Report                json.RawMessage `json:"report,omitempty"`
}

// Store persists snapshots.
type Store interface {
	Save(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, id uuid.UUID) (*Snapshot, error)
	// List returns snapshots newest first, without the Report payload,
	// and the total count.
	List(ctx context.Context, limit, offset int) ([]*Snapshot, int, error)
}
