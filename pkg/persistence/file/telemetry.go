package file

import (
	"context"
	"os"
	"time"

	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
)

// TelemetryRepository returns the telemetry repository backed by this store.
func (p *Persistence) TelemetryRepository() persistence.TelemetryRepository {
	return p.telemetryRepo
}

// VisitorRepository returns the visitor repository backed by this store.
func (p *Persistence) VisitorRepository() persistence.VisitorRepository {
	return p.visitorRepo
}

type TelemetryRepository struct {
	store *Persistence
}

func (r *TelemetryRepository) path(seriesID, blockID string) string {
	return r.store.dir("telemetry", seriesID, blockID+".json")
}

func (r *TelemetryRepository) Increment(_ context.Context, seriesID, blockID string, delta models.TelemetryDelta, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	row := &models.BlockTelemetry{SeriesID: seriesID, BlockID: blockID}

	err := r.store.readDoc(r.path(seriesID, blockID), row)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	row.Apply(delta, now)

	return r.store.writeDoc(r.path(seriesID, blockID), row)
}

func (r *TelemetryRepository) GetBySeries(_ context.Context, seriesID string) ([]*models.BlockTelemetry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	paths, err := r.store.listDocs(r.store.dir("telemetry", seriesID))
	if err != nil {
		return nil, err
	}

	rows := make([]*models.BlockTelemetry, 0, len(paths))

	for _, path := range paths {
		row := &models.BlockTelemetry{}
		if err := r.store.readDoc(path, row); err != nil {
			return nil, err
		}

		rows = append(rows, row)
	}

	return rows, nil
}

type VisitorRepository struct {
	store *Persistence
}

func (r *VisitorRepository) path(id string) string {
	return r.store.dir("visitors", id+".json")
}

func (r *VisitorRepository) GetByID(_ context.Context, id string) (*models.Visitor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	visitor := &models.Visitor{}

	err := r.store.readDoc(r.path(id), visitor)
	if os.IsNotExist(err) {
		return nil, persistence.ErrVisitorNotFound
	}

	if err != nil {
		return nil, err
	}

	return visitor, nil
}

func (r *VisitorRepository) Save(_ context.Context, visitor *models.Visitor) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeDoc(r.path(visitor.ID), visitor)
}
