package file

import (
	"context"
	"os"

	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
)

// SeriesRepository returns the series repository backed by this store.
func (p *Persistence) SeriesRepository() persistence.SeriesRepository {
	return p.seriesRepo
}

type SeriesRepository struct {
	store *Persistence
}

func (r *SeriesRepository) path(id string) string {
	return r.store.dir("series", id+".json")
}

func (r *SeriesRepository) GetAll(_ context.Context, workspaceID string) ([]*models.Series, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.load(func(s *models.Series) bool {
		return workspaceID == "" || s.WorkspaceID == workspaceID
	})
}

func (r *SeriesRepository) GetByStatus(_ context.Context, status models.SeriesStatus) ([]*models.Series, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.load(func(s *models.Series) bool {
		return s.Status == status
	})
}

func (r *SeriesRepository) load(keep func(*models.Series) bool) ([]*models.Series, error) {
	paths, err := r.store.listDocs(r.store.dir("series"))
	if err != nil {
		return nil, err
	}

	result := make([]*models.Series, 0, len(paths))

	for _, path := range paths {
		series := &models.Series{}
		if err := r.store.readDoc(path, series); err != nil {
			return nil, err
		}

		if series.DeletedAt == nil && keep(series) {
			result = append(result, series)
		}
	}

	return result, nil
}

func (r *SeriesRepository) GetByID(_ context.Context, id string) (*models.Series, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.getByID(id)
}

func (r *SeriesRepository) getByID(id string) (*models.Series, error) {
	series := &models.Series{}

	err := r.store.readDoc(r.path(id), series)
	if os.IsNotExist(err) {
		return nil, persistence.NewSeriesError("GetByID", id, persistence.ErrSeriesNotFound)
	}

	if err != nil {
		return nil, persistence.NewSeriesError("GetByID", id, err)
	}

	if series.DeletedAt != nil {
		return nil, persistence.NewSeriesError("GetByID", id, persistence.ErrSeriesNotFound)
	}

	return series, nil
}

func (r *SeriesRepository) Save(_ context.Context, series *models.Series) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeDoc(r.path(series.ID), series)
}

func (r *SeriesRepository) ApplyStatsDelta(_ context.Context, seriesID string, delta models.SeriesStats) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	series, err := r.getByID(seriesID)
	if err != nil {
		return err
	}

	series.Stats.Entered = clampCounter(series.Stats.Entered + delta.Entered)
	series.Stats.Active = clampCounter(series.Stats.Active + delta.Active)
	series.Stats.Waiting = clampCounter(series.Stats.Waiting + delta.Waiting)
	series.Stats.Completed = clampCounter(series.Stats.Completed + delta.Completed)
	series.Stats.Exited = clampCounter(series.Stats.Exited + delta.Exited)
	series.Stats.GoalReached = clampCounter(series.Stats.GoalReached + delta.GoalReached)
	series.Stats.Failed = clampCounter(series.Stats.Failed + delta.Failed)

	return r.store.writeDoc(r.path(seriesID), series)
}

func clampCounter(v int64) int64 {
	if v < 0 {
		return 0
	}

	return v
}

// Delete removes the series document and cascades to the graph, telemetry,
// progress and history owned by it.
func (r *SeriesRepository) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, err := r.getByID(id); err != nil {
		return err
	}

	if err := os.Remove(r.path(id)); err != nil {
		return persistence.NewSeriesError("Delete", id, err)
	}

	for _, dir := range []string{
		r.store.dir("blocks", id),
		r.store.dir("connections", id),
		r.store.dir("telemetry", id),
	} {
		if err := os.RemoveAll(dir); err != nil {
			return persistence.NewSeriesError("Delete", id, err)
		}
	}

	return r.store.progressRepo.deleteBySeries(ctx, id)
}
