package file

import (
	"context"
	"os"
	"sort"

	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
)

// ProgressRepository returns the progress repository backed by this store.
func (p *Persistence) ProgressRepository() persistence.ProgressRepository {
	return p.progressRepo
}

// HistoryRepository returns the history repository backed by this store.
func (p *Persistence) HistoryRepository() persistence.HistoryRepository {
	return p.historyRepo
}

type ProgressRepository struct {
	store *Persistence
}

func (r *ProgressRepository) path(id string) string {
	return r.store.dir("progress", id+".json")
}

func (r *ProgressRepository) GetByID(_ context.Context, id string) (*models.Progress, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	progress := &models.Progress{}

	err := r.store.readDoc(r.path(id), progress)
	if os.IsNotExist(err) {
		return nil, persistence.NewProgressError("GetByID", id, persistence.ErrProgressNotFound)
	}

	if err != nil {
		return nil, persistence.NewProgressError("GetByID", id, err)
	}

	if progress.DeletedAt != nil {
		return nil, persistence.NewProgressError("GetByID", id, persistence.ErrProgressNotFound)
	}

	return progress, nil
}

func (r *ProgressRepository) scan(keep func(*models.Progress) bool) ([]*models.Progress, error) {
	paths, err := r.store.listDocs(r.store.dir("progress"))
	if err != nil {
		return nil, err
	}

	var result []*models.Progress

	for _, path := range paths {
		progress := &models.Progress{}
		if err := r.store.readDoc(path, progress); err != nil {
			return nil, err
		}

		if progress.DeletedAt == nil && keep(progress) {
			result = append(result, progress)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Before(result[j])
	})

	return result, nil
}

func (r *ProgressRepository) GetByVisitorAndSeries(_ context.Context, visitorID, seriesID string) ([]*models.Progress, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.scan(func(p *models.Progress) bool {
		return p.VisitorID == visitorID && p.SeriesID == seriesID
	})
}

func (r *ProgressRepository) GetBySeriesAndStatus(_ context.Context, seriesID string, status models.ProgressStatus) ([]*models.Progress, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.scan(func(p *models.Progress) bool {
		return p.SeriesID == seriesID && p.Status == status
	})
}

func (r *ProgressRepository) GetWaitingByVisitor(_ context.Context, visitorID string) ([]*models.Progress, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.scan(func(p *models.Progress) bool {
		return p.VisitorID == visitorID && p.Status == models.ProgressStatusWaiting
	})
}

func (r *ProgressRepository) Save(_ context.Context, progress *models.Progress) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeDoc(r.path(progress.ID), progress)
}

func (r *ProgressRepository) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	err := os.Remove(r.path(id))
	if os.IsNotExist(err) {
		return persistence.NewProgressError("Delete", id, persistence.ErrProgressNotFound)
	}

	if err == nil {
		// History follows its progress row.
		return os.RemoveAll(r.store.dir("history", id))
	}

	return err
}

// deleteBySeries removes every progress row (and its history) owned by the
// series. Called with the store lock held, as part of the series cascade.
func (r *ProgressRepository) deleteBySeries(_ context.Context, seriesID string) error {
	rows, err := r.scan(func(p *models.Progress) bool {
		return p.SeriesID == seriesID
	})
	if err != nil {
		return err
	}

	for _, row := range rows {
		if err := os.Remove(r.path(row.ID)); err != nil {
			return err
		}

		if err := os.RemoveAll(r.store.dir("history", row.ID)); err != nil {
			return err
		}
	}

	return nil
}

type HistoryRepository struct {
	store *Persistence
}

func (r *HistoryRepository) path(progressID, entryID string) string {
	return r.store.dir("history", progressID, entryID+".json")
}

func (r *HistoryRepository) Append(_ context.Context, entry *models.HistoryEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeDoc(r.path(entry.ProgressID, entry.ID), entry)
}

func (r *HistoryRepository) GetByProgress(_ context.Context, progressID string) ([]*models.HistoryEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.getByProgress(progressID)
}

func (r *HistoryRepository) getByProgress(progressID string) ([]*models.HistoryEntry, error) {
	paths, err := r.store.listDocs(r.store.dir("history", progressID))
	if err != nil {
		return nil, err
	}

	entries := make([]*models.HistoryEntry, 0, len(paths))

	for _, path := range paths {
		entry := &models.HistoryEntry{}
		if err := r.store.readDoc(path, entry); err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].ID < entries[j].ID
		}

		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	return entries, nil
}

func (r *HistoryRepository) HasEntry(_ context.Context, visitorID, seriesID, blockID string, action models.HistoryAction) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	// The trail is laid out per progress row, but the idempotency key is
	// the (visitor, series) pair, so the scan covers every row's history.
	dirs, err := os.ReadDir(r.store.dir("history"))
	if os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}

		entries, err := r.getByProgress(dir.Name())
		if err != nil {
			return false, err
		}

		for _, entry := range entries {
			if entry.VisitorID == visitorID && entry.SeriesID == seriesID && entry.BlockID == blockID && entry.Action == action {
				return true, nil
			}
		}
	}

	return false, nil
}
