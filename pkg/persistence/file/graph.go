package file

import (
	"context"
	"os"

	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/persistence"
)

// BlockRepository returns the block repository backed by this store.
func (p *Persistence) BlockRepository() persistence.BlockRepository {
	return p.blockRepo
}

// ConnectionRepository returns the connection repository backed by this store.
func (p *Persistence) ConnectionRepository() persistence.ConnectionRepository {
	return p.connectionRepo
}

type BlockRepository struct {
	store *Persistence
}

func (r *BlockRepository) path(seriesID, blockID string) string {
	return r.store.dir("blocks", seriesID, blockID+".json")
}

func (r *BlockRepository) GetBySeries(_ context.Context, seriesID string) ([]*models.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	paths, err := r.store.listDocs(r.store.dir("blocks", seriesID))
	if err != nil {
		return nil, err
	}

	blocks := make([]*models.Block, 0, len(paths))

	for _, path := range paths {
		block := &models.Block{}
		if err := r.store.readDoc(path, block); err != nil {
			return nil, err
		}

		blocks = append(blocks, block)
	}

	return blocks, nil
}

func (r *BlockRepository) GetByID(_ context.Context, seriesID, blockID string) (*models.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	block := &models.Block{}

	err := r.store.readDoc(r.path(seriesID, blockID), block)
	if os.IsNotExist(err) {
		return nil, persistence.ErrBlockNotFound
	}

	if err != nil {
		return nil, err
	}

	return block, nil
}

func (r *BlockRepository) Save(_ context.Context, block *models.Block) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeDoc(r.path(block.SeriesID, block.ID), block)
}

func (r *BlockRepository) Delete(_ context.Context, seriesID, blockID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	err := os.Remove(r.path(seriesID, blockID))
	if os.IsNotExist(err) {
		return persistence.ErrBlockNotFound
	}

	return err
}

type ConnectionRepository struct {
	store *Persistence
}

func (r *ConnectionRepository) path(seriesID, connectionID string) string {
	return r.store.dir("connections", seriesID, connectionID+".json")
}

func (r *ConnectionRepository) GetBySeries(_ context.Context, seriesID string) ([]*models.Connection, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	paths, err := r.store.listDocs(r.store.dir("connections", seriesID))
	if err != nil {
		return nil, err
	}

	connections := make([]*models.Connection, 0, len(paths))

	for _, path := range paths {
		connection := &models.Connection{}
		if err := r.store.readDoc(path, connection); err != nil {
			return nil, err
		}

		connections = append(connections, connection)
	}

	return connections, nil
}

func (r *ConnectionRepository) Save(_ context.Context, connection *models.Connection) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeDoc(r.path(connection.SeriesID, connection.ID), connection)
}

func (r *ConnectionRepository) Delete(_ context.Context, seriesID, connectionID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	err := os.Remove(r.path(seriesID, connectionID))
	if os.IsNotExist(err) {
		return persistence.ErrConnectionNotFound
	}

	return err
}
