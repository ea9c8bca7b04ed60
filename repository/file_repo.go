package repository

import (
	"sync"

	"tunnel-chat/models"
)

type FileRepository interface {
	Save(meta *models.FileMetadata) error
	FindByID(fileID string) (*models.FileMetadata, error)
	IncrementDownloads(fileID string) error
	Delete(fileID string) error
}

type InMemoryFileRepo struct {
	mu   sync.RWMutex
	byID map[string]*models.FileMetadata
}

func NewInMemoryFileRepo() *InMemoryFileRepo {
	return &InMemoryFileRepo{byID: make(map[string]*models.FileMetadata)}
}

func (r *InMemoryFileRepo) Save(meta *models.FileMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[meta.FileID] = meta
	return nil
}

func (r *InMemoryFileRepo) FindByID(fileID string) (*models.FileMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.byID[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *meta
	return &copy, nil
}

func (r *InMemoryFileRepo) IncrementDownloads(fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.byID[fileID]
	if !ok {
		return ErrNotFound
	}
	meta.DownloadCount++
	return nil
}

func (r *InMemoryFileRepo) Delete(fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[fileID]; !ok {
		return ErrNotFound
	}
	delete(r.byID, fileID)
	return nil
}
