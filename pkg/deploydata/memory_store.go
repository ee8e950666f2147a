package deploydata

import (
	"context"
	"sync"
)

// MemoryStore implements the Store interface using in-memory storage
type MemoryStore struct {
	records map[string][]DeployData
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory deploy data store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]DeployData),
	}
}

// Put stores or replaces the record for an upload
func (s *MemoryStore) Put(data DeployData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data.DeploymentName == "" {
		data.DeploymentName = DeploymentName(data.Environment, data.DistributionName)
	}

	records := s.records[data.DeploymentName]
	for i, existing := range records {
		if existing.ObjectIdentifier == data.ObjectIdentifier {
			records[i] = data
			return
		}
	}
	s.records[data.DeploymentName] = append(records, data)
}

// GetDeployData returns the record written for one upload of a distribution
func (s *MemoryStore) GetDeployData(_ context.Context, environment, distribution, objectIdentifier string) (DeployData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, data := range s.records[DeploymentName(environment, distribution)] {
		if data.ObjectIdentifier == objectIdentifier {
			return data, nil
		}
	}
	return DeployData{}, ErrDeployDataNotFound
}
