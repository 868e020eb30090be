// shared/jobstore.go
package shared

import (
	"fmt"
	"sort"
	"sync"
)

// JobStoreClient tracks job lifecycle records for the status surface and
// remembers which queue deliveries have already been applied to a feed, so an
// at-least-once redelivery does not append the same item twice.
type JobStoreClient interface {
	// SaveRecord upserts a record under its key. A resubmission of the same
	// job reuses the key and resets the record.
	SaveRecord(rec *JobRecord) error
	GetRecord(key string) (*JobRecord, error)
	ListRecords() ([]*JobRecord, error) // For admin purposes

	// MarkProcessed records that a delivery's feed append happened. It reports
	// whether this call was the first; false means a duplicate delivery.
	MarkProcessed(deliveryID string) (bool, error)
	WasProcessed(deliveryID string) (bool, error)
}

// InMemoryJobStore implements JobStoreClient using in-memory maps
type InMemoryJobStore struct {
	mu        sync.RWMutex
	records   map[string]*JobRecord
	processed map[string]bool
}

// NewInMemoryJobStore creates a new in-memory job store instance
func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{
		records:   make(map[string]*JobRecord),
		processed: make(map[string]bool),
	}
}

// SaveRecord stores or replaces a job record
func (s *InMemoryJobStore) SaveRecord(rec *JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	s.records[rec.Key] = &copied
	return nil
}

// GetRecord retrieves a job record by its key
func (s *InMemoryJobStore) GetRecord(key string) (*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, exists := s.records[key]
	if !exists {
		return nil, fmt.Errorf("job record %s not found", key)
	}
	// Return a copy to prevent external modification without SaveRecord
	copied := *rec
	return &copied, nil
}

// ListRecords retrieves all job records, newest first (for admin/monitoring)
func (s *InMemoryJobStore) ListRecords() ([]*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*JobRecord, 0, len(s.records))
	for _, rec := range s.records {
		copied := *rec
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all, nil
}

// MarkProcessed remembers a completed delivery ID
func (s *InMemoryJobStore) MarkProcessed(deliveryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed[deliveryID] {
		return false, nil
	}
	s.processed[deliveryID] = true
	return true, nil
}

// WasProcessed reports whether a delivery ID was already applied
func (s *InMemoryJobStore) WasProcessed(deliveryID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processed[deliveryID], nil
}
