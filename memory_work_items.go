package workflow

import (
	"context"
	"sync"
)

// MemoryWorkItemStore is an in-memory implementation of WorkItemStore for
// tests and development servers.
type MemoryWorkItemStore struct {
	mutex sync.Mutex
	items map[string]*WorkItem
}

func NewMemoryWorkItemStore(items ...*WorkItem) *MemoryWorkItemStore {
	store := &MemoryWorkItemStore{items: map[string]*WorkItem{}}
	for _, item := range items {
		store.items[item.ID] = item
	}
	return store
}

// Put adds or replaces a work item.
func (s *MemoryWorkItemStore) Put(item *WorkItem) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.items[item.ID] = item
}

func (s *MemoryWorkItemStore) GetWorkItem(ctx context.Context, workItemID, organizationID string) (*WorkItem, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	item, ok := s.items[workItemID]
	if !ok || item.OrganizationID != organizationID {
		return nil, NewNotFoundError("work item %q not found", workItemID)
	}
	dup := *item
	dup.Metadata = copyMap(item.Metadata)
	return &dup, nil
}

func (s *MemoryWorkItemStore) SetWorkItemStatus(ctx context.Context, workItemID, organizationID, status string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	item, ok := s.items[workItemID]
	if !ok || item.OrganizationID != organizationID {
		return NewNotFoundError("work item %q not found", workItemID)
	}
	item.Status = status
	return nil
}

func (s *MemoryWorkItemStore) GetWorkItemMetadata(ctx context.Context, workItemID, organizationID string) (map[string]any, error) {
	item, err := s.GetWorkItem(ctx, workItemID, organizationID)
	if err != nil {
		return nil, err
	}
	if item.Metadata == nil {
		return map[string]any{}, nil
	}
	return item.Metadata, nil
}
