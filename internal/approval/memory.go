package approval

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*models.ApprovalRequest
	byTask map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*models.ApprovalRequest),
		byTask: make(map[string]string),
	}
}

func (s *MemoryStore) CreateApproval(_ context.Context, req *models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byTask[req.TaskID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.byID[req.ID]; ok {
		return ErrAlreadyExists
	}
	s.byID[req.ID] = req.Clone()
	s.byTask[req.TaskID] = req.ID
	return nil
}

func (s *MemoryStore) GetApproval(_ context.Context, id string) (*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return req.Clone(), nil
}

func (s *MemoryStore) GetApprovalByTask(_ context.Context, taskID string) (*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byTask[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) ListApprovals(_ context.Context, filter models.ApprovalFilter) ([]*models.ApprovalRequest, error) {
	s.mu.Lock()
	out := make([]*models.ApprovalRequest, 0, len(s.byID))
	for _, req := range s.byID {
		if filter.Matches(req) {
			out = append(out, req.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) DecideApproval(_ context.Context, rec DecisionRecord) (*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[rec.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != models.ApprovalStatusPending {
		return nil, &StateError{ID: req.ID, Status: req.Status}
	}
	if !rec.At.Before(req.TimeoutAt) {
		return nil, ErrExpired
	}
	req.Status = rec.Status
	req.ApproverID = rec.ApproverID
	at := rec.At
	req.ApprovedAt = &at
	req.DenialReason = rec.DenialReason
	req.ConditionsAccepted = rec.ConditionsAccepted
	req.UpdatedAt = rec.At
	return req.Clone(), nil
}

func (s *MemoryStore) ExpireApproval(_ context.Context, id string, at time.Time, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if req.Status != models.ApprovalStatusPending {
		return false, nil
	}
	req.Status = models.ApprovalStatusExpired
	req.UpdatedAt = at
	return true, nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, id string, entry models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	req.Audit = append(req.Audit, entry)
	return nil
}

var _ Store = (*MemoryStore)(nil)
