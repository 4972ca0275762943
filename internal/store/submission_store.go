package store

import (
	"fmt"
	"sync"
	"time"

	"form-webhook-sync/internal/models"
)

// DefaultLimit is the page size used when a caller gives no usable limit.
const DefaultLimit = 50

// DuplicateIDError means the id generator produced an id already stored.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("submission %s already exists", e.ID)
}

// Filter narrows GetUnprocessed.
type Filter struct {
	Limit  int
	FormID string
	// Since keeps submissions received strictly after it.
	Since *time.Time
}

// MarkResult reports what a mark-processed call changed.
type MarkResult struct {
	// Marked counts real unprocessed -> processed transitions only.
	Marked           int      `json:"marked"`
	AlreadyProcessed []string `json:"already_processed,omitempty"`
	Unknown          []string `json:"unknown,omitempty"`
	TotalProcessed   int      `json:"total_processed"`
}

// SubmissionStore is the in-memory, insertion-ordered submission queue.
// Contents are lost on restart and never evicted.
type SubmissionStore struct {
	mu           sync.RWMutex
	submissions  []*models.Submission
	index        map[string]int
	processedIDs map[string]struct{}
}

func New() *SubmissionStore {
	return &SubmissionStore{
		index:        make(map[string]int),
		processedIDs: make(map[string]struct{}),
	}
}

func (s *SubmissionStore) Insert(sub models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[sub.ID]; exists {
		return &DuplicateIDError{ID: sub.ID}
	}
	sub.Data = models.CloneData(sub.Data)
	sub.Files = append([]models.FileRecord(nil), sub.Files...)
	s.index[sub.ID] = len(s.submissions)
	s.submissions = append(s.submissions, &sub)
	if sub.Processed {
		s.processedIDs[sub.ID] = struct{}{}
	}
	return nil
}

// GetUnprocessed returns up to f.Limit matching submissions, oldest first,
// together with the number of matches before truncation.
func (s *SubmissionStore) GetUnprocessed(f Filter) ([]models.Submission, int) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		out   []models.Submission
		total int
	)
	for _, sub := range s.submissions {
		if !s.pendingLocked(sub) {
			continue
		}
		if f.FormID != "" && sub.FormID != f.FormID {
			continue
		}
		if f.Since != nil && !sub.ReceivedAt.After(*f.Since) {
			continue
		}
		total++
		if len(out) < limit {
			out = append(out, snapshot(sub))
		}
	}
	return out, total
}

func (s *SubmissionStore) Get(id string) (models.Submission, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return models.Submission{}, false
	}
	return snapshot(s.submissions[i]), true
}

// MarkProcessed acknowledges ids. Unknown and already processed ids are
// reported back and change nothing.
func (s *SubmissionStore) MarkProcessed(ids []string) MarkResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res MarkResult
	for _, id := range ids {
		i, ok := s.index[id]
		if !ok {
			res.Unknown = append(res.Unknown, id)
			continue
		}
		if !s.markLocked(s.submissions[i]) {
			res.AlreadyProcessed = append(res.AlreadyProcessed, id)
			continue
		}
		res.Marked++
	}
	res.TotalProcessed = len(s.processedIDs)
	return res
}

// MarkAll acknowledges every currently unprocessed submission.
func (s *SubmissionStore) MarkAll() MarkResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res MarkResult
	for _, sub := range s.submissions {
		if s.markLocked(sub) {
			res.Marked++
		}
	}
	res.TotalProcessed = len(s.processedIDs)
	return res
}

// markLocked flips sub to processed and reports whether it changed.
func (s *SubmissionStore) markLocked(sub *models.Submission) bool {
	if !s.pendingLocked(sub) {
		return false
	}
	sub.Processed = true
	s.processedIDs[sub.ID] = struct{}{}
	return true
}

func (s *SubmissionStore) pendingLocked(sub *models.Submission) bool {
	if sub.Processed {
		return false
	}
	_, done := s.processedIDs[sub.ID]
	return !done
}

// Counts returns the total, unprocessed and processed sizes.
func (s *SubmissionStore) Counts() (total, unprocessed, processed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total = len(s.submissions)
	processed = len(s.processedIDs)
	return total, total - processed, processed
}

func (s *SubmissionStore) Stats() models.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.Stats{
		Total:     len(s.submissions),
		Processed: len(s.processedIDs),
		Forms:     make(map[string]models.FormStats),
	}
	stats.Unprocessed = stats.Total - stats.Processed

	for _, sub := range s.submissions {
		fs := stats.Forms[sub.FormID]
		fs.Total++
		if !s.pendingLocked(sub) {
			fs.Processed++
		}
		stats.Forms[sub.FormID] = fs
	}
	if n := len(s.submissions); n > 0 {
		oldest := s.submissions[0].ReceivedAt
		newest := s.submissions[n-1].ReceivedAt
		stats.Oldest = &oldest
		stats.Newest = &newest
	}
	return stats
}

// Reset drops every submission and returns how many were cleared.
func (s *SubmissionStore) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleared := len(s.submissions)
	s.submissions = nil
	s.index = make(map[string]int)
	s.processedIDs = make(map[string]struct{})
	return cleared
}

func snapshot(sub *models.Submission) models.Submission {
	cp := *sub
	cp.Data = models.CloneData(sub.Data)
	cp.Files = append([]models.FileRecord(nil), sub.Files...)
	return cp
}
