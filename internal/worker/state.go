package worker

import "sync"

// inflightSet tracks which documents currently have a parse run queued or
// executing, so the same document is never processed twice concurrently.
type inflightSet struct {
	mu   sync.Mutex
	docs map[int64]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{docs: make(map[int64]struct{})}
}

func (s *inflightSet) begin(documentID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[documentID]; ok {
		return false
	}
	s.docs[documentID] = struct{}{}
	return true
}

func (s *inflightSet) end(documentID int64) {
	s.mu.Lock()
	delete(s.docs, documentID)
	s.mu.Unlock()
}
