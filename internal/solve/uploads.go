package solve

import "sync"

// defaultUploadEntries bounds the retained recent uploads; each entry holds
// a full image in memory.
const defaultUploadEntries = 16

type upload struct {
	subID    int64
	jobID    int64
	filename string
	data     []byte

	prev, next *upload
}

// uploadStore retains recent uploads keyed by submission ID so overlays can
// be rendered after the solve completes. LRU with a fixed entry bound.
type uploadStore struct {
	mu         sync.Mutex
	maxEntries int
	bySub      map[int64]*upload
	byJobID    map[int64]*upload
	head       *upload // most recently used
	tail       *upload // least recently used
}

func newUploadStore(maxEntries int) *uploadStore {
	if maxEntries <= 0 {
		maxEntries = defaultUploadEntries
	}
	return &uploadStore{
		maxEntries: maxEntries,
		bySub:      make(map[int64]*upload),
		byJobID:    make(map[int64]*upload),
	}
}

func (s *uploadStore) put(subID int64, filename string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.bySub[subID]; ok {
		e.filename = filename
		e.data = data
		s.moveToFront(e)
		return
	}

	e := &upload{subID: subID, filename: filename, data: data}
	s.bySub[subID] = e
	s.addToFront(e)

	if len(s.bySub) > s.maxEntries {
		s.evictTail()
	}
}

func (s *uploadStore) setJob(subID, jobID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.bySub[subID]
	if !ok {
		return
	}
	if e.jobID != 0 {
		delete(s.byJobID, e.jobID)
	}
	e.jobID = jobID
	s.byJobID[jobID] = e
}

func (s *uploadStore) bySubmission(subID int64) (*upload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.bySub[subID]
	if ok {
		s.moveToFront(e)
	}
	return e, ok
}

func (s *uploadStore) byJob(jobID int64) (*upload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byJobID[jobID]
	if ok {
		s.moveToFront(e)
	}
	return e, ok
}

func (s *uploadStore) moveToFront(e *upload) {
	if e == s.head {
		return
	}
	s.remove(e)
	s.addToFront(e)
}

func (s *uploadStore) addToFront(e *upload) {
	e.next = s.head
	e.prev = nil
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *uploadStore) remove(e *upload) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
}

func (s *uploadStore) evictTail() {
	if s.tail == nil {
		return
	}
	delete(s.bySub, s.tail.subID)
	if s.tail.jobID != 0 {
		delete(s.byJobID, s.tail.jobID)
	}
	s.remove(s.tail)
}
