// Package queue is the single source of truth for per-file conversion state.
//
// The Store holds no execution logic: it records entries, drives their status
// lifecycle (pending → processing → complete/error), and notifies listeners
// synchronously after every mutation. Output and preview handles owned by an
// entry are released when the entry is removed or the store is cleared.
package queue

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"heicConverter/converter/handle"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal returns true if no further transitions are expected.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// File is one user-submitted input.
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// Entry is the durable record of one submitted file.
type Entry struct {
	ID        int64
	Name      string
	Size      int64
	MediaType string
	Input     []byte

	Status     Status
	Progress   int
	Err        string
	Result     *handle.Handle
	OutputSize int64
	Preview    *handle.Handle

	StartTime time.Time
	EndTime   time.Time
}

type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
	EventCleared EventKind = "cleared"
)

// Event describes one store mutation. Entry is a snapshot copy and is nil
// for cleared events.
type Event struct {
	Kind  EventKind
	Entry *Entry
}

type Listener func(Event)

// Patch carries the optional fields applied alongside a status update.
type Patch struct {
	Progress   *int
	Err        string
	Result     *handle.Handle
	OutputSize *int64
	Preview    *handle.Handle
}

// Stats aggregates the store for display.
type Stats struct {
	Total           int
	Pending         int
	Processing      int
	Completed       int
	Errors          int
	TotalInputSize  int64
	TotalOutputSize int64
	TotalTime       time.Duration
}

// Store is an ordered mapping from entry ID to Entry plus registered
// listeners. All methods are safe for concurrent use.
type Store struct {
	mu           sync.Mutex
	nextID       int64
	order        []int64
	entries      map[int64]*Entry
	listeners    map[int]Listener
	nextListener int
	now          func() time.Time
	logger       *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	return &Store{
		entries:   make(map[int64]*Entry),
		listeners: make(map[int]Listener),
		now:       time.Now,
		logger:    logger,
	}
}

// Accepted reports whether a file passes the HEIC intake filter, by trailing
// name extension or declared media type.
func Accepted(name, mediaType string) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".heic") || strings.HasSuffix(lower, ".heif") {
		return true
	}
	switch strings.ToLower(mediaType) {
	case "image/heic", "image/heif":
		return true
	}
	return false
}

// AddFiles creates one pending entry per accepted file and returns snapshots
// of the created entries in order. Rejected files are dropped silently; the
// caller is responsible for surfacing an empty result.
func (s *Store) AddFiles(files []File) []Entry {
	var created []Entry
	for _, f := range files {
		if !Accepted(f.Name, f.MediaType) {
			s.logger.Debug("rejected file at intake",
				zap.String("name", f.Name),
				zap.String("media_type", f.MediaType),
			)
			continue
		}

		s.mu.Lock()
		s.nextID++
		e := &Entry{
			ID:        s.nextID,
			Name:      f.Name,
			Size:      int64(len(f.Data)),
			MediaType: f.MediaType,
			Input:     f.Data,
			Status:    StatusPending,
		}
		s.entries[e.ID] = e
		s.order = append(s.order, e.ID)
		snapshot := *e
		listeners := s.listenerList()
		s.mu.Unlock()

		created = append(created, snapshot)
		s.notify(listeners, Event{Kind: EventAdded, Entry: &snapshot})
	}
	return created
}

// UpdateStatus applies status and any present patch fields atomically with
// respect to listener notification. Entering processing for the first time
// stamps StartTime; entering a terminal status for the first time stamps
// EndTime. Returns nil for an unknown ID.
func (s *Store) UpdateStatus(id int64, status Status, patch Patch) *Entry {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	e.Status = status
	if patch.Progress != nil {
		e.Progress = *patch.Progress
	}
	if patch.Err != "" {
		e.Err = patch.Err
	}
	if patch.Result != nil {
		e.Result = patch.Result
	}
	if patch.OutputSize != nil {
		e.OutputSize = *patch.OutputSize
	}
	if patch.Preview != nil {
		e.Preview = patch.Preview
	}

	switch {
	case status == StatusProcessing && e.StartTime.IsZero():
		e.StartTime = s.now()
	case (status == StatusComplete || status == StatusError) && e.EndTime.IsZero():
		e.EndTime = s.now()
	}

	snapshot := *e
	listeners := s.listenerList()
	s.mu.Unlock()

	s.notify(listeners, Event{Kind: EventUpdated, Entry: &snapshot})
	return &snapshot
}

// SetProgress records conversion progress for a processing entry.
func (s *Store) SetProgress(id int64, progress int) *Entry {
	return s.UpdateStatus(id, StatusProcessing, Patch{Progress: &progress})
}

// SetComplete marks an entry complete with its output and preview handles.
func (s *Store) SetComplete(id int64, result *handle.Handle, outputSize int64, preview *handle.Handle) *Entry {
	progress := 100
	return s.UpdateStatus(id, StatusComplete, Patch{
		Progress:   &progress,
		Result:     result,
		OutputSize: &outputSize,
		Preview:    preview,
	})
}

// SetError marks an entry failed.
func (s *Store) SetError(id int64, err error) *Entry {
	msg := "conversion failed"
	if err != nil {
		msg = err.Error()
	}
	return s.UpdateStatus(id, StatusError, Patch{Err: msg})
}

// Get returns a snapshot of one entry.
func (s *Store) Get(id int64) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// All returns snapshots of every entry in insertion order.
func (s *Store) All() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.entries[id])
	}
	return out
}

// Len reports the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Remove releases the entry's handles and deletes it. Unknown IDs are a
// no-op returning false.
func (s *Store) Remove(id int64) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	snapshot := *e
	listeners := s.listenerList()
	s.mu.Unlock()

	releaseHandles(e)
	s.notify(listeners, Event{Kind: EventRemoved, Entry: &snapshot})
	return true
}

// Clear releases every owned handle, empties the store, and notifies
// cleared exactly once.
func (s *Store) Clear() {
	s.mu.Lock()
	removed := make([]*Entry, 0, len(s.order))
	for _, id := range s.order {
		removed = append(removed, s.entries[id])
	}
	s.entries = make(map[int64]*Entry)
	s.order = nil
	listeners := s.listenerList()
	s.mu.Unlock()

	for _, e := range removed {
		releaseHandles(e)
	}
	s.notify(listeners, Event{Kind: EventCleared})
}

// Stats computes aggregate counters. TotalTime sums wall time over completed
// entries only.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Total: len(s.entries)}
	for _, e := range s.entries {
		st.TotalInputSize += e.Size
		switch e.Status {
		case StatusPending:
			st.Pending++
		case StatusProcessing:
			st.Processing++
		case StatusComplete:
			st.Completed++
			st.TotalOutputSize += e.OutputSize
			if !e.StartTime.IsZero() && !e.EndTime.IsZero() {
				st.TotalTime += e.EndTime.Sub(e.StartTime)
			}
		case StatusError:
			st.Errors++
		}
	}
	return st
}

// AddListener registers fn for all future events and returns an unsubscribe
// func. A panicking listener does not prevent other listeners from being
// notified and does not corrupt store state.
func (s *Store) AddListener(fn Listener) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) listenerList() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func (s *Store) notify(listeners []Listener, ev Event) {
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("queue listener panicked",
						zap.String("event", string(ev.Kind)),
						zap.Any("panic", r),
					)
				}
			}()
			fn(ev)
		}()
	}
}

func releaseHandles(e *Entry) {
	if e.Result != nil {
		e.Result.Release()
	}
	if e.Preview != nil && e.Preview != e.Result {
		e.Preview.Release()
	}
}
