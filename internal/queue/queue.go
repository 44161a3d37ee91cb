package queue

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go2tv.app/castqueue/internal/domain"
)

type RepeatMode string

const (
	RepeatNone RepeatMode = "NONE"
	RepeatOne  RepeatMode = "ONE"
	RepeatAll  RepeatMode = "ALL"
)

// ParseRepeatMode validates a caller-supplied repeat mode.
func ParseRepeatMode(raw string) (RepeatMode, error) {
	switch RepeatMode(strings.ToUpper(strings.TrimSpace(raw))) {
	case RepeatNone:
		return RepeatNone, nil
	case RepeatOne:
		return RepeatOne, nil
	case RepeatAll:
		return RepeatAll, nil
	default:
		return "", domain.NewCastError(domain.KindInvalidRepeatMode, "",
			"repeat mode must be NONE, ONE or ALL, got %q", raw)
	}
}

// Store is the ordered track list with a current-position pointer.
// currentIndex is -1 or a valid index into entries; originalOrder is
// non-empty only while shuffled is true.
type Store struct {
	mu            sync.Mutex
	entries       []domain.QueueEntry
	currentIndex  int
	shuffled      bool
	repeatMode    RepeatMode
	originalOrder []domain.QueueEntry
	rnd           *rand.Rand
}

func NewStore() *Store {
	return &Store{
		currentIndex: -1,
		repeatMode:   RepeatNone,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Replace sets the queue contents wholesale. Any shuffle episode in
// progress ends: the stale snapshot is dropped along with the old entries.
func (s *Store) Replace(tracks []domain.Track) domain.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = entriesFor(tracks)
	s.shuffled = false
	s.originalOrder = nil
	if len(s.entries) > 0 {
		s.currentIndex = 0
	} else {
		s.currentIndex = -1
	}
	return domain.Success("queue replaced with %d track(s)", len(s.entries))
}

// Add appends tracks to the end of the queue.
func (s *Store) Add(tracks []domain.Track) domain.Outcome {
	if len(tracks) == 0 {
		return domain.Info("no tracks to add")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, track := range tracks {
		s.entries = append(s.entries, domain.QueueEntry{Track: track})
	}
	s.renumberLocked()
	return domain.Success("added %d track(s), queue now has %d", len(tracks), len(s.entries))
}

// RemoveAt removes one entry. Removing at or before the current position
// shifts currentIndex down so it keeps pointing at the same logical entry
// (or -1 if the current entry itself was removed and nothing precedes it).
func (s *Store) RemoveAt(index int) domain.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.entries) {
		return domain.FromError(domain.NewCastError(domain.KindQueueIndex, "",
			"index %d out of range (queue has %d entries)", index, len(s.entries)))
	}

	removed := s.entries[index].Track
	s.entries = append(s.entries[:index], s.entries[index+1:]...)
	if index <= s.currentIndex {
		s.currentIndex--
		if s.currentIndex < -1 {
			s.currentIndex = -1
		}
	}
	s.renumberLocked()
	return domain.Success("removed %q from position %d", removed.Title, index)
}

// Clear resets the queue to its default empty state.
func (s *Store) Clear() domain.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.originalOrder = nil
	s.shuffled = false
	s.currentIndex = -1
	return domain.Success("queue cleared")
}

// Shuffle applies a uniform random permutation. The pre-shuffle order is
// snapshotted exactly once per shuffle episode; re-shuffling keeps the
// existing snapshot. The current position is reset to -1.
func (s *Store) Shuffle() domain.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) <= 1 {
		return domain.Info("queue has %d track(s), nothing to shuffle", len(s.entries))
	}

	if !s.shuffled {
		s.originalOrder = append([]domain.QueueEntry{}, s.entries...)
		s.shuffled = true
	}

	// Fisher-Yates.
	for i := len(s.entries) - 1; i > 0; i-- {
		j := s.rnd.Intn(i + 1)
		s.entries[i], s.entries[j] = s.entries[j], s.entries[i]
	}
	s.renumberLocked()
	s.currentIndex = -1
	return domain.Success("queue shuffled (%d tracks)", len(s.entries))
}

// RestoreOriginalOrder puts back the pre-shuffle ordering. The current
// position is reset to -1 rather than remapped; callers depend on the
// reset.
func (s *Store) RestoreOriginalOrder() domain.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.shuffled {
		return domain.Info("queue is not shuffled")
	}

	s.entries = append([]domain.QueueEntry{}, s.originalOrder...)
	s.originalOrder = nil
	s.shuffled = false
	s.renumberLocked()
	s.currentIndex = -1
	return domain.Success("original queue order restored (%d tracks)", len(s.entries))
}

func (s *Store) SetRepeatMode(raw string) domain.Outcome {
	mode, err := ParseRepeatMode(raw)
	if err != nil {
		return domain.FromError(err)
	}

	s.mu.Lock()
	s.repeatMode = mode
	s.mu.Unlock()
	return domain.Success("repeat mode set to %s", mode)
}

// Advance computes the index that plays after the current one, per the
// repeat policy. It does not move the pointer or perform playback. The
// second return is false when the queue is finished (terminal, not an
// error) or empty.
func (s *Store) Advance() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked()
}

func (s *Store) advanceLocked() (int, bool) {
	if len(s.entries) == 0 || s.currentIndex < 0 {
		return -1, false
	}
	switch {
	case s.repeatMode == RepeatOne:
		return s.currentIndex, true
	case s.currentIndex < len(s.entries)-1:
		return s.currentIndex + 1, true
	case s.repeatMode == RepeatAll:
		return 0, true
	default:
		return -1, false
	}
}

// SetCurrentIndex moves the pointer. -1 means "none".
func (s *Store) SetCurrentIndex(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < -1 || index >= len(s.entries) {
		return domain.NewCastError(domain.KindQueueIndex, "",
			"index %d out of range (queue has %d entries)", index, len(s.entries))
	}
	s.currentIndex = index
	return nil
}

func (s *Store) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentIndex
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) RepeatMode() RepeatMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repeatMode
}

func (s *Store) Shuffled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuffled
}

// EntryAt returns a copy of the entry at index.
func (s *Store) EntryAt(index int) (domain.QueueEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.entries) {
		return domain.QueueEntry{}, false
	}
	return s.entries[index], true
}

// Current returns the entry under the pointer, if any.
func (s *Store) Current() (domain.QueueEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentIndex < 0 || s.currentIndex >= len(s.entries) {
		return domain.QueueEntry{}, false
	}
	return s.entries[s.currentIndex], true
}

// Entries returns a snapshot copy of the queue contents.
func (s *Store) Entries() []domain.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.QueueEntry{}, s.entries...)
}

func (s *Store) renumberLocked() {
	for i := range s.entries {
		s.entries[i].Position = i
	}
}

func entriesFor(tracks []domain.Track) []domain.QueueEntry {
	return lo.Map(tracks, func(track domain.Track, i int) domain.QueueEntry {
		return domain.QueueEntry{Track: track, Position: i}
	})
}
