package rooms

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a room id does not exist.
var ErrNotFound = errors.New("room not found")

// Peer is the transport-level handle used to deliver a message to one
// participant. Send must not block; it reports whether the message was
// accepted.
type Peer interface {
	Send(data []byte) bool
}

// Room is a point-in-time snapshot of a room, safe to hand out.
type Room struct {
	ID           string    `json:"id"`
	Creator      string    `json:"creator"`
	CreatedAt    time.Time `json:"createdAt"`
	Participants []string  `json:"participants"`
}

type room struct {
	id        string
	creator   string
	createdAt time.Time
	peers     map[string]Peer
}

// Store is the in-memory room table. All operations are serialized on the
// store mutex; membership snapshots and recipient sets are computed under the
// same lock as the mutation that produced them.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// NewStore builds an empty room table.
func NewStore() *Store {
	return &Store{rooms: make(map[string]*room)}
}

// NewID produces a short opaque room id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Create inserts a room with no participants if absent. Duplicate creation is
// not an error; the existing room is returned unchanged.
func (s *Store) Create(id, creator string) Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm := s.rooms[id]
	if rm == nil {
		rm = &room{
			id:        id,
			creator:   creator,
			createdAt: time.Now().UTC(),
			peers:     make(map[string]Peer),
		}
		s.rooms[id] = rm
	}
	return rm.snapshot()
}

// NewRoom generates a fresh id and inserts the room, retrying on the
// (unlikely) id collision.
func (s *Store) NewRoom(creator string) Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		id := NewID()
		if s.rooms[id] != nil {
			continue
		}
		rm := &room{
			id:        id,
			creator:   creator,
			createdAt: time.Now().UTC(),
			peers:     make(map[string]Peer),
		}
		s.rooms[id] = rm
		return rm.snapshot()
	}
}

// Get looks up a room by id, returning ErrNotFound when missing.
func (s *Store) Get(id string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rm := s.rooms[id]
	if rm == nil {
		return Room{}, ErrNotFound
	}
	return rm.snapshot(), nil
}

// Join inserts or replaces name -> peer in the room. A second join under the
// same name replaces the stored handle (last writer wins). Returns the full
// participant list and the member handles including the joiner; ok is false
// when the room does not exist.
func (s *Store) Join(id, name string, p Peer) (names []string, members []Peer, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm := s.rooms[id]
	if rm == nil {
		return nil, nil, false
	}
	rm.peers[name] = p
	return rm.names(), rm.recipients(""), true
}

// Leave removes the name from the room if present and reclaims the room the
// instant it becomes empty. Returns the remaining participant list and
// handles; ok is false when the room does not exist.
func (s *Store) Leave(id, name string) (names []string, remaining []Peer, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm := s.rooms[id]
	if rm == nil {
		return nil, nil, false
	}
	if _, present := rm.peers[name]; present {
		delete(rm.peers, name)
		s.deleteIfEmpty(rm)
	}
	return rm.names(), rm.recipients(""), true
}

// Evict is the disconnect-path removal: it acts only when the given handle
// still owns the membership, so a late disconnect from a connection that was
// already replaced (or explicitly left) is a no-op.
func (s *Store) Evict(id, name string, p Peer) (names []string, remaining []Peer, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm := s.rooms[id]
	if rm == nil {
		return nil, nil, false
	}
	if cur, present := rm.peers[name]; !present || cur != p {
		return nil, nil, false
	}
	delete(rm.peers, name)
	s.deleteIfEmpty(rm)
	return rm.names(), rm.recipients(""), true
}

// Route computes the recipient set for a directed signal: the target's handle
// when the target is currently in the room, otherwise every participant
// except the sender. The target check runs against the live map, not a cached
// list.
func (s *Store) Route(id, from, target string) ([]Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rm := s.rooms[id]
	if rm == nil {
		return nil, false
	}
	if target != "" {
		if p, present := rm.peers[target]; present {
			return []Peer{p}, true
		}
	}
	return rm.recipients(from), true
}

// Recipients returns every participant handle in the room minus the optional
// skipped identity.
func (s *Store) Recipients(id, skip string) ([]Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rm := s.rooms[id]
	if rm == nil {
		return nil, false
	}
	return rm.recipients(skip), true
}

// Rooms reports the number of live rooms.
func (s *Store) Rooms() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Participants reports the number of participants across all rooms.
func (s *Store) Participants() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rm := range s.rooms {
		n += len(rm.peers)
	}
	return n
}

// Expire reclaims rooms that are still empty ttl after creation. Rooms that
// have been joined are reclaimed synchronously when they empty, so this only
// catches rooms whose creator never arrived. Returns the number reclaimed.
func (s *Store) Expire(ttl time.Duration) int {
	cutoff := time.Now().UTC().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rm := range s.rooms {
		if len(rm.peers) == 0 && rm.createdAt.Before(cutoff) {
			delete(s.rooms, id)
			n++
		}
	}
	return n
}

// deleteIfEmpty removes the room iff it has no participants. Caller holds the
// write lock.
func (s *Store) deleteIfEmpty(rm *room) {
	if len(rm.peers) == 0 {
		delete(s.rooms, rm.id)
	}
}

func (r *room) snapshot() Room {
	return Room{
		ID:           r.id,
		Creator:      r.creator,
		CreatedAt:    r.createdAt,
		Participants: r.names(),
	}
}

func (r *room) names() []string {
	names := make([]string, 0, len(r.peers))
	for name := range r.peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *room) recipients(skip string) []Peer {
	peers := make([]Peer, 0, len(r.peers))
	for name, p := range r.peers {
		if name == skip {
			continue
		}
		peers = append(peers, p)
	}
	return peers
}
