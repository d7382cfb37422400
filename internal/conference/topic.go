package conference

import (
	"sort"
	"sync"
)

// Topic owns one atrium and a growable set of rooms for a single discussion
// subject. Its mutex is the engine's one true critical section: room
// get-or-create, learner assignment and participant removal are serialized
// per topic so concurrent moderator connects can neither double-create an
// idle room nor double-claim one.
type Topic struct {
	name string
	conf *Conference

	atrium *Atrium

	mu       sync.Mutex
	rooms    map[int]*Room
	nextRoom int
}

func newTopic(conf *Conference, name string) *Topic {
	return &Topic{
		name:   name,
		conf:   conf,
		atrium: NewAtrium(),
		rooms:  make(map[int]*Room),
	}
}

// Name returns the topic name.
func (t *Topic) Name() string {
	return t.name
}

// ModeratorsChannel is the transport group every current moderator of this
// topic is subscribed to for broadcast updates.
func (t *Topic) ModeratorsChannel() string {
	return t.name + "/moderators"
}

// Atrium exposes the topic's waiting area.
func (t *Topic) Atrium() *Atrium {
	return t.atrium
}

// Room returns the room at the given index, if it still exists.
func (t *Topic) Room(index int) (*Room, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[index]
	return r, ok
}

// RoomCount reports the number of live rooms.
func (t *Topic) RoomCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

// GetOrCreateUnmoderatedRoom resolves the room a connecting moderator should
// claim: the room it still holds from a prior connection, else the first
// unmoderated room, else a freshly appended one.
func (t *Topic) GetOrCreateUnmoderatedRoom(m *Participant) *Room {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getOrCreateUnmoderatedRoomLocked(m)
}

func (t *Topic) getOrCreateUnmoderatedRoomLocked(m *Participant) *Room {
	if m.RoomIndex != UnassignedRoom {
		if r, ok := t.rooms[m.RoomIndex]; ok {
			return r
		}
		m.RoomIndex = UnassignedRoom
	}
	for _, idx := range t.roomIndicesLocked() {
		if r := t.rooms[idx]; !r.IsModerated() {
			return r
		}
	}
	r := newRoom(t.conf, t, t.nextRoom)
	t.rooms[t.nextRoom] = r
	t.nextRoom++
	return r
}

// roomIndicesLocked returns the live room indices in ascending order; map
// iteration order would otherwise make "first unmoderated room" unstable.
func (t *Topic) roomIndicesLocked() []int {
	idxs := make([]int, 0, len(t.rooms))
	for idx := range t.rooms {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	return idxs
}

// AddToAtrium queues a learner in the waiting area and broadcasts the updated
// contents to the topic's moderators.
func (t *Topic) AddToAtrium(l *Participant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addToAtriumLocked(l)
}

func (t *Topic) addToAtriumLocked(l *Participant) {
	l.TopicName = t.name
	l.RoomIndex = UnassignedRoom
	t.atrium.Upsert(l)
	ch := l.CommandChannel()
	t.conf.subscribe(l.ConnectionID, ch)
	t.conf.send(Command{Channel: ch, Method: MethodAtriumAssignment, Data: l.Info()})
	t.broadcastAtriumLocked()
}

func (t *Topic) broadcastAtriumLocked() {
	t.conf.send(Command{
		Channel: t.ModeratorsChannel(),
		Method:  MethodAtriumUpdate,
		Data:    participantInfos(t.atrium.Contents()),
	})
}

// RemoveParticipant takes the departing participant out of the atrium or out
// of whichever room holds it. A room left without its moderator is deleted
// once the eviction cascade has completed. Returns true if the participant
// was found anywhere in the topic.
func (t *Topic) RemoveParticipant(p *Participant) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeUserLocked(p.UserID)
}

// RemoveUser removes a participant by user id, resolving and removing in one
// critical section.
func (t *Topic) RemoveUser(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeUserLocked(userID)
}

// RemoveByConnection resolves the participant holding the given connection and
// removes it under a single hold of the topic mutex. A disconnect racing a
// reconnect of the same user finds nothing here: the surviving record already
// carries the new connection id. Returns the removed participant's wire info.
func (t *Topic) RemoveByConnection(connectionID string) (ParticipantInfo, Role, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.findByConnectionLocked(connectionID)
	if !ok {
		return ParticipantInfo{}, RoleLearner, false
	}
	info, role := p.Info(), p.Role
	t.removeUserLocked(p.UserID)
	return info, role, true
}

func (t *Topic) removeUserLocked(userID string) bool {
	if l, ok := t.atrium.Get(userID); ok {
		t.atrium.Remove(l.UserID)
		t.conf.unsubscribe(l.ConnectionID, l.CommandChannel())
		t.broadcastAtriumLocked()
		return true
	}

	for _, idx := range t.roomIndicesLocked() {
		r := t.rooms[idx]
		if r.moderator != nil && r.moderator.UserID == userID {
			r.removeModerator()
			delete(t.rooms, idx)
			return true
		}
		if l, ok := r.learners.Load(userID); ok {
			r.removeLearner(l)
			return true
		}
	}
	return false
}

// findModeratorLocked locates the room a moderator user still holds.
func (t *Topic) findModeratorLocked(userID string) (*Room, *Participant) {
	for _, idx := range t.roomIndicesLocked() {
		r := t.rooms[idx]
		if r.moderator != nil && r.moderator.UserID == userID {
			return r, r.moderator
		}
	}
	return nil, nil
}

// findLearnerRoomLocked locates the room holding a learner user.
func (t *Topic) findLearnerRoomLocked(userID string) (*Room, *Participant) {
	for _, idx := range t.roomIndicesLocked() {
		r := t.rooms[idx]
		if l, ok := r.learners.Load(userID); ok {
			return r, l
		}
	}
	return nil, nil
}

// findRoomByModeratorConnLocked resolves the room whose moderator currently
// holds the given connection.
func (t *Topic) findRoomByModeratorConnLocked(connectionID string) *Room {
	for _, idx := range t.roomIndicesLocked() {
		r := t.rooms[idx]
		if r.moderator != nil && r.moderator.ConnectionID == connectionID {
			return r
		}
	}
	return nil
}

// findByConnectionLocked resolves any participant by transient connection id.
func (t *Topic) findByConnectionLocked(connectionID string) (*Participant, bool) {
	if l, ok := t.atrium.FindByConnection(connectionID); ok {
		return l, true
	}
	for _, idx := range t.roomIndicesLocked() {
		r := t.rooms[idx]
		if r.moderator != nil && r.moderator.ConnectionID == connectionID {
			return r.moderator, true
		}
		var found *Participant
		r.learners.Range(func(_ string, l *Participant) bool {
			if l.ConnectionID == connectionID {
				found = l
				return false
			}
			return true
		})
		if found != nil {
			return found, true
		}
	}
	return nil, false
}

// TopicSnapshot is a point-in-time view of a topic for inspection APIs.
type TopicSnapshot struct {
	Name   string            `json:"name"`
	Atrium []ParticipantInfo `json:"atrium"`
	Rooms  []RoomSnapshot    `json:"rooms"`
}

// RoomSnapshot is a point-in-time view of a room.
type RoomSnapshot struct {
	Index     int               `json:"index"`
	Channel   string            `json:"channel"`
	Moderated bool              `json:"moderated"`
	Moderator string            `json:"moderator,omitempty"`
	Learners  []ParticipantInfo `json:"learners"`
}

// Snapshot captures the topic's occupancy.
func (t *Topic) Snapshot() TopicSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := TopicSnapshot{
		Name:   t.name,
		Atrium: participantInfos(t.atrium.Contents()),
		Rooms:  make([]RoomSnapshot, 0, len(t.rooms)),
	}
	for _, idx := range t.roomIndicesLocked() {
		r := t.rooms[idx]
		rs := RoomSnapshot{
			Index:     r.index,
			Channel:   r.Channel(),
			Moderated: r.IsModerated(),
			Learners:  participantInfos(r.Learners()),
		}
		if r.moderator != nil {
			rs.Moderator = r.moderator.Nickname
		}
		snap.Rooms = append(snap.Rooms, rs)
	}
	return snap
}
