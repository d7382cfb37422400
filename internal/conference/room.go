package conference

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// Room pairs one moderator with zero or more learners. A room is created on
// the first moderator claim and destroyed when its moderator disconnects,
// after its learners have been cascaded back to the topic's atrium.
//
// All mutating methods are called with the owning topic's mutex held.
type Room struct {
	conf      *Conference
	topic     *Topic
	index     int
	moderator *Participant
	learners  *xsync.MapOf[string, *Participant]
}

func newRoom(conf *Conference, topic *Topic, index int) *Room {
	return &Room{
		conf:     conf,
		topic:    topic,
		index:    index,
		learners: xsync.NewMapOf[string, *Participant](),
	}
}

// Index returns the room's stable index within its topic. Indices are never
// reused while the topic lives.
func (r *Room) Index() int {
	return r.index
}

// Channel is the transport group carrying room-wide traffic.
func (r *Room) Channel() string {
	return fmt.Sprintf("%s/%d", r.topic.name, r.index)
}

// IsModerated reports whether a moderator currently holds the room.
func (r *Room) IsModerated() bool {
	return r.moderator != nil
}

// Moderator returns the current moderator, or nil.
func (r *Room) Moderator() *Participant {
	return r.moderator
}

// Learners returns a snapshot of the assigned learners.
func (r *Room) Learners() []*Participant {
	out := make([]*Participant, 0, r.learners.Size())
	r.learners.Range(func(_ string, l *Participant) bool {
		out = append(out, l)
		return true
	})
	return out
}

// HasParticipant reports membership by user id, moderator included.
func (r *Room) HasParticipant(userID string) bool {
	if r.moderator != nil && r.moderator.UserID == userID {
		return true
	}
	_, ok := r.learners.Load(userID)
	return ok
}

// addModerator seats the moderator, subscribes its connection to the room and
// moderators channels, and replays current state: the assignment ack with
// routing metadata, the atrium contents, and the learners already present.
// Learners already in the room are told the moderator is (re)connected.
func (r *Room) addModerator(m *Participant) {
	r.moderator = m
	m.RoomIndex = r.index

	ch := m.CommandChannel()
	r.conf.subscribe(m.ConnectionID, ch)
	r.conf.subscribe(m.ConnectionID, r.Channel())
	r.conf.subscribe(m.ConnectionID, r.topic.ModeratorsChannel())

	r.conf.send(Command{Channel: ch, Method: MethodModeratorAssignment, Data: ModeratorAssignmentPayload{
		Moderator:   m.Info(),
		RoomChannel: r.Channel(),
		MapNodes:    r.conf.mapNodes(r.topic.name),
	}})
	r.conf.send(Command{Channel: ch, Method: MethodAtriumUpdate, Data: participantInfos(r.topic.atrium.Contents())})
	r.conf.send(Command{Channel: ch, Method: MethodLearnerList, Data: participantInfos(r.Learners())})

	r.learners.Range(func(_ string, l *Participant) bool {
		r.conf.send(Command{Channel: l.CommandChannel(), Method: MethodRoomAssignment, Data: RoomAssignmentPayload{
			Local:  l.Info(),
			Remote: m.Info(),
		}})
		return true
	})
}

// addLearner seats a learner, rebinding its command channel to the room scope,
// and notifies both sides of the pairing.
func (r *Room) addLearner(l *Participant) {
	prior := l.CommandChannel()
	l.RoomIndex = r.index
	r.learners.Store(l.UserID, l)
	r.conf.rebind(l.ConnectionID, prior, l.CommandChannel())

	remote := ParticipantInfo{}
	if r.moderator != nil {
		remote = r.moderator.Info()
	}
	r.conf.send(Command{Channel: l.CommandChannel(), Method: MethodRoomAssignment, Data: RoomAssignmentPayload{
		Local:  l.Info(),
		Remote: remote,
	}})
	if r.moderator != nil {
		r.conf.send(Command{Channel: r.moderator.CommandChannel(), Method: MethodLearnerAssignment, Data: l.Info()})
	}
}

// removeLearner detaches a single learner and sends it an unassignment
// notice. The room stays moderated if the moderator is still present.
func (r *Room) removeLearner(l *Participant) {
	r.learners.Delete(l.UserID)
	ch := l.CommandChannel()
	r.conf.send(Command{Channel: ch, Method: MethodRoomUnassignment, Data: RoomUnassignmentPayload{
		Local:  l.Info(),
		Reason: "left room",
	}})
	r.conf.unsubscribe(l.ConnectionID, ch)
	l.RoomIndex = UnassignedRoom
}

// removeModerator tears the room down: every learner is told its session
// ended and is re-inserted into the topic's atrium, never silently dropped.
// The room transitions to empty and the topic deletes it afterwards.
func (r *Room) removeModerator() {
	m := r.moderator

	r.learners.Range(func(_ string, l *Participant) bool {
		ch := l.CommandChannel()
		r.conf.send(Command{Channel: ch, Method: MethodRoomUnassignment, Data: RoomUnassignmentPayload{
			Local:  l.Info(),
			Reason: "moderator disconnected",
		}})
		r.conf.unsubscribe(l.ConnectionID, ch)
		l.RoomIndex = UnassignedRoom
		r.learners.Delete(l.UserID)
		r.topic.addToAtriumLocked(l)
		return true
	})

	if m != nil {
		r.conf.unsubscribe(m.ConnectionID, m.CommandChannel())
		r.conf.unsubscribe(m.ConnectionID, r.Channel())
		r.conf.unsubscribe(m.ConnectionID, r.topic.ModeratorsChannel())
	}
	r.moderator = nil
}
