package conference

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/olab/turktalk-server/internal/store"
)

// Conference is the top-level registry of topics. It routes inbound transport
// events to the owning topic and fans outbound commands back to the transport
// layer. One instance per process, constructed by the composition root and
// passed to every handler; there is no global state.
type Conference struct {
	log       *zerolog.Logger
	transport Transport
	maps      store.MapStore

	topics *xsync.MapOf[string, *Topic]
}

// New builds a conference. maps may be nil when no routing metadata source is
// configured; moderator assignments then carry an empty node list.
func New(transport Transport, maps store.MapStore, logger *zerolog.Logger) *Conference {
	return &Conference{
		log:       logger,
		transport: transport,
		maps:      maps,
		topics:    xsync.NewMapOf[string, *Topic](),
	}
}

// GetOrCreateTopic returns the named topic, creating it lazily on first
// reference. Topics are never explicitly destroyed.
func (c *Conference) GetOrCreateTopic(name string) *Topic {
	t, _ := c.topics.LoadOrCompute(name, func() *Topic {
		c.log.Info().Str("topic", name).Msg("topic created")
		return newTopic(c, name)
	})
	return t
}

// Topic returns the named topic if it exists.
func (c *Conference) Topic(name string) (*Topic, bool) {
	return c.topics.Load(name)
}

// Snapshots returns a point-in-time view of every topic, sorted by name.
func (c *Conference) Snapshots() []TopicSnapshot {
	var snaps []TopicSnapshot
	c.topics.Range(func(_ string, t *Topic) bool {
		snaps = append(snaps, t.Snapshot())
		return true
	})
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// OnConnected records a new transport connection. Nothing is routed until the
// connection registers a role.
func (c *Conference) OnConnected(connectionID string) {
	c.log.Debug().Str("conn", connectionID).Msg("connected")
}

// OnDisconnected resolves the owning topic entry for a bare connection id and
// invokes the appropriate removal path. Lookup and removal happen under one
// hold of the topic mutex: a stale close arriving after the user reconnected
// no longer matches and must not evict the live connection. Unknown
// connections are ignored.
func (c *Conference) OnDisconnected(connectionID string) {
	if connectionID == "" {
		return
	}

	var (
		info      ParticipantInfo
		role      Role
		topicName string
		removed   bool
	)
	c.topics.Range(func(name string, t *Topic) bool {
		if i, r, ok := t.RemoveByConnection(connectionID); ok {
			info, role, topicName, removed = i, r, name, true
			return false
		}
		return true
	})
	if !removed {
		c.log.Debug().Str("conn", connectionID).Msg("disconnect for unknown connection")
		return
	}

	c.log.Info().
		Str("conn", connectionID).
		Str("user", info.UserID).
		Str("topic", topicName).
		Stringer("role", role).
		Msg("participant disconnected")
}

// RegisterModerator seats a moderator in its remembered room when that room
// still exists, otherwise in the first unmoderated room, otherwise in a new
// one. Re-registration with a known user id rebinds the connection instead of
// duplicating the participant.
func (c *Conference) RegisterModerator(userID, nickname, topicName, connectionID string) error {
	if userID == "" || topicName == "" || connectionID == "" {
		return ErrBadRequest
	}
	c.evictFromOtherTopics(userID, topicName)

	t := c.GetOrCreateTopic(topicName)
	t.mu.Lock()
	defer t.mu.Unlock()

	if room, m := t.findModeratorLocked(userID); m != nil {
		stale := m.ConnectionID
		if stale != connectionID && stale != "" {
			c.unsubscribe(stale, m.CommandChannel())
			c.unsubscribe(stale, room.Channel())
			c.unsubscribe(stale, t.ModeratorsChannel())
		}
		m.ConnectionID = connectionID
		if nickname != "" {
			m.Nickname = nickname
		}
		room.addModerator(m)
		c.log.Info().Str("user", userID).Str("topic", topicName).Int("room", room.Index()).Msg("moderator reconnected")
		return nil
	}

	m := NewParticipant(RoleModerator, userID, nickname, topicName, connectionID)
	room := t.getOrCreateUnmoderatedRoomLocked(m)
	room.addModerator(m)
	c.log.Info().Str("user", userID).Str("topic", topicName).Int("room", room.Index()).Msg("moderator assigned")
	return nil
}

// RegisterLearner places a learner in the topic's atrium, or rebinds the
// connection if the user is already waiting or already seated in a room.
func (c *Conference) RegisterLearner(userID, nickname, topicName, connectionID string) error {
	if userID == "" || topicName == "" || connectionID == "" {
		return ErrBadRequest
	}
	c.evictFromOtherTopics(userID, topicName)

	t := c.GetOrCreateTopic(topicName)
	t.mu.Lock()
	defer t.mu.Unlock()

	if room, l := t.findLearnerRoomLocked(userID); l != nil {
		c.rebindConnection(l, nickname, connectionID)
		remote := ParticipantInfo{}
		if room.moderator != nil {
			remote = room.moderator.Info()
		}
		c.send(Command{Channel: l.CommandChannel(), Method: MethodRoomAssignment, Data: RoomAssignmentPayload{
			Local:  l.Info(),
			Remote: remote,
		}})
		c.log.Info().Str("user", userID).Str("topic", topicName).Int("room", room.Index()).Msg("learner reconnected to room")
		return nil
	}

	if l, ok := t.atrium.Get(userID); ok {
		c.rebindConnection(l, nickname, connectionID)
		c.send(Command{Channel: l.CommandChannel(), Method: MethodAtriumAssignment, Data: l.Info()})
		t.broadcastAtriumLocked()
		c.log.Info().Str("user", userID).Str("topic", topicName).Msg("learner reconnected to atrium")
		return nil
	}

	l := NewParticipant(RoleLearner, userID, nickname, topicName, connectionID)
	t.addToAtriumLocked(l)
	c.log.Info().Str("user", userID).Str("topic", topicName).Msg("learner queued in atrium")
	return nil
}

// AssignLearner atomically moves a waiting learner into the room held by the
// requesting moderator's connection. The learner is never observable in both
// the atrium and a room, nor in neither, and a concurrent second assignment
// of the same learner fails with ErrUnknownLearner.
func (c *Conference) AssignLearner(moderatorConnectionID, learnerUserID, topicName string) error {
	if moderatorConnectionID == "" || learnerUserID == "" || topicName == "" {
		return ErrBadRequest
	}
	t, ok := c.topics.Load(topicName)
	if !ok {
		c.log.Warn().Str("topic", topicName).Msg("assign to unknown topic")
		return ErrUnknownTopic
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.findRoomByModeratorConnLocked(moderatorConnectionID)
	if room == nil {
		c.log.Warn().Str("conn", moderatorConnectionID).Str("topic", topicName).Msg("assign from unknown moderator")
		return ErrUnknownModerator
	}
	l, ok := t.atrium.Get(learnerUserID)
	if !ok {
		c.log.Warn().Str("user", learnerUserID).Str("topic", topicName).Msg("assign of unknown or already-assigned learner")
		return ErrUnknownLearner
	}

	t.atrium.Remove(learnerUserID)
	room.addLearner(l)
	t.broadcastAtriumLocked()
	c.log.Info().Str("user", learnerUserID).Str("topic", topicName).Int("room", room.Index()).Msg("learner assigned")
	return nil
}

// SendMessage relays free text from a registered connection to an addressed
// channel and echoes it back to the sender's own command channel. The sender's
// identity and channel are snapshotted under the topic mutex; the live record
// may be rebound or reassigned concurrently.
func (c *Conference) SendMessage(fromConnectionID, toChannel, text string) error {
	if fromConnectionID == "" || toChannel == "" {
		return ErrBadRequest
	}

	var (
		found   bool
		echoCh  string
		payload MessagePayload
	)
	c.topics.Range(func(_ string, t *Topic) bool {
		t.mu.Lock()
		if p, ok := t.findByConnectionLocked(fromConnectionID); ok {
			payload = MessagePayload{
				From:     p.UserID,
				Nickname: p.Nickname,
				Channel:  toChannel,
				Text:     text,
			}
			echoCh = p.CommandChannel()
			found = true
		}
		t.mu.Unlock()
		return !found
	})
	if !found {
		c.log.Warn().Str("conn", fromConnectionID).Msg("message from unknown connection")
		return ErrUnknownConnection
	}

	c.send(Command{Channel: toChannel, Method: MethodMessage, Data: payload})
	c.send(Command{Channel: echoCh, Method: MethodEcho, Data: payload})
	return nil
}

// evictFromOtherTopics removes a user from any topic other than the one it is
// registering into. A learner may not wait in two atria at once.
func (c *Conference) evictFromOtherTopics(userID, exceptTopic string) {
	c.topics.Range(func(name string, t *Topic) bool {
		if name == exceptTopic {
			return true
		}
		if t.RemoveUser(userID) {
			c.log.Info().Str("user", userID).Str("topic", name).Msg("participant moved out of prior topic")
		}
		return true
	})
}

// send serializes a command and hands it to the transport. Failures are
// logged and swallowed: a missed notification is superseded by the target's
// own reconnect flow, which replays current state.
func (c *Conference) send(cmd Command) {
	payload, err := json.Marshal(cmd.Data)
	if err != nil {
		c.log.Error().Err(err).Str("method", cmd.Method).Msg("marshal command")
		return
	}
	if err := c.transport.Send(cmd.Channel, cmd.Method, payload); err != nil {
		c.log.Warn().Err(err).Str("method", cmd.Method).Str("channel", cmd.Channel).Msg("transport send failed")
	}
}

func (c *Conference) subscribe(connectionID, group string) {
	if connectionID == "" || group == "" {
		return
	}
	c.transport.Subscribe(connectionID, group)
}

func (c *Conference) unsubscribe(connectionID, group string) {
	if connectionID == "" || group == "" {
		return
	}
	c.transport.Unsubscribe(connectionID, group)
}

// rebind moves a connection from one command channel to another, e.g. when a
// learner's channel becomes room-scoped on assignment.
func (c *Conference) rebind(connectionID, oldGroup, newGroup string) {
	if oldGroup == newGroup {
		return
	}
	c.unsubscribe(connectionID, oldGroup)
	c.subscribe(connectionID, newGroup)
}

// rebindConnection updates a participant's transient connection id in place,
// unsubscribing the stale connection so addressed messages keep reaching the
// participant after a reconnect.
func (c *Conference) rebindConnection(p *Participant, nickname, connectionID string) {
	stale := p.ConnectionID
	ch := p.CommandChannel()
	if stale != connectionID && stale != "" {
		c.unsubscribe(stale, ch)
	}
	p.ConnectionID = connectionID
	if nickname != "" {
		p.Nickname = nickname
	}
	c.subscribe(connectionID, ch)
}

func (c *Conference) mapNodes(topicName string) []store.MapNode {
	if c.maps == nil {
		return nil
	}
	nodes, err := c.maps.MapNodesForTopic(context.Background(), topicName)
	if err != nil {
		c.log.Warn().Err(err).Str("topic", topicName).Msg("map node lookup failed")
		return nil
	}
	return nodes
}
