package conference

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestRegisterLearnerQueuesInAtrium(t *testing.T) {
	c, tr := newTestConference()

	if err := c.RegisterLearner("alice", "Alice", "T1", "conn-a"); err != nil {
		t.Fatalf("register learner: %v", err)
	}

	topic, ok := c.Topic("T1")
	if !ok {
		t.Fatalf("topic not created")
	}
	if _, ok := topic.Atrium().Get("alice"); !ok {
		t.Fatalf("alice not in atrium")
	}

	ch := "T1//learner/alice"
	if !tr.subscribed("conn-a", ch) {
		t.Fatalf("connection not subscribed to command channel %q", ch)
	}
	tr.lastTo(t, ch, MethodAtriumAssignment)

	update := tr.lastTo(t, "T1/moderators", MethodAtriumUpdate)
	if !strings.Contains(update.Payload, `"alice"`) {
		t.Fatalf("atrium update missing alice: %s", update.Payload)
	}
}

func TestRegisterLearnerRejectsEmptyIdentifiers(t *testing.T) {
	c, _ := newTestConference()

	for _, args := range [][3]string{
		{"", "T1", "conn"},
		{"alice", "", "conn"},
		{"alice", "T1", ""},
	} {
		if err := c.RegisterLearner(args[0], "nick", args[1], args[2]); !errors.Is(err, ErrBadRequest) {
			t.Fatalf("expected ErrBadRequest for %v, got %v", args, err)
		}
	}
}

func TestRegisterModeratorClaimsRoomAndReceivesState(t *testing.T) {
	c, tr := newTestConference()

	if err := c.RegisterLearner("alice", "Alice", "T1", "conn-a"); err != nil {
		t.Fatalf("register learner: %v", err)
	}
	if err := c.RegisterModerator("bob", "Bob", "T1", "conn-b"); err != nil {
		t.Fatalf("register moderator: %v", err)
	}

	topic, _ := c.Topic("T1")
	if topic.RoomCount() != 1 {
		t.Fatalf("expected 1 room, got %d", topic.RoomCount())
	}
	room, ok := topic.Room(0)
	if !ok || !room.IsModerated() || room.Moderator().UserID != "bob" {
		t.Fatalf("room 0 not moderated by bob")
	}

	modCh := "T1/0/moderator/bob"
	for _, group := range []string{modCh, "T1/0", "T1/moderators"} {
		if !tr.subscribed("conn-b", group) {
			t.Fatalf("moderator not subscribed to %q", group)
		}
	}

	assignment := tr.lastTo(t, modCh, MethodModeratorAssignment)
	var payload ModeratorAssignmentPayload
	if err := json.Unmarshal([]byte(assignment.Payload), &payload); err != nil {
		t.Fatalf("unmarshal moderator assignment: %v", err)
	}
	if payload.RoomChannel != "T1/0" || len(payload.MapNodes) != 1 || payload.MapNodes[0].Name != "intro" {
		t.Fatalf("unexpected assignment payload: %+v", payload)
	}

	update := tr.lastTo(t, modCh, MethodAtriumUpdate)
	if !strings.Contains(update.Payload, `"alice"`) {
		t.Fatalf("atrium contents missing alice: %s", update.Payload)
	}
	tr.lastTo(t, modCh, MethodLearnerList)
}

func TestAssignLearnerMovesAtriumToRoom(t *testing.T) {
	c, tr := newTestConference()

	mustRegisterPair(t, c)
	tr.reset()

	if err := c.AssignLearner("conn-b", "alice", "T1"); err != nil {
		t.Fatalf("assign learner: %v", err)
	}

	topic, _ := c.Topic("T1")
	if _, ok := topic.Atrium().Get("alice"); ok {
		t.Fatalf("alice still in atrium after assignment")
	}
	room, _ := topic.Room(0)
	if !room.HasParticipant("alice") {
		t.Fatalf("alice not in room 0")
	}

	learnerCh := "T1/0/learner/alice"
	if !tr.subscribed("conn-a", learnerCh) {
		t.Fatalf("learner connection not rebound to room-scoped channel")
	}
	if tr.subscribed("conn-a", "T1//learner/alice") {
		t.Fatalf("learner connection still subscribed to atrium-scoped channel")
	}

	var pairing RoomAssignmentPayload
	got := tr.lastTo(t, learnerCh, MethodRoomAssignment)
	if err := json.Unmarshal([]byte(got.Payload), &pairing); err != nil {
		t.Fatalf("unmarshal room assignment: %v", err)
	}
	if pairing.Local.UserID != "alice" || pairing.Remote.UserID != "bob" {
		t.Fatalf("unexpected pairing: %+v", pairing)
	}

	tr.lastTo(t, "T1/0/moderator/bob", MethodLearnerAssignment)

	update := tr.lastTo(t, "T1/moderators", MethodAtriumUpdate)
	if update.Payload != "[]" {
		t.Fatalf("expected empty atrium broadcast, got %s", update.Payload)
	}
}

func TestAssignLearnerFailsForUnknownTargets(t *testing.T) {
	c, _ := newTestConference()
	mustRegisterPair(t, c)

	if err := c.AssignLearner("conn-b", "alice", "nope"); !errors.Is(err, ErrUnknownTopic) {
		t.Fatalf("expected ErrUnknownTopic, got %v", err)
	}
	if err := c.AssignLearner("conn-x", "alice", "T1"); !errors.Is(err, ErrUnknownModerator) {
		t.Fatalf("expected ErrUnknownModerator, got %v", err)
	}
	if err := c.AssignLearner("conn-b", "ghost", "T1"); !errors.Is(err, ErrUnknownLearner) {
		t.Fatalf("expected ErrUnknownLearner, got %v", err)
	}

	// A second assignment of the same learner must fail: once removed from
	// the atrium the learner is not assignable again.
	if err := c.AssignLearner("conn-b", "alice", "T1"); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	if err := c.AssignLearner("conn-b", "alice", "T1"); !errors.Is(err, ErrUnknownLearner) {
		t.Fatalf("expected ErrUnknownLearner on reassign, got %v", err)
	}
}

func TestModeratorDisconnectCascadesLearnersToAtrium(t *testing.T) {
	c, tr := newTestConference()

	if err := c.RegisterLearner("alice", "Alice", "T1", "conn-a"); err != nil {
		t.Fatalf("register alice: %v", err)
	}
	if err := c.RegisterLearner("carol", "Carol", "T1", "conn-c"); err != nil {
		t.Fatalf("register carol: %v", err)
	}
	if err := c.RegisterModerator("bob", "Bob", "T1", "conn-b"); err != nil {
		t.Fatalf("register bob: %v", err)
	}
	for _, learner := range []string{"alice", "carol"} {
		if err := c.AssignLearner("conn-b", learner, "T1"); err != nil {
			t.Fatalf("assign %s: %v", learner, err)
		}
	}
	tr.reset()

	c.OnDisconnected("conn-b")

	topic, _ := c.Topic("T1")
	if topic.RoomCount() != 0 {
		t.Fatalf("room not destroyed after moderator disconnect")
	}
	for _, learner := range []string{"alice", "carol"} {
		if _, ok := topic.Atrium().Get(learner); !ok {
			t.Fatalf("%s lost during eviction cascade", learner)
		}
	}

	tr.lastTo(t, "T1/0/learner/alice", MethodRoomUnassignment)
	tr.lastTo(t, "T1/0/learner/carol", MethodRoomUnassignment)
	tr.lastTo(t, "T1//learner/alice", MethodAtriumAssignment)
	tr.lastTo(t, "T1//learner/carol", MethodAtriumAssignment)
}

func TestLearnerDisconnectLeavesRoomModerated(t *testing.T) {
	c, _ := newTestConference()
	mustRegisterPair(t, c)
	if err := c.AssignLearner("conn-b", "alice", "T1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	c.OnDisconnected("conn-a")

	topic, _ := c.Topic("T1")
	room, ok := topic.Room(0)
	if !ok || !room.IsModerated() {
		t.Fatalf("room lost its moderator with the learner")
	}
	if room.HasParticipant("alice") {
		t.Fatalf("alice still in room after disconnect")
	}
	if _, ok := topic.Atrium().Get("alice"); ok {
		t.Fatalf("disconnected learner must not be re-queued")
	}
}

func TestLearnerReconnectMergesIdentity(t *testing.T) {
	c, tr := newTestConference()

	if err := c.RegisterLearner("alice", "Alice", "T1", "conn-1"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := c.RegisterLearner("alice", "Alice", "T1", "conn-2"); err != nil {
		t.Fatalf("second register: %v", err)
	}

	topic, _ := c.Topic("T1")
	if topic.Atrium().Len() != 1 {
		t.Fatalf("reconnect duplicated the learner: %d entries", topic.Atrium().Len())
	}
	l, _ := topic.Atrium().Get("alice")
	if l.ConnectionID != "conn-2" {
		t.Fatalf("connection id not updated: %s", l.ConnectionID)
	}

	ch := "T1//learner/alice"
	if tr.subscribed("conn-1", ch) {
		t.Fatalf("stale connection still subscribed")
	}
	if !tr.subscribed("conn-2", ch) {
		t.Fatalf("new connection not subscribed")
	}
}

func TestAssignedLearnerReconnectKeepsRoomMembership(t *testing.T) {
	c, tr := newTestConference()
	mustRegisterPair(t, c)
	if err := c.AssignLearner("conn-b", "alice", "T1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	tr.reset()

	if err := c.RegisterLearner("alice", "Alice", "T1", "conn-a2"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	topic, _ := c.Topic("T1")
	room, _ := topic.Room(0)
	if !room.HasParticipant("alice") {
		t.Fatalf("room membership lost on reconnect")
	}
	if _, ok := topic.Atrium().Get("alice"); ok {
		t.Fatalf("reconnected learner duplicated into atrium")
	}

	got := tr.lastTo(t, "T1/0/learner/alice", MethodRoomAssignment)
	var pairing RoomAssignmentPayload
	if err := json.Unmarshal([]byte(got.Payload), &pairing); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pairing.Remote.UserID != "bob" {
		t.Fatalf("replayed pairing missing moderator: %+v", pairing)
	}
}

func TestModeratorReconnectRejoinsSameRoom(t *testing.T) {
	c, tr := newTestConference()
	mustRegisterPair(t, c)
	if err := c.AssignLearner("conn-b", "alice", "T1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	tr.reset()

	if err := c.RegisterModerator("bob", "Bob", "T1", "conn-b2"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	topic, _ := c.Topic("T1")
	if topic.RoomCount() != 1 {
		t.Fatalf("reconnect created a second room")
	}
	room, _ := topic.Room(0)
	if room.Moderator().ConnectionID != "conn-b2" {
		t.Fatalf("moderator connection not rebound")
	}
	if !room.HasParticipant("alice") {
		t.Fatalf("learner lost on moderator reconnect")
	}

	list := tr.lastTo(t, "T1/0/moderator/bob", MethodLearnerList)
	if !strings.Contains(list.Payload, `"alice"`) {
		t.Fatalf("learner list replay missing alice: %s", list.Payload)
	}
	// The already-assigned learner is told its moderator is back.
	tr.lastTo(t, "T1/0/learner/alice", MethodRoomAssignment)
}

func TestLearnerMovesBetweenTopics(t *testing.T) {
	c, _ := newTestConference()

	if err := c.RegisterLearner("alice", "Alice", "T1", "conn-1"); err != nil {
		t.Fatalf("register T1: %v", err)
	}
	if err := c.RegisterLearner("alice", "Alice", "T2", "conn-2"); err != nil {
		t.Fatalf("register T2: %v", err)
	}

	t1, _ := c.Topic("T1")
	t2, _ := c.Topic("T2")
	if _, ok := t1.Atrium().Get("alice"); ok {
		t.Fatalf("alice still waiting in prior topic")
	}
	if _, ok := t2.Atrium().Get("alice"); !ok {
		t.Fatalf("alice not waiting in new topic")
	}
}

func TestConcurrentModeratorsGetDistinctRooms(t *testing.T) {
	c, _ := newTestConference()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("mod-%d", i)
			connID := fmt.Sprintf("conn-%d", i)
			if err := c.RegisterModerator(userID, userID, "T1", connID); err != nil {
				t.Errorf("register %s: %v", userID, err)
			}
		}(i)
	}
	wg.Wait()

	topic, _ := c.Topic("T1")
	if topic.RoomCount() != n {
		t.Fatalf("expected %d rooms, got %d", n, topic.RoomCount())
	}

	seen := make(map[string]bool)
	for _, snap := range topic.Snapshot().Rooms {
		if !snap.Moderated {
			t.Fatalf("room %d left unmoderated", snap.Index)
		}
		if seen[snap.Moderator] {
			t.Fatalf("moderator %s holds two rooms", snap.Moderator)
		}
		seen[snap.Moderator] = true
	}
}

func TestConcurrentAssignHasExactlyOneWinner(t *testing.T) {
	c, _ := newTestConference()

	if err := c.RegisterLearner("alice", "Alice", "T1", "conn-a"); err != nil {
		t.Fatalf("register learner: %v", err)
	}
	if err := c.RegisterModerator("bob", "Bob", "T1", "conn-b"); err != nil {
		t.Fatalf("register bob: %v", err)
	}
	if err := c.RegisterModerator("dave", "Dave", "T1", "conn-d"); err != nil {
		t.Fatalf("register dave: %v", err)
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, conn := range []string{"conn-b", "conn-d"} {
		wg.Add(1)
		go func(conn string) {
			defer wg.Done()
			errs <- c.AssignLearner(conn, "alice", "T1")
		}(conn)
	}
	wg.Wait()
	close(errs)

	var wins, losses int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrUnknownLearner):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("expected exactly one winner, got %d wins / %d losses", wins, losses)
	}

	topic, _ := c.Topic("T1")
	holders := 0
	for _, snap := range topic.Snapshot().Rooms {
		for _, l := range snap.Learners {
			if l.UserID == "alice" {
				holders++
			}
		}
	}
	if holders != 1 {
		t.Fatalf("alice present in %d rooms", holders)
	}
}

func TestSendMessageRelaysAndEchoes(t *testing.T) {
	c, tr := newTestConference()
	mustRegisterPair(t, c)
	tr.reset()

	modCh := "T1/0/moderator/bob"
	if err := c.SendMessage("conn-a", modCh, "hello"); err != nil {
		t.Fatalf("send message: %v", err)
	}

	relayed := tr.lastTo(t, modCh, MethodMessage)
	var payload MessagePayload
	if err := json.Unmarshal([]byte(relayed.Payload), &payload); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if payload.From != "alice" || payload.Text != "hello" {
		t.Fatalf("unexpected message payload: %+v", payload)
	}

	tr.lastTo(t, "T1//learner/alice", MethodEcho)
}

// Message relay snapshots the sender's record; reconnects rewrite that record
// in place. The two must be safe to interleave.
func TestSendMessageConcurrentWithReconnect(t *testing.T) {
	c, tr := newTestConference()
	mustRegisterPair(t, c)
	tr.reset()

	const n = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if err := c.SendMessage("conn-a", "T1/0/moderator/bob", "hello"); err != nil {
				t.Errorf("send: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if err := c.RegisterLearner("alice", "Alice", "T1", "conn-a"); err != nil {
				t.Errorf("reconnect: %v", err)
			}
		}
	}()
	wg.Wait()

	if got := len(tr.sentTo("T1//learner/alice", MethodEcho)); got != n {
		t.Fatalf("expected %d echoes, got %d", n, got)
	}
}

func TestSendMessageFromUnknownConnectionAborts(t *testing.T) {
	c, tr := newTestConference()
	mustRegisterPair(t, c)
	tr.reset()

	if err := c.SendMessage("conn-x", "T1/0/moderator/bob", "hi"); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
	if cmds := tr.sentTo("T1/0/moderator/bob", MethodMessage); len(cmds) != 0 {
		t.Fatalf("message relayed for unknown sender")
	}
}

func TestTransportFailureDoesNotBlockStateChanges(t *testing.T) {
	c, tr := newTestConference()
	tr.down = true

	if err := c.RegisterLearner("alice", "Alice", "T1", "conn-a"); err != nil {
		t.Fatalf("register with failing transport: %v", err)
	}

	topic, _ := c.Topic("T1")
	if _, ok := topic.Atrium().Get("alice"); !ok {
		t.Fatalf("state not mutated when transport is down")
	}
}

// A close notice for a superseded connection must not evict the participant
// that reconnected in the meantime.
func TestStaleDisconnectAfterLearnerReconnectIsIgnored(t *testing.T) {
	c, tr := newTestConference()

	if err := c.RegisterLearner("alice", "Alice", "T1", "conn-1"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := c.RegisterLearner("alice", "Alice", "T1", "conn-2"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	c.OnDisconnected("conn-1")

	topic, _ := c.Topic("T1")
	if _, ok := topic.Atrium().Get("alice"); !ok {
		t.Fatalf("stale disconnect evicted the reconnected learner")
	}
	if !tr.subscribed("conn-2", "T1//learner/alice") {
		t.Fatalf("live connection lost its command channel")
	}
}

func TestStaleDisconnectAfterModeratorReconnectIsIgnored(t *testing.T) {
	c, _ := newTestConference()
	mustRegisterPair(t, c)
	if err := c.AssignLearner("conn-b", "alice", "T1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := c.RegisterModerator("bob", "Bob", "T1", "conn-b2"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	c.OnDisconnected("conn-b")

	topic, _ := c.Topic("T1")
	room, ok := topic.Room(0)
	if !ok || !room.IsModerated() {
		t.Fatalf("stale disconnect tore down the reconnected moderator's room")
	}
	if !room.HasParticipant("alice") {
		t.Fatalf("learner lost to a stale disconnect")
	}
}

func TestDisconnectUnknownConnectionIsIgnored(t *testing.T) {
	c, _ := newTestConference()
	mustRegisterPair(t, c)

	c.OnDisconnected("conn-ghost")

	topic, _ := c.Topic("T1")
	if topic.Atrium().Len() != 1 || topic.RoomCount() != 1 {
		t.Fatalf("unknown disconnect mutated state")
	}
}

// mustRegisterPair seeds topic T1 with waiting learner alice (conn-a) and
// moderator bob holding room 0 (conn-b).
func mustRegisterPair(t *testing.T, c *Conference) {
	t.Helper()
	if err := c.RegisterLearner("alice", "Alice", "T1", "conn-a"); err != nil {
		t.Fatalf("register alice: %v", err)
	}
	if err := c.RegisterModerator("bob", "Bob", "T1", "conn-b"); err != nil {
		t.Fatalf("register bob: %v", err)
	}
}
