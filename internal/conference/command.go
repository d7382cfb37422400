package conference

import (
	"sort"

	"github.com/olab/turktalk-server/internal/store"
)

// Outbound command method names. Each command is addressed to a channel and
// serialized for the transport layer.
const (
	MethodAtriumUpdate        = "atriumupdate"
	MethodAtriumAssignment    = "atriumassignment"
	MethodLearnerAssignment   = "learnerassignment"
	MethodLearnerList         = "learnerlist"
	MethodModeratorAssignment = "moderatorassignment"
	MethodRoomAssignment      = "roomassignment"
	MethodRoomUnassignment    = "roomunassignment"
	MethodMessage             = "message"
	MethodEcho                = "echo"
)

// Command is a typed outbound notification addressed to a channel.
type Command struct {
	Channel string
	Method  string
	Data    any
}

// ParticipantInfo is the wire shape of a participant reference.
type ParticipantInfo struct {
	Channel   string `json:"channel"`
	UserID    string `json:"userId"`
	Nickname  string `json:"nickname"`
	TopicName string `json:"topicName"`
	RoomIndex int    `json:"roomIndex"`
}

// ModeratorAssignmentPayload acknowledges a room claim, including the topic
// routing metadata the moderator needs to direct learners.
type ModeratorAssignmentPayload struct {
	Moderator   ParticipantInfo `json:"moderator"`
	RoomChannel string          `json:"roomChannel"`
	MapNodes    []store.MapNode `json:"mapNodes"`
}

// RoomAssignmentPayload tells a learner it has been placed with a moderator.
type RoomAssignmentPayload struct {
	Local  ParticipantInfo `json:"local"`
	Remote ParticipantInfo `json:"remote"`
}

// RoomUnassignmentPayload informs a learner its session ended.
type RoomUnassignmentPayload struct {
	Local  ParticipantInfo `json:"local"`
	Reason string          `json:"reason"`
}

// MessagePayload relays free text to an addressed channel.
type MessagePayload struct {
	From     string `json:"from"`
	Nickname string `json:"nickname"`
	Channel  string `json:"channel"`
	Text     string `json:"text"`
}

func participantInfos(ps []*Participant) []ParticipantInfo {
	infos := make([]ParticipantInfo, 0, len(ps))
	for _, p := range ps {
		infos = append(infos, p.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UserID < infos[j].UserID })
	return infos
}
