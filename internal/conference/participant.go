package conference

import (
	"strconv"
	"strings"
)

// Role distinguishes the two participant capabilities.
type Role int

const (
	RoleModerator Role = iota
	RoleLearner
)

func (r Role) String() string {
	if r == RoleModerator {
		return "moderator"
	}
	return "learner"
}

// UnassignedRoom marks a participant that is not in any room.
const UnassignedRoom = -1

// Participant is a moderator or learner identity. UserID is stable across
// reconnects; ConnectionID is a transient routing address and must never be
// used as identity.
type Participant struct {
	UserID       string
	Nickname     string
	ConnectionID string
	TopicName    string
	Role         Role
	RoomIndex    int
}

// NewParticipant builds an unassigned participant.
func NewParticipant(role Role, userID, nickname, topicName, connectionID string) *Participant {
	return &Participant{
		UserID:       userID,
		Nickname:     nickname,
		ConnectionID: connectionID,
		TopicName:    topicName,
		Role:         role,
		RoomIndex:    UnassignedRoom,
	}
}

// CommandChannel derives the transport group used to address this participant
// individually: {topic}/{roomIndex or empty}/{role}/{userId}. The name is
// deterministic, so addressed messages still reach the participant after a
// reconnect once the new connection is subscribed.
func (p *Participant) CommandChannel() string {
	room := ""
	if p.RoomIndex != UnassignedRoom {
		room = strconv.Itoa(p.RoomIndex)
	}
	return strings.Join([]string{p.TopicName, room, p.Role.String(), p.UserID}, "/")
}

// Info returns the wire representation of this participant.
func (p *Participant) Info() ParticipantInfo {
	return ParticipantInfo{
		Channel:   p.CommandChannel(),
		UserID:    p.UserID,
		Nickname:  p.Nickname,
		TopicName: p.TopicName,
		RoomIndex: p.RoomIndex,
	}
}
