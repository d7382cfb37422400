package conference

import "github.com/puzpuzpuz/xsync/v3"

// Atrium is a topic's waiting area: learners registered but not yet assigned
// to a room, keyed by user id. A learner is never simultaneously in an atrium
// and a room; the Topic enforces that around every mutation.
type Atrium struct {
	learners *xsync.MapOf[string, *Participant]
}

// NewAtrium builds an empty atrium.
func NewAtrium() *Atrium {
	return &Atrium{learners: xsync.NewMapOf[string, *Participant]()}
}

// Upsert inserts the learner, replacing any entry with the same user id.
// Returns true if a replacement occurred.
func (a *Atrium) Upsert(l *Participant) bool {
	_, replaced := a.learners.LoadAndStore(l.UserID, l)
	return replaced
}

// Get returns the learner with the given user id, if present.
func (a *Atrium) Get(userID string) (*Participant, bool) {
	return a.learners.Load(userID)
}

// Remove deletes the entry for the given user id. Returns true if found.
func (a *Atrium) Remove(userID string) bool {
	_, found := a.learners.LoadAndDelete(userID)
	return found
}

// FindByConnection resolves a learner by its transient connection id.
func (a *Atrium) FindByConnection(connectionID string) (*Participant, bool) {
	var found *Participant
	a.learners.Range(func(_ string, l *Participant) bool {
		if l.ConnectionID == connectionID {
			found = l
			return false
		}
		return true
	})
	return found, found != nil
}

// Contents returns a snapshot of the waiting learners, safe to serialize
// concurrently with mutation.
func (a *Atrium) Contents() []*Participant {
	out := make([]*Participant, 0, a.learners.Size())
	a.learners.Range(func(_ string, l *Participant) bool {
		out = append(out, l)
		return true
	})
	return out
}

// Len reports the number of waiting learners.
func (a *Atrium) Len() int {
	return a.learners.Size()
}
