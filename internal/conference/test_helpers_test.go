package conference

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/olab/turktalk-server/internal/log"
	"github.com/olab/turktalk-server/internal/store"
)

type sentCommand struct {
	Target  string
	Method  string
	Payload string
}

// fakeTransport records subscriptions and sends for assertions.
type fakeTransport struct {
	mu   sync.Mutex
	sent []sentCommand
	subs map[string]map[string]bool
	down bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[string]map[string]bool)}
}

func (f *fakeTransport) Subscribe(connectionID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[group] == nil {
		f.subs[group] = make(map[string]bool)
	}
	f.subs[group][connectionID] = true
}

func (f *fakeTransport) Unsubscribe(connectionID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[group], connectionID)
}

func (f *fakeTransport) Send(target, method string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("transport down")
	}
	f.sent = append(f.sent, sentCommand{Target: target, Method: method, Payload: string(payload)})
	return nil
}

func (f *fakeTransport) subscribed(connectionID, group string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[group][connectionID]
}

func (f *fakeTransport) sentTo(target, method string) []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentCommand
	for _, s := range f.sent {
		if s.Target == target && s.Method == method {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) lastTo(t *testing.T, target, method string) sentCommand {
	t.Helper()
	cmds := f.sentTo(target, method)
	if len(cmds) == 0 {
		t.Fatalf("no %q command sent to %q", method, target)
	}
	return cmds[len(cmds)-1]
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// fakeMapStore serves fixed routing metadata per topic.
type fakeMapStore struct {
	nodes map[string][]store.MapNode
}

func (f *fakeMapStore) MapNodesForTopic(_ context.Context, topicName string) ([]store.MapNode, error) {
	return f.nodes[topicName], nil
}

func newTestConference() (*Conference, *fakeTransport) {
	tr := newFakeTransport()
	maps := &fakeMapStore{nodes: map[string][]store.MapNode{
		"T1": {{ID: 1, TopicName: "T1", Name: "intro", Title: "Introduction"}},
	}}
	return New(tr, maps, log.Nop()), tr
}
