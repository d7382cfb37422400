package http

import (
	"encoding/json"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/olab/turktalk-server/internal/proto"
)

const outboundBuffer = 32

// Connection is a live client connection with its outbound envelope queue.
type Connection struct {
	ID  string
	Out chan proto.Outbound
}

// Registry implements conference.Transport over in-process connections and
// named groups. Delivery is best-effort: slow consumers drop.
type Registry struct {
	log    *zerolog.Logger
	conns  *xsync.MapOf[string, *Connection]
	groups *xsync.MapOf[string, *xsync.MapOf[string, struct{}]]
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		log:    logger,
		conns:  xsync.NewMapOf[string, *Connection](),
		groups: xsync.NewMapOf[string, *xsync.MapOf[string, struct{}]](),
	}
}

// Register adds a connection and returns its outbound queue.
func (r *Registry) Register(connectionID string) *Connection {
	conn := &Connection{
		ID:  connectionID,
		Out: make(chan proto.Outbound, outboundBuffer),
	}
	r.conns.Store(connectionID, conn)
	return conn
}

// Deregister drops the connection and all its group subscriptions.
func (r *Registry) Deregister(connectionID string) {
	r.conns.Delete(connectionID)
	r.groups.Range(func(name string, members *xsync.MapOf[string, struct{}]) bool {
		members.Delete(connectionID)
		if members.Size() == 0 {
			r.groups.Delete(name)
		}
		return true
	})
}

// Subscribe adds the connection to a named group.
func (r *Registry) Subscribe(connectionID, group string) {
	members, _ := r.groups.LoadOrCompute(group, func() *xsync.MapOf[string, struct{}] {
		return xsync.NewMapOf[string, struct{}]()
	})
	members.Store(connectionID, struct{}{})
}

// Unsubscribe removes the connection from a named group.
func (r *Registry) Unsubscribe(connectionID, group string) {
	if members, ok := r.groups.Load(group); ok {
		members.Delete(connectionID)
		if members.Size() == 0 {
			r.groups.Delete(group)
		}
	}
}

// Send delivers a serialized command to a single connection id or to every
// current subscriber of a group. The two share one target namespace and a
// connection match wins; they cannot collide, since connection ids are uuids
// and every group name is a slash-delimited channel path. Unknown targets are
// an error; the caller decides whether that matters.
func (r *Registry) Send(target, method string, payload []byte) error {
	env := proto.Outbound{Method: method, Data: json.RawMessage(payload)}

	if conn, ok := r.conns.Load(target); ok {
		r.deliver(conn, env)
		return nil
	}

	members, ok := r.groups.Load(target)
	if !ok {
		return fmt.Errorf("unknown target %q", target)
	}
	members.Range(func(connectionID string, _ struct{}) bool {
		if conn, ok := r.conns.Load(connectionID); ok {
			r.deliver(conn, env)
		}
		return true
	})
	return nil
}

func (r *Registry) deliver(conn *Connection, env proto.Outbound) {
	select {
	case conn.Out <- env:
	default:
		r.log.Warn().Str("conn", conn.ID).Str("method", env.Method).Msg("dropping outbound for slow consumer")
	}
}
