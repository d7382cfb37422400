package conference

// Transport is the hub boundary consumed by the conference. It can address a
// single connection or a named group of subscribed connections. Delivery is
// best-effort to whoever is currently subscribed; the transport owns its own
// reconnect and backoff behavior.
type Transport interface {
	Subscribe(connectionID, group string)
	Unsubscribe(connectionID, group string)
	Send(target, method string, payload []byte) error
}
