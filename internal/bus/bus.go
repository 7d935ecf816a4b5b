// Package bus is the broadcast fabric between the mutation observer and
// connection sessions. A topic names one room-scoped event stream; every
// live subscription of a topic receives each published payload at least
// once. Two implementations share the interface: Memory for a single
// process and Nats for a fleet of server processes.
package bus

// Handler receives one payload published on a subscribed topic. Handlers
// for a given subscription are invoked in publish order (per publishing
// link); no ordering holds across topics.
type Handler func(topic string, payload []byte)

// Bus is process-external pub/sub at the engine's boundary.
//
// Publish is fire-and-forget. Subscribe and Unsubscribe are idempotent per
// (topic, connection id): re-subscribing never doubles deliveries, and
// unsubscribing an unknown pair is a no-op. Payloads addressed at
// subscriptions that vanished mid-flight are silently dropped.
type Bus interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic, connID string, h Handler) error
	Unsubscribe(topic, connID string) error
	Close()
}
