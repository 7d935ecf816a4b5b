package bus

import (
	"sync"

	"roomcast/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Nats carries topics as NATS subjects so every server process holding a
// live subscription sees each publish. NATS preserves publish order per
// connection per subject, which is exactly the per-topic FIFO the engine
// promises; nothing stronger holds across concurrent publishers.
type Nats struct {
	nc   *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

func ConnectNats(url string) (*Nats, error) {
	nc, err := nats.Connect(url,
		nats.Name("roomcast"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("bus disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("bus reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Nats{nc: nc, subs: make(map[string]*nats.Subscription)}, nil
}

func (n *Nats) Publish(topic string, payload []byte) error {
	return n.nc.Publish(topic, payload)
}

func (n *Nats) Subscribe(topic, connID string, h Handler) error {
	key := topic + "|" + connID
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[key]; ok {
		return nil
	}
	sub, err := n.nc.Subscribe(topic, func(m *nats.Msg) {
		metrics.BusDeliveredTotal.Inc()
		h(m.Subject, m.Data)
	})
	if err != nil {
		return err
	}
	n.subs[key] = sub
	return nil
}

func (n *Nats) Unsubscribe(topic, connID string) error {
	key := topic + "|" + connID
	n.mu.Lock()
	sub, ok := n.subs[key]
	if ok {
		delete(n.subs, key)
	}
	n.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

func (n *Nats) Close() {
	_ = n.nc.Drain()
}
