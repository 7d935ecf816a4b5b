package bus

import (
	"sync"

	"roomcast/internal/metrics"
)

const subQueueSize = 256

// Memory is the in-process bus: a topic table under a RWMutex with one
// buffered FIFO queue per subscription. Fan-out only reaches sessions in
// this process, which is all there is in a single-node deployment and in
// tests.
type Memory struct {
	mu     sync.RWMutex
	topics map[string]map[string]*memorySub
	closed bool
}

type memorySub struct {
	queue chan []byte
	quit  chan struct{}
	once  sync.Once
}

func NewMemory() *Memory {
	return &Memory{topics: make(map[string]map[string]*memorySub)}
}

func (m *Memory) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.topics[topic] {
		select {
		case sub.queue <- payload:
		default:
			// Subscriber gone or hopelessly behind; at-least-once does
			// not extend to sessions that stopped draining.
			metrics.BusDroppedTotal.Inc()
		}
	}
	return nil
}

func (m *Memory) Subscribe(topic, connID string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	subs := m.topics[topic]
	if subs == nil {
		subs = make(map[string]*memorySub)
		m.topics[topic] = subs
	}
	if _, ok := subs[connID]; ok {
		return nil
	}
	sub := &memorySub{queue: make(chan []byte, subQueueSize), quit: make(chan struct{})}
	subs[connID] = sub
	go sub.run(topic, h)
	return nil
}

func (m *Memory) Unsubscribe(topic, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.topics[topic]
	sub, ok := subs[connID]
	if !ok {
		return nil
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(m.topics, topic)
	}
	sub.stop()
	return nil
}

func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for topic, subs := range m.topics {
		for _, sub := range subs {
			sub.stop()
		}
		delete(m.topics, topic)
	}
}

// run drains the subscription queue in order. One goroutine per
// subscription keeps per-topic delivery FIFO without holding the table
// lock during handler execution.
func (s *memorySub) run(topic string, h Handler) {
	for {
		select {
		case payload := <-s.queue:
			metrics.BusDeliveredTotal.Inc()
			h(topic, payload)
		case <-s.quit:
			return
		}
	}
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.quit) })
}
