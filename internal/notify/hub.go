package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tablepos/internal/domain"
)

const topicPrefix = "station:"

// Subscription поток событий одной станции одного арендатора
type Subscription struct {
	C        <-chan Message
	ch       chan Message
	station  string
	tenantID int64
}

// Hub раздаёт события подключённым станциям через EventBus
type Hub struct {
	bus    EventBus.Bus
	buffer int

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}

	// topicMu не берётся внутри обработчика шины
	topicMu sync.Mutex
	topics  map[string]bool
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		bus:    EventBus.New(),
		buffer: buffer,
		subs:   make(map[string]map[*Subscription]struct{}),
		topics: make(map[string]bool),
	}
}

func (h *Hub) Name() string { return "hub" }

// Subscribe регистрирует слушателя станции
func (h *Hub) Subscribe(station string, tenantID int64) (*Subscription, error) {
	topic := topicPrefix + station
	ch := make(chan Message, h.buffer)
	sub := &Subscription{C: ch, ch: ch, station: station, tenantID: tenantID}

	h.topicMu.Lock()
	if !h.topics[topic] {
		if err := h.bus.Subscribe(topic, h.dispatcher(topic)); err != nil {
			h.topicMu.Unlock()
			return nil, err
		}
		h.topics[topic] = true
	}
	h.topicMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[*Subscription]struct{})
	}
	h.subs[topic][sub] = struct{}{}
	return sub, nil
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	topic := topicPrefix + sub.station
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[topic][sub]; ok {
		delete(h.subs[topic], sub)
		close(sub.ch)
	}
}

// dispatcher один обработчик на топик; слушатели хранятся в hub
func (h *Hub) dispatcher(topic string) func(msg Message, dropped *int32) {
	return func(msg Message, dropped *int32) {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for sub := range h.subs[topic] {
			if msg.TenantID != domain.AllTenants && sub.tenantID != msg.TenantID {
				continue
			}
			select {
			case sub.ch <- msg:
			default:
				atomic.AddInt32(dropped, 1)
			}
		}
	}
}

// Deliver публикует событие в топики станций-получателей.
// Переполненный буфер слушателя считается ошибкой, чтобы relay повторил доставку.
func (h *Hub) Deliver(ctx context.Context, msg Message) error {
	var dropped int32
	for _, target := range msg.Targets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		topic := topicPrefix + target
		if !h.bus.HasCallback(topic) {
			continue
		}
		h.bus.Publish(topic, msg, &dropped)
	}
	if dropped > 0 {
		zap.L().Warn("station buffer full",
			zap.Int64("event_id", msg.ID),
			zap.String("type", string(msg.Type)),
			zap.Int32("dropped", dropped),
		)
		return errors.Errorf("event %d dropped by %d subscribers", msg.ID, dropped)
	}
	return nil
}
