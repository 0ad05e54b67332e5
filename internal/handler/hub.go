package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/cardbook/internal/events"
)

const clientBuffer = 32

// Hub рассылает уведомления шины подключённым SSE-клиентам.
type Hub struct {
	mu          sync.RWMutex
	clients     map[chan []byte]struct{}
	logger      *zap.Logger
	unsubscribe func()
}

// NewHub создаёт Hub и подписывает его на все уведомления bus.
func NewHub(bus *events.Bus, logger *zap.Logger) *Hub {
	h := &Hub{
		clients: make(map[chan []byte]struct{}),
		logger:  logger,
	}
	h.unsubscribe = bus.SubscribeAll(h.broadcast)
	return h
}

// Close отписывает Hub от шины.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
}

func (h *Hub) broadcast(_ context.Context, e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("marshal event", zap.Error(err))
		return
	}
	msg := fmt.Appendf(nil, "event: %s\ndata: %s\n\n", e.Type(), data)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			// медленный клиент
		}
	}
}

// Subscribe регистрирует клиента и возвращает его канал и функцию отписки.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, clientBuffer)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}
}

// ClientCount возвращает число подключённых клиентов.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP отдаёт поток уведомлений в формате Server-Sent Events.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsub := h.Subscribe()
	defer unsub()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
