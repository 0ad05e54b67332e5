// Package events реализует шину уведомлений об изменениях данных.
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType определяет вид уведомления.
type EventType string

const (
	EventTypeCreditsChanged EventType = "credits_changed"
	EventTypeCardsChanged   EventType = "cards_changed"
	EventTypeLoading        EventType = "loading"
	EventTypeError          EventType = "error"
)

// Event является общим интерфейсом всех уведомлений.
type Event interface {
	Type() EventType
}

// CreditsChanged сообщает, что кредиты были созданы, изменены или удалены.
type CreditsChanged struct {
	CreditIDs []uuid.UUID `json:"creditIds"`
	Reason    string      `json:"reason"`
}

func (e CreditsChanged) Type() EventType { return EventTypeCreditsChanged }

// CardsChanged сообщает об изменении состава или полей карт.
type CardsChanged struct {
	CardIDs []uuid.UUID `json:"cardIds"`
	Reason  string      `json:"reason"`
}

func (e CardsChanged) Type() EventType { return EventTypeCardsChanged }

// Loading сообщает о начале и окончании длительной операции.
type Loading struct {
	Operation string `json:"operation"`
	Active    bool   `json:"active"`
}

func (e Loading) Type() EventType { return EventTypeLoading }

// Failed сообщает об ошибке фоновой операции.
type Failed struct {
	Operation string `json:"operation"`
	Message   string `json:"message"`
}

func (e Failed) Type() EventType { return EventTypeError }

// Handler обрабатывает уведомление.
type Handler func(ctx context.Context, event Event)

type delivery struct {
	ctx   context.Context
	event Event
}

// subscription хранит очередь уведомлений одного подписчика.
// Очередь разбирает не более одной горутины, поэтому подписчик видит уведомления в порядке Emit.
type subscription struct {
	id      uint64
	handler Handler

	mu      sync.Mutex
	queue   []delivery
	running bool
	closed  bool
}

// allEvents обозначает подписку на уведомления любого вида.
const allEvents EventType = "*"

// Bus управляет подписками и асинхронно доставляет уведомления.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventType][]*subscription
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewBus создаёт шину уведомлений.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[EventType][]*subscription),
		logger:   logger,
	}
}

// Subscribe регистрирует обработчик уведомлений вида eventType.
// Возвращаемая функция отменяет подписку.
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, handler: handler}
	b.handlers[eventType] = append(b.handlers[eventType], sub)

	b.logger.Debug("subscribed handler",
		zap.String("eventType", string(eventType)),
		zap.Int("handlerCount", len(b.handlers[eventType])),
	)

	return func() { b.unsubscribe(eventType, sub) }
}

// SubscribeAll регистрирует обработчик всех уведомлений.
func (b *Bus) SubscribeAll(handler Handler) func() {
	return b.Subscribe(allEvents, handler)
}

// unsubscribe убирает подписку. Ещё не доставленные ей уведомления отбрасываются.
func (b *Bus) unsubscribe(eventType EventType, sub *subscription) {
	b.mu.Lock()
	subs := b.handlers[eventType]
	for i, s := range subs {
		if s == sub {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
}

// Emit ставит уведомление в очередь каждого подписчика и не ждёт обработки.
// Порядок уведомлений сохраняется для каждого подписчика, между подписчиками он не определён.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	specific := b.handlers[event.Type()]
	wildcard := b.handlers[allEvents]
	subs := make([]*subscription, 0, len(specific)+len(wildcard))
	subs = append(subs, specific...)
	subs = append(subs, wildcard...)
	b.mu.RUnlock()

	b.logger.Debug("emitting event",
		zap.String("eventType", string(event.Type())),
		zap.Int("handlerCount", len(subs)),
	)

	for _, s := range subs {
		b.enqueue(s, delivery{ctx: ctx, event: event})
	}
}

func (b *Bus) enqueue(s *subscription, d delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	b.wg.Add(1)
	s.queue = append(s.queue, d)
	if !s.running {
		s.running = true
		go b.drain(s)
	}
}

// drain доставляет уведомления из очереди s, пока она не опустеет.
func (b *Bus) drain(s *subscription) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.closed {
			dropped := len(s.queue)
			s.queue = nil
			s.running = false
			s.mu.Unlock()
			for range dropped {
				b.wg.Done()
			}
			return
		}
		d := s.queue[0]
		s.queue[0] = delivery{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		b.deliver(s.handler, d)
		b.wg.Done()
	}
}

func (b *Bus) deliver(h Handler, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("eventType", string(d.event.Type())),
				zap.Any("panic", r),
			)
		}
	}()
	h(d.ctx, d.event)
}

// Wait блокируется, пока очереди всех подписчиков не опустеют.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// TransactionalBus накапливает уведомления до успешной фиксации изменений.
type TransactionalBus struct {
	real    *Bus
	pending []Event
}

// NewTransactionalBus создаёт буфер поверх шины real.
func NewTransactionalBus(real *Bus) *TransactionalBus {
	return &TransactionalBus{real: real}
}

// Publish откладывает уведомление до вызова Flush.
func (b *TransactionalBus) Publish(e Event) {
	b.pending = append(b.pending, e)
}

// Pending возвращает число отложенных уведомлений.
func (b *TransactionalBus) Pending() int {
	return len(b.pending)
}

// Flush отправляет отложенные уведомления. Вызывается после фиксации транзакции.
// Контекст доставки не зависит от контекста операции.
func (b *TransactionalBus) Flush(ctx context.Context) {
	eventCtx := context.WithoutCancel(ctx)
	for _, ev := range b.pending {
		b.real.Emit(eventCtx, ev)
	}
	b.pending = nil
}

// Discard отбрасывает отложенные уведомления после отката.
func (b *TransactionalBus) Discard() {
	b.pending = nil
}
