// Package feed рассылает события об изменениях комментариев подписчикам.
package feed

import (
	"context"
	"sync"

	"github.com/UkralStul/threaded-comments/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriberBuffer - размер буфера канала одного подписчика.
const SubscriberBuffer = 16

// Broker - источник ленты изменений, отфильтрованной по subject.
type Broker interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
	// Subscribe возвращает канал событий subject. Канал закрывается,
	// когда ctx отменен или брокер остановлен.
	Subscribe(ctx context.Context, subjectID string) (<-chan domain.ChangeEvent, error)
}

// Observer хранит каналы подписчиков внутри процесса.
type Observer struct {
	mu sync.RWMutex
	//          map[subjectID] map[subscriberID] channel
	subs   map[string]map[string]chan domain.ChangeEvent
	log    *zap.Logger
	closed bool
}

var _ Broker = (*Observer)(nil)

// NewObserver - конструктор для нашего наблюдателя.
func NewObserver(log *zap.Logger) *Observer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Observer{
		subs: make(map[string]map[string]chan domain.ChangeEvent),
		log:  log,
	}
}

// Publish уведомляет подписчиков subject, не блокируя вызывающего.
func (o *Observer) Publish(_ context.Context, ev domain.ChangeEvent) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for subID, ch := range o.subs[ev.SubjectID] {
		select {
		case ch <- ev:
		default:
			// Клиент не успевает читать. Событие теряется, но следующее
			// все равно приведет к полной перезагрузке на клиенте.
			o.log.Warn("subscriber is lagging, dropping event",
				zap.String("subject_id", ev.SubjectID),
				zap.String("subscriber_id", subID),
				zap.String("type", string(ev.Type)),
			)
		}
	}
	return nil
}

func (o *Observer) Subscribe(ctx context.Context, subjectID string) (<-chan domain.ChangeEvent, error) {
	ch := make(chan domain.ChangeEvent, SubscriberBuffer)
	subID := uuid.NewString()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		close(ch)
		return ch, nil
	}
	if o.subs[subjectID] == nil {
		o.subs[subjectID] = make(map[string]chan domain.ChangeEvent)
	}
	o.subs[subjectID][subID] = ch
	o.mu.Unlock()

	// Горутина для очистки при отключении клиента
	go func() {
		<-ctx.Done()
		o.remove(subjectID, subID)
	}()

	return ch, nil
}

// Subscribers возвращает число активных подписчиков subject.
func (o *Observer) Subscribers(subjectID string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs[subjectID])
}

// Close закрывает все каналы подписчиков.
func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	for subjectID, subs := range o.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(o.subs, subjectID)
	}
}

func (o *Observer) remove(subjectID, subID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	subs, ok := o.subs[subjectID]
	if !ok {
		return
	}
	if ch, ok := subs[subID]; ok {
		close(ch)
		delete(subs, subID)
	}
	if len(subs) == 0 {
		delete(o.subs, subjectID)
	}
}
