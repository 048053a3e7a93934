// Package redisfeed - лента изменений поверх Redis Pub/Sub, общая для
// нескольких экземпляров сервера.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/UkralStul/threaded-comments/internal/domain"
	"github.com/UkralStul/threaded-comments/internal/feed"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "comments:"

// Broker публикует события в канал comments:<subjectID>.
type Broker struct {
	client *redis.Client
	log    *zap.Logger
}

var _ feed.Broker = (*Broker)(nil)

// New подключается к Redis по URL вида redis://host:port/db.
func New(redisURL string, log *zap.Logger) (*Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	// Проверяем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(rdb, log), nil
}

// NewWithClient оборачивает готовый клиент.
func NewWithClient(client *redis.Client, log *zap.Logger) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{client: client, log: log}
}

// Channel возвращает имя канала Redis для subject.
func Channel(subjectID string) string {
	return channelPrefix + subjectID
}

func (b *Broker) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, Channel(ev.SubjectID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, subjectID string) (<-chan domain.ChangeEvent, error) {
	ps := b.client.Subscribe(ctx, Channel(subjectID))
	// Ждем подтверждения подписки, чтобы не потерять первые события
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", Channel(subjectID), err)
	}

	out := make(chan domain.ChangeEvent, feed.SubscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := Decode(msg.Payload)
				if err != nil {
					b.log.Warn("skipping malformed change event",
						zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				default:
					b.log.Warn("subscriber is lagging, dropping event",
						zap.String("subject_id", subjectID))
				}
			}
		}
	}()
	return out, nil
}

// Close закрывает клиент Redis.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Encode сериализует событие для канала.
func Encode(ev domain.ChangeEvent) (string, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to encode change event: %w", err)
	}
	return string(raw), nil
}

// Decode разбирает событие из канала.
func Decode(payload string) (domain.ChangeEvent, error) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("failed to decode change event: %w", err)
	}
	if ev.SubjectID == "" {
		return domain.ChangeEvent{}, fmt.Errorf("failed to decode change event: missing subjectId")
	}
	return ev, nil
}
