// Package livesync держит хранилище комментариев свежим: подписывается на
// ленту изменений subject и на каждое событие перезагружает список.
package livesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/UkralStul/threaded-comments/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrFeedUnavailable = errors.New("change feed unavailable")

// Subscription - открытая подписка на ленту. Events закрывается, когда
// подписка оборвалась или закрыта.
type Subscription interface {
	Events() <-chan domain.ChangeEvent
	Close() error
}

// ChangeFeed открывает подписку на изменения комментариев subject.
type ChangeFeed interface {
	Subscribe(ctx context.Context, subjectID string) (Subscription, error)
}

// Loader перезагружает комментарии subject.
type Loader interface {
	Load(ctx context.Context, subjectID string) error
}

type session struct {
	subjectID string
	sub       Subscription
	cancel    context.CancelFunc
	done      chan struct{}
}

// Adapter держит не больше одной подписки за раз.
type Adapter struct {
	feed   ChangeFeed
	loader Loader
	log    *zap.Logger
	limit  rate.Limit
	burst  int

	mu     sync.Mutex
	active *session
}

type Option func(*Adapter)

func WithLogger(log *zap.Logger) Option {
	return func(a *Adapter) {
		if log != nil {
			a.log = log
		}
	}
}

// WithReloadLimit ограничивает частоту перезагрузок: не чаще одной за every.
// every <= 0 снимает ограничение.
func WithReloadLimit(every time.Duration) Option {
	return func(a *Adapter) {
		if every <= 0 {
			a.limit = rate.Inf
			return
		}
		a.limit = rate.Every(every)
	}
}

func New(feed ChangeFeed, loader Loader, opts ...Option) *Adapter {
	a := &Adapter{
		feed:   feed,
		loader: loader,
		log:    zap.NewNop(),
		limit:  rate.Every(250 * time.Millisecond),
		burst:  1,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Activate подписывается на subject, предварительно освободив текущую
// подписку. Ошибка подписки не фатальна: последнее загруженное состояние
// остается, живых обновлений нет до следующей активации.
func (a *Adapter) Activate(ctx context.Context, subjectID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLocked()

	sub, err := a.feed.Subscribe(ctx, subjectID)
	if err != nil {
		a.log.Warn("live updates unavailable", zap.String("subject_id", subjectID), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		subjectID: subjectID,
		sub:       sub,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	a.active = s
	go a.run(loopCtx, s, rate.NewLimiter(a.limit, a.burst))

	a.log.Debug("live updates active", zap.String("subject_id", subjectID))
	return nil
}

// Deactivate закрывает подписку и дожидается завершения цикла обновлений.
func (a *Adapter) Deactivate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

// Active возвращает subject текущей подписки.
func (a *Adapter) Active() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return "", false
	}
	select {
	case <-a.active.done:
		return "", false
	default:
		return a.active.subjectID, true
	}
}

func (a *Adapter) stopLocked() {
	s := a.active
	if s == nil {
		return
	}
	a.active = nil
	s.cancel()
	if err := s.sub.Close(); err != nil {
		a.log.Debug("closing subscription", zap.String("subject_id", s.subjectID), zap.Error(err))
	}
	<-s.done
}

func (a *Adapter) run(ctx context.Context, s *session, limiter *rate.Limiter) {
	defer close(s.done)
	events := s.sub.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				a.dropped(ctx, s)
				return
			}
			if ev.SubjectID != "" && ev.SubjectID != s.subjectID {
				continue
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			// Все, что накопилось за время ожидания, покрывается одной перезагрузкой
			open := drain(events)
			a.reload(ctx, s)
			if !open {
				a.dropped(ctx, s)
				return
			}
		}
	}
}

func (a *Adapter) reload(ctx context.Context, s *session) {
	// Загрузку не прерываем: Deactivate дождется ее, и старый subject
	// не перезапишет новый
	if err := a.loader.Load(context.WithoutCancel(ctx), s.subjectID); err != nil {
		a.log.Debug("live reload failed", zap.String("subject_id", s.subjectID), zap.Error(err))
	}
}

func (a *Adapter) dropped(ctx context.Context, s *session) {
	if ctx.Err() != nil {
		return
	}
	a.log.Warn("change feed dropped, live updates stopped", zap.String("subject_id", s.subjectID))
}

// drain вычитывает уже пришедшие события. false - канал закрыт.
func drain(events <-chan domain.ChangeEvent) bool {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}
