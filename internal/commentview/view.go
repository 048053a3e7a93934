// Package commentview связывает хранилище комментариев и живую
// синхронизацию в одно представление с явным временем жизни.
package commentview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/UkralStul/threaded-comments/internal/commentstore"
	"github.com/UkralStul/threaded-comments/internal/livesync"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("comment view is closed")

// Backend - все, что представлению нужно от бэкенда.
type Backend interface {
	commentstore.DataAccess
	livesync.ChangeFeed
}

// View создается вместе с экраном комментариев и закрывается вместе с ним.
type View struct {
	store *commentstore.Store
	live  *livesync.Adapter
	log   *zap.Logger

	mu        sync.Mutex
	subjectID string
	closed    bool
}

type options struct {
	log         *zap.Logger
	reloadEvery time.Duration
	notices     int
}

type Option func(*options)

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithReloadLimit - минимальный интервал между перезагрузками по событиям ленты.
func WithReloadLimit(every time.Duration) Option {
	return func(o *options) { o.reloadEvery = every }
}

func WithNoticeBuffer(n int) Option {
	return func(o *options) { o.notices = n }
}

func New(backend Backend, opts ...Option) *View {
	o := options{log: zap.NewNop(), reloadEvery: 250 * time.Millisecond, notices: 16}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}

	store := commentstore.New(backend,
		commentstore.WithLogger(o.log.Named("store")),
		commentstore.WithNoticeBuffer(o.notices),
	)
	live := livesync.New(backend, store,
		livesync.WithLogger(o.log.Named("live")),
		livesync.WithReloadLimit(o.reloadEvery),
	)
	return &View{store: store, live: live, log: o.log}
}

// Store отдает хранилище для действий пользователя и снимков.
func (v *View) Store() *commentstore.Store {
	return v.store
}

// Open загружает комментарии subject и включает живые обновления.
// Повторный Open работает как Switch. Ошибка загрузки возвращается и видна
// в снимке хранилища, ошибка ленты только логируется.
func (v *View) Open(ctx context.Context, subjectID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}

	// Сначала отпускаем старую подписку, чтобы она не перезагрузила
	// прежний subject поверх нового
	v.live.Deactivate()
	v.subjectID = subjectID

	// Подписываемся до загрузки: изменение, сделанное во время загрузки,
	// придет событием и вызовет еще один Load, а устаревший ответ
	// отбросит хранилище
	if err := v.live.Activate(ctx, subjectID); err != nil {
		v.log.Warn("showing comments without live updates", zap.String("subject_id", subjectID), zap.Error(err))
	}
	return v.store.Load(ctx, subjectID)
}

// Switch переключает представление на другой subject.
func (v *View) Switch(ctx context.Context, subjectID string) error {
	return v.Open(ctx, subjectID)
}

// SubjectID - subject, открытый сейчас.
func (v *View) SubjectID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.subjectID
}

// Live сообщает, приходят ли живые обновления.
func (v *View) Live() bool {
	_, ok := v.live.Active()
	return ok
}

// Close отпускает подписку и хранилище. Повторный вызов безопасен.
func (v *View) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.live.Deactivate()
	v.store.Close()
	return nil
}
