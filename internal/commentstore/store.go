// Package commentstore хранит комментарии одного subject на стороне клиента:
// плоский список с сервера, построенное из него дерево и оптимистичные
// лайки с откатом.
package commentstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/UkralStul/threaded-comments/internal/domain"
	"github.com/UkralStul/threaded-comments/internal/tree"
	"go.uber.org/zap"
)

var (
	ErrUnavailable    = errors.New("comments unavailable")
	ErrToggleInFlight = errors.New("like toggle already in flight")
	ErrNoSubject      = errors.New("no subject loaded")
	ErrClosed         = errors.New("comment store is closed")
)

// DataAccess - внешний источник данных (бэкенд).
type DataAccess interface {
	FetchComments(ctx context.Context, subjectID string) ([]domain.Comment, error)
	CreateComment(ctx context.Context, subjectID, content string, parentID *string) (*domain.Comment, error)
	LikeComment(ctx context.Context, commentID string) error
	UnlikeComment(ctx context.Context, commentID string) error
	DeleteComment(ctx context.Context, commentID string) error
}

// Status - состояние загрузки.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusErrored:
		return "errored"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Operation - пользовательское действие, о сбое которого сообщает Notice.
type Operation string

const (
	OpSubmit Operation = "submit"
	OpLike   Operation = "like"
	OpUnlike Operation = "unlike"
	OpRemove Operation = "remove"
)

// Notice - разовое уведомление об ошибке действия пользователя.
type Notice struct {
	Op        Operation
	CommentID string
	Err       error
	At        time.Time
	// Draft - текст неотправленного комментария, чтобы его можно было повторить.
	Draft string
}

func (n Notice) Error() string {
	if n.CommentID == "" {
		return fmt.Sprintf("%s failed: %v", n.Op, n.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", n.Op, n.CommentID, n.Err)
}

// Snapshot - копия состояния для слоя отображения. Менять ее безопасно.
type Snapshot struct {
	SubjectID string
	Status    Status
	Tree      []*domain.CommentNode
	Err       error
	// Pending - комментарии, у которых лайк сейчас в пути.
	Pending map[string]bool
	Version uint64
}

// toggle - лайк, который ждет ответа сервера.
type toggle struct {
	prevCount  int
	prevLiked  bool
	optimistic int
	liked      bool
}

// Store - кеш комментариев одного представления. Все поля под mu,
// mu не удерживается во время сетевых вызовов.
type Store struct {
	api DataAccess
	log *zap.Logger
	now func() time.Time

	mu        sync.Mutex
	subjectID string
	status    Status
	roots     []*domain.CommentNode
	index     map[string]*domain.CommentNode
	err       error
	token     uint64
	version   uint64
	inFlight  map[string]toggle
	closed    bool

	changes chan struct{}
	notices chan Notice
}

type Option func(*Store)

func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithNoticeBuffer задает размер буфера канала уведомлений.
func WithNoticeBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.notices = make(chan Notice, n)
		}
	}
}

func New(api DataAccess, opts ...Option) *Store {
	s := &Store{
		api:      api,
		log:      zap.NewNop(),
		now:      time.Now,
		roots:    []*domain.CommentNode{},
		index:    map[string]*domain.CommentNode{},
		inFlight: map[string]toggle{},
		changes:  make(chan struct{}, 1),
		notices:  make(chan Notice, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Changes сигналит о любом изменении состояния. Несколько изменений
// подряд схлопываются в один сигнал. Канал закрывается в Close.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// Notices отдает уведомления о неудачных действиях. Канал закрывается в Close.
func (s *Store) Notices() <-chan Notice {
	return s.notices
}

// Snapshot возвращает глубокую копию текущего состояния.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[string]bool, len(s.inFlight))
	for id := range s.inFlight {
		pending[id] = true
	}
	return Snapshot{
		SubjectID: s.subjectID,
		Status:    s.status,
		Tree:      tree.Clone(s.roots),
		Err:       s.err,
		Pending:   pending,
		Version:   s.version,
	}
}

// Load загружает все комментарии subject и перестраивает дерево.
// Применяется только результат последнего начатого Load: более ранний
// ответ отбрасывается, и Load возвращает nil.
func (s *Store) Load(ctx context.Context, subjectID string) error {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return ErrNoSubject
	}
	return s.load(ctx, subjectID, true)
}

// Retry повторяет загрузку текущего subject.
func (s *Store) Retry(ctx context.Context) error {
	s.mu.Lock()
	subjectID := s.subjectID
	s.mu.Unlock()
	if subjectID == "" {
		return ErrNoSubject
	}
	return s.load(ctx, subjectID, false)
}

// load с switchSubject=false ничего не делает, если subject уже сменился.
func (s *Store) load(ctx context.Context, subjectID string, switchSubject bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if subjectID != s.subjectID {
		if !switchSubject {
			s.mu.Unlock()
			return nil
		}
		s.subjectID = subjectID
		s.roots = []*domain.CommentNode{}
		s.index = map[string]*domain.CommentNode{}
		s.inFlight = map[string]toggle{}
		s.err = nil
	}
	s.token++
	token := s.token
	s.status = StatusLoading
	s.changedLocked()
	s.mu.Unlock()

	comments, err := s.api.FetchComments(ctx, subjectID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if token != s.token {
		s.log.Debug("discarding stale load",
			zap.String("subject_id", subjectID),
			zap.Uint64("token", token),
			zap.Uint64("latest", s.token),
		)
		return nil
	}

	if err != nil {
		s.status = StatusErrored
		s.err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		s.roots = []*domain.CommentNode{}
		s.index = map[string]*domain.CommentNode{}
		s.changedLocked()
		s.log.Warn("failed to load comments", zap.String("subject_id", subjectID), zap.Error(err))
		return s.err
	}

	s.roots = tree.Build(comments)
	s.index = tree.Index(s.roots)
	s.status = StatusReady
	s.err = nil
	s.changedLocked()
	return nil
}

// Submit создает комментарий или ответ и перезагружает список.
// Пустой текст и ответ на слишком глубокий комментарий отклоняются без
// обращения к серверу. При ошибке сервера черновик остается у вызывающего.
func (s *Store) Submit(ctx context.Context, content string, parentID *string) (*domain.Comment, error) {
	content = strings.TrimSpace(content)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	subjectID := s.subjectID
	if subjectID == "" {
		s.mu.Unlock()
		return nil, ErrNoSubject
	}
	if content == "" {
		s.mu.Unlock()
		return nil, domain.ErrEmptyContent
	}
	if parentID != nil {
		// Родителя может не быть в дереве, тогда решает сервер
		if parent, ok := s.index[*parentID]; ok && !parent.CanReply() {
			s.mu.Unlock()
			return nil, domain.ErrMaxDepthExceeded
		}
	}
	s.mu.Unlock()

	created, err := s.api.CreateComment(ctx, subjectID, content, parentID)
	if err != nil {
		s.notify(Notice{Op: OpSubmit, Err: err, Draft: content})
		return nil, err
	}

	if err := s.load(ctx, subjectID, false); err != nil {
		s.log.Debug("reload after submit failed", zap.Error(err))
	}
	return created, nil
}

// Like оптимистично ставит лайк. Повторный лайк уже лайкнутого - no-op.
func (s *Store) Like(ctx context.Context, commentID string) error {
	return s.toggle(ctx, commentID, true)
}

// Unlike оптимистично снимает лайк.
func (s *Store) Unlike(ctx context.Context, commentID string) error {
	return s.toggle(ctx, commentID, false)
}

func (s *Store) toggle(ctx context.Context, commentID string, like bool) error {
	op := OpUnlike
	if like {
		op = OpLike
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.subjectID == "" {
		s.mu.Unlock()
		return ErrNoSubject
	}
	if _, busy := s.inFlight[commentID]; busy {
		s.mu.Unlock()
		return ErrToggleInFlight
	}
	node, ok := s.index[commentID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrCommentNotFound
	}
	if node.ViewerHasLiked == like {
		s.mu.Unlock()
		return nil
	}

	t := toggle{prevCount: node.LikeCount, prevLiked: node.ViewerHasLiked, liked: like}
	node.ViewerHasLiked = like
	if like {
		node.LikeCount++
	} else if node.LikeCount > 0 {
		node.LikeCount--
	}
	t.optimistic = node.LikeCount
	s.inFlight[commentID] = t
	s.changedLocked()
	s.mu.Unlock()

	var err error
	if like {
		err = s.api.LikeComment(ctx, commentID)
	} else {
		err = s.api.UnlikeComment(ctx, commentID)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	// После смены subject inFlight уже пересоздан
	if cur, ok := s.inFlight[commentID]; ok && cur == t {
		delete(s.inFlight, commentID)
	}
	if err != nil {
		// Откатываем, только если перезагрузка не заменила узел
		if n, ok := s.index[commentID]; ok && n.ViewerHasLiked == t.liked && n.LikeCount == t.optimistic {
			n.ViewerHasLiked = t.prevLiked
			n.LikeCount = t.prevCount
		}
	}
	s.changedLocked()
	s.mu.Unlock()

	if err != nil {
		s.notify(Notice{Op: op, CommentID: commentID, Err: err})
		return err
	}
	return nil
}

// Remove удаляет комментарий на сервере и перезагружает список, чтобы
// ответы удаленного комментария пропали из дерева.
func (s *Store) Remove(ctx context.Context, commentID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	subjectID := s.subjectID
	s.mu.Unlock()
	if subjectID == "" {
		return ErrNoSubject
	}

	if err := s.api.DeleteComment(ctx, commentID); err != nil {
		s.notify(Notice{Op: OpRemove, CommentID: commentID, Err: err})
		return err
	}

	if err := s.load(ctx, subjectID, false); err != nil {
		s.log.Debug("reload after remove failed", zap.Error(err))
	}
	return nil
}

// Close освобождает хранилище. Поздние ответы сервера игнорируются,
// последующие операции возвращают ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.roots = []*domain.CommentNode{}
	s.index = map[string]*domain.CommentNode{}
	s.inFlight = map[string]toggle{}
	close(s.changes)
	close(s.notices)
}

// changedLocked вызывается под mu.
func (s *Store) changedLocked() {
	s.version++
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Store) notify(n Notice) {
	n.At = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.notices <- n:
	default:
		s.log.Warn("notice dropped, nobody is reading", zap.String("op", string(n.Op)), zap.Error(n.Err))
	}
}
