package commentview

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/UkralStul/threaded-comments/internal/api"
	"github.com/UkralStul/threaded-comments/internal/client"
	"github.com/UkralStul/threaded-comments/internal/commentstore"
	"github.com/UkralStul/threaded-comments/internal/domain"
	"github.com/UkralStul/threaded-comments/internal/feed"
	"github.com/UkralStul/threaded-comments/internal/livesync"
	"github.com/UkralStul/threaded-comments/internal/storage/inmemory"
	"github.com/UkralStul/threaded-comments/internal/tree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ViewTestSuite гоняет представление против настоящего сервера в памяти
type ViewTestSuite struct {
	suite.Suite
	storage  *inmemory.Store
	observer *feed.Observer
	server   *httptest.Server
	subject  *domain.Subject
	other    *domain.Subject
}

func (s *ViewTestSuite) SetupTest() {
	s.storage = inmemory.New()
	s.observer = feed.NewObserver(nil)
	s.server = httptest.NewServer(api.NewHandler(s.storage, s.observer, nil).Routes())

	var err error
	s.subject, err = s.storage.CreateSubject(context.Background(), &domain.Subject{Title: "first", AuthorID: "author", CommentsEnabled: true})
	s.Require().NoError(err)
	s.other, err = s.storage.CreateSubject(context.Background(), &domain.Subject{Title: "second", AuthorID: "author", CommentsEnabled: true})
	s.Require().NoError(err)
}

func (s *ViewTestSuite) TearDownTest() {
	s.server.Close()
	s.observer.Close()
}

func (s *ViewTestSuite) open(user string) *View {
	v := New(client.New(s.server.URL, user, client.WithTimeout(2*time.Second)), WithReloadLimit(0))
	s.T().Cleanup(func() { _ = v.Close() })
	s.Require().NoError(v.Open(context.Background(), s.subject.ID))
	s.Eventually(v.Live, time.Second, 10*time.Millisecond)
	return v
}

func (s *ViewTestSuite) treeOf(v *View) []*domain.CommentNode {
	return v.Store().Snapshot().Tree
}

func (s *ViewTestSuite) TestScenario_FirstComment() {
	v := s.open("alice")
	snap := v.Store().Snapshot()
	s.Equal(commentstore.StatusReady, snap.Status)
	s.Empty(snap.Tree)

	_, err := v.Store().Submit(context.Background(), "Nice!", nil)
	s.Require().NoError(err)

	roots := s.treeOf(v)
	s.Require().Len(roots, 1)
	s.Equal("Nice!", roots[0].Content)
	s.Empty(roots[0].Replies)
}

func (s *ViewTestSuite) TestScenario_ReplyDepth() {
	v := s.open("alice")
	ctx := context.Background()

	root, err := v.Store().Submit(ctx, "A", nil)
	s.Require().NoError(err)
	reply, err := v.Store().Submit(ctx, "thanks", &root.ID)
	s.Require().NoError(err)
	deep, err := v.Store().Submit(ctx, "you are welcome", &reply.ID)
	s.Require().NoError(err)

	index := tree.Index(s.treeOf(v))
	s.Equal(1, index[reply.ID].Depth)
	s.Equal(2, index[deep.ID].Depth)
	s.False(index[deep.ID].CanReply())

	_, err = v.Store().Submit(ctx, "deeper", &deep.ID)
	s.ErrorIs(err, domain.ErrMaxDepthExceeded)
}

func (s *ViewTestSuite) TestScenario_DeleteRootHidesReply() {
	alice := s.open("alice")
	bob := s.open("bob")
	ctx := context.Background()

	root, err := alice.Store().Submit(ctx, "A", nil)
	s.Require().NoError(err)
	_, err = bob.Store().Submit(ctx, "B", &root.ID)
	s.Require().NoError(err)

	s.Eventually(func() bool { return tree.Count(s.treeOf(alice)) == 2 }, 2*time.Second, 10*time.Millisecond)

	// Не автор удалить не может, комментарий остается
	s.ErrorIs(bob.Store().Remove(ctx, root.ID), domain.ErrForbidden)
	<-bob.Store().Notices()

	s.Require().NoError(alice.Store().Remove(ctx, root.ID))
	s.Empty(s.treeOf(alice))
	s.Eventually(func() bool { return len(s.treeOf(bob)) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func (s *ViewTestSuite) TestLiveLikeFromAnotherViewer() {
	alice := s.open("alice")
	bob := s.open("bob")
	ctx := context.Background()

	c, err := alice.Store().Submit(ctx, "like me", nil)
	s.Require().NoError(err)
	s.Eventually(func() bool { return len(s.treeOf(bob)) == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Require().NoError(bob.Store().Like(ctx, c.ID))
	node := tree.Index(s.treeOf(bob))[c.ID]
	s.Equal(1, node.LikeCount)
	s.True(node.ViewerHasLiked)

	s.Eventually(func() bool {
		n := tree.Index(s.treeOf(alice))[c.ID]
		return n != nil && n.LikeCount == 1 && !n.ViewerHasLiked
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *ViewTestSuite) TestSwitch_MovesSubscription() {
	v := s.open("alice")
	s.Equal(1, s.observer.Subscribers(s.subject.ID))

	s.Require().NoError(v.Switch(context.Background(), s.other.ID))
	s.Equal(s.other.ID, v.SubjectID())
	s.Eventually(func() bool {
		return s.observer.Subscribers(s.subject.ID) == 0 && s.observer.Subscribers(s.other.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Изменения старого subject больше не приходят
	bob := client.New(s.server.URL, "bob")
	_, err := bob.CreateComment(context.Background(), s.subject.ID, "old", nil)
	s.Require().NoError(err)
	time.Sleep(50 * time.Millisecond)
	s.Empty(s.treeOf(v))
	s.Equal(s.other.ID, v.Store().Snapshot().SubjectID)
}

func (s *ViewTestSuite) TestClose() {
	v := s.open("alice")
	s.Require().NoError(v.Close())
	s.Require().NoError(v.Close())
	s.False(v.Live())
	s.Eventually(func() bool { return s.observer.Subscribers(s.subject.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
	s.ErrorIs(v.Open(context.Background(), s.subject.ID), ErrClosed)
	s.ErrorIs(v.Store().Like(context.Background(), "x"), commentstore.ErrClosed)
}

func TestViewTestSuite(t *testing.T) {
	suite.Run(t, new(ViewTestSuite))
}

// Лента недоступна: комментарии все равно показываются
type noFeedBackend struct {
	comments []domain.Comment
}

func (b *noFeedBackend) FetchComments(context.Context, string) ([]domain.Comment, error) {
	return b.comments, nil
}

func (b *noFeedBackend) CreateComment(context.Context, string, string, *string) (*domain.Comment, error) {
	return nil, errors.New("read only")
}

func (b *noFeedBackend) LikeComment(context.Context, string) error   { return nil }
func (b *noFeedBackend) UnlikeComment(context.Context, string) error { return nil }
func (b *noFeedBackend) DeleteComment(context.Context, string) error { return nil }

func (b *noFeedBackend) Subscribe(context.Context, string) (livesync.Subscription, error) {
	return nil, errors.New("websocket: bad handshake")
}

func TestOpen_FeedFailureIsNotFatal(t *testing.T) {
	v := New(&noFeedBackend{comments: []domain.Comment{{ID: "a", SubjectID: "s", Content: "A"}}})
	defer v.Close()

	require.NoError(t, v.Open(context.Background(), "s"))
	assert.False(t, v.Live())

	snap := v.Store().Snapshot()
	assert.Equal(t, commentstore.StatusReady, snap.Status)
	assert.Len(t, snap.Tree, 1)
}

// racyBackend: пока идет первая загрузка, другой пользователь добавляет
// комментарий. Подписка не отдает старых событий, только новые.
type racyBackend struct {
	noFeedBackend

	mu      sync.Mutex
	fetches int
	subs    []chan domain.ChangeEvent
}

type chanSub struct {
	ch   chan domain.ChangeEvent
	once sync.Once
}

func (s *chanSub) Events() <-chan domain.ChangeEvent { return s.ch }

func (s *chanSub) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

func (b *racyBackend) FetchComments(context.Context, string) ([]domain.Comment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	out := append([]domain.Comment(nil), b.comments...)
	if b.fetches == 1 {
		// Ответ уже собран, изменение в него не попадает
		b.comments = append(b.comments, domain.Comment{ID: "late", SubjectID: "s", Content: "late"})
		for _, ch := range b.subs {
			select {
			case ch <- domain.ChangeEvent{Type: domain.ChangeInsert, SubjectID: "s", CommentID: "late"}:
			default:
			}
		}
	}
	return out, nil
}

func (b *racyBackend) Subscribe(context.Context, string) (livesync.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &chanSub{ch: make(chan domain.ChangeEvent, 4)}
	b.subs = append(b.subs, sub.ch)
	return sub, nil
}

func TestOpen_ChangeDuringInitialLoadIsNotLost(t *testing.T) {
	v := New(&racyBackend{}, WithReloadLimit(0))
	defer v.Close()

	require.NoError(t, v.Open(context.Background(), "s"))
	assert.True(t, v.Live())

	require.Eventually(t, func() bool {
		return len(v.Store().Snapshot().Tree) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "late", v.Store().Snapshot().Tree[0].ID)
}
