package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/UkralStul/threaded-comments/internal/api"
	"github.com/UkralStul/threaded-comments/internal/domain"
	"github.com/UkralStul/threaded-comments/internal/feed"
	"github.com/UkralStul/threaded-comments/internal/storage/inmemory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ClientTestSuite struct {
	suite.Suite
	store    *inmemory.Store
	observer *feed.Observer
	server   *httptest.Server
	subject  *domain.Subject
}

func (s *ClientTestSuite) SetupTest() {
	s.store = inmemory.New()
	s.observer = feed.NewObserver(nil)
	s.server = httptest.NewServer(api.NewHandler(s.store, s.observer, nil).Routes())

	subject, err := s.store.CreateSubject(context.Background(), &domain.Subject{
		Title:           "Test Post",
		AuthorID:        "author",
		CommentsEnabled: true,
	})
	s.Require().NoError(err)
	s.subject = subject
}

func (s *ClientTestSuite) TearDownTest() {
	s.server.Close()
	s.observer.Close()
}

func (s *ClientTestSuite) client(user string) *Client {
	return New(s.server.URL+"/", user, WithTimeout(2*time.Second))
}

func (s *ClientTestSuite) TestSubjects() {
	c := s.client("")
	subjects, err := c.ListSubjects(context.Background(), 10, 0)
	s.Require().NoError(err)
	s.Require().Len(subjects, 1)
	s.Equal(s.subject.ID, subjects[0].ID)

	got, err := c.GetSubject(context.Background(), s.subject.ID)
	s.Require().NoError(err)
	s.Equal("Test Post", got.Title)

	_, err = c.GetSubject(context.Background(), "missing")
	s.ErrorIs(err, domain.ErrSubjectNotFound)
	s.True(IsNotFound(err))
}

func (s *ClientTestSuite) TestCommentLifecycle() {
	ctx := context.Background()
	alice := s.client("alice")
	bob := s.client("bob")

	root, err := alice.CreateComment(ctx, s.subject.ID, "Nice!", nil)
	s.Require().NoError(err)
	s.Nil(root.ParentID)
	s.Equal(0, root.Depth)
	s.Equal("alice", root.AuthorID)

	reply, err := bob.CreateComment(ctx, s.subject.ID, "thanks", &root.ID)
	s.Require().NoError(err)
	s.Equal(1, reply.Depth)

	s.Require().NoError(bob.LikeComment(ctx, root.ID))
	comments, err := bob.FetchComments(ctx, s.subject.ID)
	s.Require().NoError(err)
	s.Require().Len(comments, 2)
	s.Equal(1, comments[0].LikeCount)
	s.True(comments[0].ViewerHasLiked)

	parent, err := bob.GetComment(ctx, *comments[1].ParentID)
	s.Require().NoError(err)
	s.Equal(root.ID, parent.ID)
	s.True(parent.ViewerHasLiked)

	comments, err = alice.FetchComments(ctx, s.subject.ID)
	s.Require().NoError(err)
	s.False(comments[0].ViewerHasLiked)

	s.Require().NoError(bob.UnlikeComment(ctx, root.ID))
	s.ErrorIs(bob.DeleteComment(ctx, root.ID), domain.ErrForbidden)
	s.Require().NoError(alice.DeleteComment(ctx, root.ID))
	_, err = alice.GetComment(ctx, root.ID)
	s.ErrorIs(err, domain.ErrCommentNotFound)

	comments, err = alice.FetchComments(ctx, s.subject.ID)
	s.Require().NoError(err)
	s.Len(comments, 1)
}

func (s *ClientTestSuite) TestErrorMapping() {
	ctx := context.Background()
	c := s.client("alice")

	_, err := c.CreateComment(ctx, s.subject.ID, "  ", nil)
	s.ErrorIs(err, domain.ErrEmptyContent)
	var apiErr *APIError
	s.Require().True(errors.As(err, &apiErr))
	s.Equal(http.StatusUnprocessableEntity, apiErr.StatusCode)

	missing := "missing"
	_, err = c.CreateComment(ctx, s.subject.ID, "orphan", &missing)
	s.ErrorIs(err, domain.ErrParentNotFound)

	s.ErrorIs(c.LikeComment(ctx, "missing"), domain.ErrCommentNotFound)

	_, err = s.client("").CreateComment(ctx, s.subject.ID, "anon", nil)
	s.ErrorIs(err, domain.ErrMissingViewer)
}

func (s *ClientTestSuite) TestDepthLimitEnforcedByServer() {
	ctx := context.Background()
	c := s.client("alice")

	parent, err := c.CreateComment(ctx, s.subject.ID, "A", nil)
	s.Require().NoError(err)
	for i := 0; i < domain.MaxReplyDepth; i++ {
		parent, err = c.CreateComment(ctx, s.subject.ID, "reply", &parent.ID)
		s.Require().NoError(err)
	}
	s.Equal(domain.MaxReplyDepth, parent.Depth)

	_, err = c.CreateComment(ctx, s.subject.ID, "too deep", &parent.ID)
	s.ErrorIs(err, domain.ErrMaxDepthExceeded)
}

func (s *ClientTestSuite) TestSubscribe() {
	ctx := context.Background()
	c := s.client("alice")

	sub, err := c.Subscribe(ctx, s.subject.ID)
	s.Require().NoError(err)
	s.Eventually(func() bool { return s.observer.Subscribers(s.subject.ID) == 1 }, time.Second, 10*time.Millisecond)

	created, err := c.CreateComment(ctx, s.subject.ID, "live", nil)
	s.Require().NoError(err)

	select {
	case ev := <-sub.Events():
		s.Equal(domain.ChangeInsert, ev.Type)
		s.Equal(s.subject.ID, ev.SubjectID)
		s.Equal(created.ID, ev.CommentID)
	case <-time.After(2 * time.Second):
		s.Fail("no event received")
	}

	s.Require().NoError(sub.Close())
	s.NoError(sub.Close())
	s.Eventually(func() bool {
		select {
		case _, ok := <-sub.Events():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	s.Eventually(func() bool { return s.observer.Subscribers(s.subject.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func (s *ClientTestSuite) TestSubscribe_UnknownSubject() {
	_, err := s.client("alice").Subscribe(context.Background(), "missing")
	s.ErrorIs(err, domain.ErrSubjectNotFound)
}

func (s *ClientTestSuite) TestSubscribe_ServerGoneClosesEvents() {
	sub, err := s.client("alice").Subscribe(context.Background(), s.subject.ID)
	s.Require().NoError(err)
	s.Eventually(func() bool { return s.observer.Subscribers(s.subject.ID) == 1 }, time.Second, 10*time.Millisecond)

	// Закрытие брокера завершает ленту на сервере
	s.observer.Close()
	select {
	case _, ok := <-sub.Events():
		s.False(ok)
	case <-time.After(2 * time.Second):
		s.Fail("events channel was not closed")
	}
	_ = sub.Close()
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func TestNormalize(t *testing.T) {
	empty := "  "
	parent := " p1 "
	tests := []struct {
		name string
		in   wireComment
		want domain.Comment
	}{
		{
			name: "empty parent is root",
			in:   wireComment{ID: "c1", ParentID: &empty, LikeCount: 2},
			want: domain.Comment{ID: "c1", LikeCount: 2},
		},
		{
			name: "negative counters clamp to zero",
			in:   wireComment{ID: "c2", LikeCount: -3, Depth: -1},
			want: domain.Comment{ID: "c2"},
		},
		{
			name: "ids are trimmed",
			in:   wireComment{ID: " c3 ", SubjectID: " s ", ParentID: &parent, Depth: 1},
			want: domain.Comment{ID: "c3", SubjectID: "s", ParentID: strPtr("p1"), Depth: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.normalize())
		})
	}
}

func strPtr(s string) *string { return &s }

func TestFetchComments_NormalizesLooseJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "viewer", r.Header.Get(ViewerHeader))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"a","subjectId":"s","parentCommentId":"","content":"root","likeCount":-1,"depth":0},
			{"id":"b","subjectId":"s","parentCommentId":"a","content":"reply","depth":1,"extra":true}
		]`))
	}))
	defer server.Close()

	comments, err := New(server.URL, "viewer").FetchComments(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Nil(t, comments[0].ParentID)
	assert.Equal(t, 0, comments[0].LikeCount)
	require.NotNil(t, comments[1].ParentID)
	assert.Equal(t, "a", *comments[1].ParentID)
}

func TestDo_UnknownErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := New(server.URL, "").FetchComments(context.Background(), "s")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream exploded", apiErr.Message)
	assert.Nil(t, apiErr.Unwrap())
}
