//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/UkralStul/threaded-comments/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Запуск: TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/storage/postgres/
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	store, err := New(dsn, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newSubject(t *testing.T, store *Store) *domain.Subject {
	t.Helper()
	subject, err := store.CreateSubject(context.Background(), &domain.Subject{
		Title:           "Integration",
		Content:         "content",
		AuthorID:        "author",
		CommentsEnabled: true,
	})
	require.NoError(t, err)
	return subject
}

func TestLikes_IdempotentPerViewer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	subject := newSubject(t, store)

	comment, err := store.CreateComment(ctx, &domain.Comment{SubjectID: subject.ID, AuthorID: "alice", Content: "like me"})
	require.NoError(t, err)

	liked, err := store.LikeComment(ctx, comment.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, liked.LikeCount)

	// Повторный лайк того же пользователя счетчик не меняет
	liked, err = store.LikeComment(ctx, comment.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, liked.LikeCount)
	assert.True(t, liked.ViewerHasLiked)

	_, err = store.LikeComment(ctx, comment.ID, "carol")
	require.NoError(t, err)

	flags, err := store.GetLikedCommentIDs(ctx, "bob", []string{comment.ID, "garbage"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{comment.ID: true, "garbage": false}, flags)

	unliked, err := store.UnlikeComment(ctx, comment.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, unliked.LikeCount)

	// Снятие несуществующего лайка ничего не делает
	unliked, err = store.UnlikeComment(ctx, comment.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, unliked.LikeCount)

	unliked, err = store.UnlikeComment(ctx, comment.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, 0, unliked.LikeCount)

	got, err := store.GetCommentByID(ctx, comment.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.LikeCount)
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	subject := newSubject(t, store)

	_, err := store.GetSubjectByID(ctx, "garbage")
	assert.ErrorIs(t, err, domain.ErrSubjectNotFound)
	_, err = store.GetCommentsBySubjectID(ctx, "garbage")
	assert.ErrorIs(t, err, domain.ErrSubjectNotFound)
	_, err = store.GetCommentByID(ctx, "garbage")
	assert.ErrorIs(t, err, domain.ErrCommentNotFound)
	_, err = store.DeleteComment(ctx, "garbage", "alice")
	assert.ErrorIs(t, err, domain.ErrCommentNotFound)
	_, err = store.LikeComment(ctx, "garbage", "alice")
	assert.ErrorIs(t, err, domain.ErrCommentNotFound)

	parent := "garbage"
	_, err = store.CreateComment(ctx, &domain.Comment{SubjectID: subject.ID, AuthorID: "alice", Content: "x", ParentID: &parent})
	assert.ErrorIs(t, err, domain.ErrParentNotFound)

	_, err = store.GetCommentByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrCommentNotFound)
}

func TestCreateComment_DepthAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	subject := newSubject(t, store)

	root, err := store.CreateComment(ctx, &domain.Comment{SubjectID: subject.ID, AuthorID: "alice", Content: "root"})
	require.NoError(t, err)
	reply, err := store.CreateComment(ctx, &domain.Comment{SubjectID: subject.ID, AuthorID: "bob", Content: "reply", ParentID: &root.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, reply.Depth)
	deep, err := store.CreateComment(ctx, &domain.Comment{SubjectID: subject.ID, AuthorID: "alice", Content: "deep", ParentID: &reply.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, deep.Depth)

	_, err = store.CreateComment(ctx, &domain.Comment{SubjectID: subject.ID, AuthorID: "bob", Content: "deeper", ParentID: &deep.ID})
	assert.ErrorIs(t, err, domain.ErrMaxDepthExceeded)

	_, err = store.DeleteComment(ctx, root.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = store.DeleteComment(ctx, root.ID, "alice")
	require.NoError(t, err)

	// Ответы не удаляются каскадно
	comments, err := store.GetCommentsBySubjectID(ctx, subject.ID)
	require.NoError(t, err)
	assert.Len(t, comments, 2)
}
