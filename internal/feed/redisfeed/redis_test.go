package redisfeed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/UkralStul/threaded-comments/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel(t *testing.T) {
	assert.Equal(t, "comments:abc", Channel("abc"))
}

func TestEncodeDecode(t *testing.T) {
	ev := domain.ChangeEvent{
		Type:      domain.ChangeDelete,
		SubjectID: "subject-1",
		CommentID: "comment-9",
		At:        time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC),
	}

	payload, err := Encode(ev)
	require.NoError(t, err)
	assert.Contains(t, payload, `"type":"delete"`)

	decoded, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode("not json")
	assert.Error(t, err)

	_, err = Decode(`{"type":"insert"}`)
	assert.ErrorContains(t, err, "missing subjectId")
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("://nope", nil)
	assert.ErrorContains(t, err, "invalid redis url")
}

// Требует запущенный Redis: REDIS_URL=redis://localhost:6379/0 go test ./...
func TestBroker_PublishSubscribe(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL is not set")
	}
	b, err := New(url, nil)
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := b.Subscribe(ctx, "subject-redis")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, domain.ChangeEvent{Type: domain.ChangeInsert, SubjectID: "subject-redis", CommentID: "c1"}))

	select {
	case ev := <-events:
		assert.Equal(t, "c1", ev.CommentID)
	case <-ctx.Done():
		t.Fatal("no event received from redis")
	}
}
