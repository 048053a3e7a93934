package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/UkralStul/threaded-comments/internal/domain"
	"github.com/UkralStul/threaded-comments/internal/livesync"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// feedBuffer - сколько событий ждет чтения. Лишние можно терять: одного
// непрочитанного события хватает, чтобы перезагрузить список.
const feedBuffer = 16

// Subscribe открывает WebSocket ленты изменений subject.
func (c *Client) Subscribe(ctx context.Context, subjectID string) (livesync.Subscription, error) {
	u, err := url.Parse(c.baseURL + "/subjects/" + url.PathEscape(subjectID) + "/comments/feed")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if c.userID != "" {
		header.Set(ViewerHeader, c.userID)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.timeout,
	}
	conn, response, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if response != nil && response.StatusCode >= http.StatusBadRequest {
			return nil, decodeHandshakeError(response)
		}
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	sub := &subscription{
		conn:   conn,
		events: make(chan domain.ChangeEvent, feedBuffer),
		done:   make(chan struct{}),
		log:    c.log.With(zap.String("subject_id", subjectID)),
	}
	go sub.readLoop()
	return sub, nil
}

func decodeHandshakeError(response *http.Response) error {
	if response.Body == nil {
		return &APIError{StatusCode: response.StatusCode}
	}
	return decodeError(response)
}

type subscription struct {
	conn   *websocket.Conn
	events chan domain.ChangeEvent
	done   chan struct{}
	once   sync.Once
	log    *zap.Logger
}

func (s *subscription) Events() <-chan domain.ChangeEvent {
	return s.events
}

// Close закрывает соединение. Events закроется, когда завершится чтение.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *subscription) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscription) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closing() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, io.EOF) {
				s.log.Debug("feed read failed", zap.Error(err))
			}
			return
		}

		var ev domain.ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.Debug("skipping malformed feed message", zap.Error(err))
			continue
		}
		ev.SubjectID = strings.TrimSpace(ev.SubjectID)

		select {
		case s.events <- ev:
		case <-s.done:
			return
		default:
			s.log.Debug("feed buffer full, event coalesced", zap.String("type", string(ev.Type)))
		}
	}
}
