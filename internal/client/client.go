// Package client - доступ к сервису комментариев по HTTP и лента
// изменений по WebSocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/UkralStul/threaded-comments/internal/commentstore"
	"github.com/UkralStul/threaded-comments/internal/domain"
	"github.com/UkralStul/threaded-comments/internal/livesync"
	"go.uber.org/zap"
)

// ViewerHeader - заголовок, в котором сервер ждет id пользователя.
const ViewerHeader = "X-User-ID"

// Client - HTTP-клиент сервиса комментариев
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
	timeout    time.Duration
	log        *zap.Logger
}

var (
	_ commentstore.DataAccess = (*Client)(nil)
	_ livesync.ChangeFeed     = (*Client)(nil)
)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout ограничивает время одного запроса и рукопожатия WebSocket.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
			c.httpClient.Timeout = d
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New - конструктор клиента. userID может быть пустым для чтения без входа.
func New(apiURL, userID string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(apiURL, "/"),
		userID:  strings.TrimSpace(userID),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		timeout: 10 * time.Second,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// === Subjects ===

func (c *Client) ListSubjects(ctx context.Context, limit, offset int) ([]domain.Subject, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var subjects []domain.Subject
	if err := c.do(ctx, http.MethodGet, "/subjects?"+q.Encode(), nil, &subjects); err != nil {
		return nil, err
	}
	return subjects, nil
}

func (c *Client) GetSubject(ctx context.Context, subjectID string) (*domain.Subject, error) {
	var subject domain.Subject
	if err := c.do(ctx, http.MethodGet, "/subjects/"+url.PathEscape(subjectID), nil, &subject); err != nil {
		return nil, err
	}
	return &subject, nil
}

// === Comments ===

// FetchComments возвращает все комментарии subject, уже нормализованные.
func (c *Client) FetchComments(ctx context.Context, subjectID string) ([]domain.Comment, error) {
	var raw []wireComment
	if err := c.do(ctx, http.MethodGet, "/subjects/"+url.PathEscape(subjectID)+"/comments", nil, &raw); err != nil {
		return nil, err
	}
	comments := make([]domain.Comment, 0, len(raw))
	for _, w := range raw {
		comments = append(comments, w.normalize())
	}
	return comments, nil
}

// GetComment возвращает один комментарий, например родителя ответа.
func (c *Client) GetComment(ctx context.Context, commentID string) (*domain.Comment, error) {
	var raw wireComment
	if err := c.do(ctx, http.MethodGet, "/comments/"+url.PathEscape(commentID), nil, &raw); err != nil {
		return nil, err
	}
	comment := raw.normalize()
	return &comment, nil
}

type createCommentRequest struct {
	Content         string  `json:"content"`
	ParentCommentID *string `json:"parentCommentId,omitempty"`
}

func (c *Client) CreateComment(ctx context.Context, subjectID, content string, parentID *string) (*domain.Comment, error) {
	var raw wireComment
	req := createCommentRequest{Content: content, ParentCommentID: parentID}
	if err := c.do(ctx, http.MethodPost, "/subjects/"+url.PathEscape(subjectID)+"/comments", req, &raw); err != nil {
		return nil, err
	}
	comment := raw.normalize()
	return &comment, nil
}

func (c *Client) LikeComment(ctx context.Context, commentID string) error {
	return c.do(ctx, http.MethodPut, "/comments/"+url.PathEscape(commentID)+"/like", nil, nil)
}

func (c *Client) UnlikeComment(ctx context.Context, commentID string) error {
	return c.do(ctx, http.MethodDelete, "/comments/"+url.PathEscape(commentID)+"/like", nil, nil)
}

func (c *Client) DeleteComment(ctx context.Context, commentID string) error {
	return c.do(ctx, http.MethodDelete, "/comments/"+url.PathEscape(commentID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set(ViewerHeader, c.userID)
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return decodeError(response)
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// === Errors ===

// APIError - ответ сервера с кодом ошибки. errors.Is сопоставляет его с
// ошибками из domain по тексту или статусу.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: %s (status %d)", e.Message, e.StatusCode)
}

// Порядок важен: сообщения сравниваются по суффиксу, и более длинные
// должны идти раньше
var known = []error{
	domain.ErrParentNotFound,
	domain.ErrSubjectNotFound,
	domain.ErrCommentNotFound,
	domain.ErrCommentsDisabled,
	domain.ErrEmptyContent,
	domain.ErrContentTooLong,
	domain.ErrMaxDepthExceeded,
	domain.ErrForbidden,
	domain.ErrMissingViewer,
}

func (e *APIError) Unwrap() error {
	for _, sentinel := range known {
		if strings.HasSuffix(e.Message, sentinel.Error()) {
			return sentinel
		}
	}
	switch e.StatusCode {
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusUnauthorized:
		return domain.ErrMissingViewer
	}
	return nil
}

func decodeError(response *http.Response) error {
	apiErr := &APIError{StatusCode: response.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(response.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// IsNotFound - subject или комментарий не существует.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return true
	}
	return errors.Is(err, domain.ErrSubjectNotFound) || errors.Is(err, domain.ErrCommentNotFound)
}
