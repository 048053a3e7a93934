// Package api - HTTP-интерфейс сервиса комментариев и лента изменений по WebSocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/UkralStul/threaded-comments/internal/dataloader"
	"github.com/UkralStul/threaded-comments/internal/domain"
	"github.com/UkralStul/threaded-comments/internal/feed"
	"github.com/UkralStul/threaded-comments/internal/logging"
	"github.com/UkralStul/threaded-comments/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultPingInterval - интервал keep-alive пингов в ленте изменений.
const DefaultPingInterval = 10 * time.Second

// NewSubject - тело запроса на создание subject.
type NewSubject struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	AuthorID string `json:"authorId"`
}

// NewComment - тело запроса на создание комментария.
type NewComment struct {
	Content         string  `json:"content"`
	ParentCommentID *string `json:"parentCommentId,omitempty"`
}

// ToggleCommentsRequest - включение/выключение комментариев.
type ToggleCommentsRequest struct {
	Enabled bool `json:"enabled"`
}

// Handler содержит все зависимости, которые нужны для обработки запросов.
type Handler struct {
	Storage      storage.Storage
	Broker       feed.Broker
	PingInterval time.Duration

	log      *zap.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewHandler - конструктор обработчика.
func NewHandler(store storage.Storage, broker feed.Broker, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Storage:      store,
		Broker:       broker,
		PingInterval: DefaultPingInterval,
		log:          log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Routes собирает роутер со всеми маршрутами.
func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(logging.Middleware(h.log))
	router.Use(middleware.Recoverer)
	router.Use(func(next http.Handler) http.Handler { return dataloader.Middleware(h.Storage, next) })

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Route("/subjects", func(r chi.Router) {
		r.Get("/", h.ListSubjects)
		r.Post("/", h.CreateSubject)
		r.Route("/{subjectID}", func(r chi.Router) {
			r.Get("/", h.GetSubject)
			r.Patch("/comments-enabled", h.ToggleComments)
			r.Get("/comments", h.ListComments)
			r.Post("/comments", h.CreateComment)
			r.Get("/comments/feed", h.Feed)
		})
	})

	router.Route("/comments/{commentID}", func(r chi.Router) {
		r.Get("/", h.GetComment)
		r.Delete("/", h.DeleteComment)
		r.Put("/like", h.LikeComment)
		r.Delete("/like", h.UnlikeComment)
	})

	return router
}

func viewerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(dataloader.ViewerHeader))
}

// === Subject Handlers ===

func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	limit, offset := 10, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	subjects, err := h.Storage.GetSubjects(r.Context(), limit, offset)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	var input NewSubject
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if input.AuthorID == "" {
		input.AuthorID = viewerID(r)
	}
	if strings.TrimSpace(input.Title) == "" || input.AuthorID == "" {
		writeError(w, http.StatusUnprocessableEntity, "title and authorId are required")
		return
	}

	subject, err := h.Storage.CreateSubject(r.Context(), &domain.Subject{
		Title:           input.Title,
		Content:         input.Content,
		AuthorID:        input.AuthorID,
		CommentsEnabled: true,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, subject)
}

func (h *Handler) GetSubject(w http.ResponseWriter, r *http.Request) {
	subject, err := h.Storage.GetSubjectByID(r.Context(), chi.URLParam(r, "subjectID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subject)
}

func (h *Handler) ToggleComments(w http.ResponseWriter, r *http.Request) {
	var input ToggleCommentsRequest
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	subject, err := h.Storage.ToggleComments(r.Context(), chi.URLParam(r, "subjectID"), input.Enabled)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subject)
}

// === Comment Handlers ===

// ListComments отдает плоский список комментариев subject с флагом
// viewerHasLiked для текущего пользователя.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	comments, err := h.Storage.GetCommentsBySubjectID(ctx, chi.URLParam(r, "subjectID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	loaders := dataloader.For(ctx)
	if loaders == nil {
		loaders = dataloader.NewLoaders(h.Storage, viewerID(r))
	}
	ids := make([]string, len(comments))
	for i, c := range comments {
		ids[i] = c.ID
	}
	liked, err := loaders.LikedFlags(ctx, ids)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	for _, c := range comments {
		c.ViewerHasLiked = liked[c.ID]
	}
	writeJSON(w, http.StatusOK, comments)
}

// GetComment отдает один комментарий, например родителя ответа.
func (h *Handler) GetComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	comment, err := h.Storage.GetCommentByID(ctx, chi.URLParam(r, "commentID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	loaders := dataloader.For(ctx)
	if loaders == nil {
		loaders = dataloader.NewLoaders(h.Storage, viewerID(r))
	}
	liked, err := loaders.LikedFlags(ctx, []string{comment.ID})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	comment.ViewerHasLiked = liked[comment.ID]
	writeJSON(w, http.StatusOK, comment)
}

func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	viewer := viewerID(r)
	if viewer == "" {
		h.writeDomainError(w, domain.ErrMissingViewer)
		return
	}
	var input NewComment
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	newComment, err := h.Storage.CreateComment(r.Context(), &domain.Comment{
		SubjectID: chi.URLParam(r, "subjectID"),
		ParentID:  input.ParentCommentID,
		AuthorID:  viewer,
		Content:   input.Content,
	})
	if err != nil {
		// Ошибки (subject не найден, комменты выключены) обрабатываются в слое Storage
		h.writeDomainError(w, err)
		return
	}

	h.publish(r.Context(), domain.ChangeInsert, newComment)
	writeJSON(w, http.StatusCreated, newComment)
}

func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	viewer := viewerID(r)
	if viewer == "" {
		h.writeDomainError(w, domain.ErrMissingViewer)
		return
	}
	deleted, err := h.Storage.DeleteComment(r.Context(), chi.URLParam(r, "commentID"), viewer)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.publish(r.Context(), domain.ChangeDelete, deleted)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LikeComment(w http.ResponseWriter, r *http.Request) {
	h.toggleLike(w, r, h.Storage.LikeComment)
}

func (h *Handler) UnlikeComment(w http.ResponseWriter, r *http.Request) {
	h.toggleLike(w, r, h.Storage.UnlikeComment)
}

func (h *Handler) toggleLike(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, commentID, userID string) (*domain.Comment, error)) {
	viewer := viewerID(r)
	if viewer == "" {
		h.writeDomainError(w, domain.ErrMissingViewer)
		return
	}
	comment, err := op(r.Context(), chi.URLParam(r, "commentID"), viewer)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.publish(r.Context(), domain.ChangeUpdate, comment)
	writeJSON(w, http.StatusOK, comment)
}

// publish уведомляет подписчиков. Мутация уже применена, поэтому ошибка
// только логируется.
func (h *Handler) publish(ctx context.Context, typ domain.ChangeType, c *domain.Comment) {
	if h.Broker == nil {
		return
	}
	ev := domain.ChangeEvent{Type: typ, SubjectID: c.SubjectID, CommentID: c.ID, At: h.now()}
	// Не привязываемся к контексту запроса: клиент может уже отключиться
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := h.Broker.Publish(pubCtx, ev); err != nil {
		h.log.Warn("failed to publish change event",
			zap.String("subject_id", ev.SubjectID),
			zap.String("comment_id", ev.CommentID),
			zap.Error(err),
		)
	}
}

// === Feed ===

// Feed поднимает WebSocket и пишет в него события subject, пока клиент
// не отключится.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	// Проверяем, существует ли subject, прежде чем подписываться
	if _, err := h.Storage.GetSubjectByID(r.Context(), subjectID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if h.Broker == nil {
		writeError(w, http.StatusServiceUnavailable, "change feed is not configured")
		return
	}

	// Подписываемся до рукопожатия: после ответа 101 клиент не должен
	// терять события
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	events, err := h.Broker.Subscribe(ctx, subjectID)
	if err != nil {
		h.log.Warn("feed subscribe failed", zap.String("subject_id", subjectID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "change feed is unavailable")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ping := h.PingInterval
	if ping <= 0 {
		ping = DefaultPingInterval
	}

	// Горутина чтения: обрабатывает pong/close и отменяет подписку при отключении
	_ = conn.SetReadDeadline(time.Now().Add(2 * ping))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * ping))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.log.Debug("feed subscriber connected", zap.String("subject_id", subjectID))
	defer h.log.Debug("feed subscriber disconnected", zap.String("subject_id", subjectID))

	ticker := time.NewTicker(ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(ping))
			if err := conn.WriteJSON(ev); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					h.log.Debug("feed write failed", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ping)); err != nil {
				return
			}
		}
	}
}
