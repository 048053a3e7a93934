package dataloader

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/UkralStul/threaded-comments/internal/storage"
	"github.com/graph-gophers/dataloader"
)

type contextKey string

const key = contextKey("dataloaders")

// ViewerHeader - заголовок с идентификатором текущего пользователя.
const ViewerHeader = "X-User-ID"

// Loaders содержит все дата-лоадеры приложения.
type Loaders struct {
	// LikedByViewer: commentID -> bool, лайкнул ли комментарий текущий пользователь.
	LikedByViewer *dataloader.Loader
}

// NewLoaders создает лоадеры для одного запроса конкретного пользователя.
func NewLoaders(store storage.Storage, viewerID string) *Loaders {
	// Создаем батч-функцию для лоадера
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		// Преобразуем ключи в []string
		commentIDs := make([]string, len(keys))
		for i, key := range keys {
			commentIDs[i] = key.String()
		}

		// Вызываем метод хранилища, который делает ОДИН запрос к БД
		liked, err := store.GetLikedCommentIDs(ctx, viewerID, commentIDs)
		if err != nil {
			// В случае ошибки, возвращаем ее для всех ключей
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Формируем результат в том же порядке, что и ключи
		results := make([]*dataloader.Result, len(keys))
		for i, id := range commentIDs {
			results[i] = &dataloader.Result{Data: liked[id]}
		}
		return results
	}

	return &Loaders{
		LikedByViewer: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(time.Millisecond*1)),
	}
}

// Middleware для внедрения лоадеров в контекст запроса.
func Middleware(store storage.Storage, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loaders := NewLoaders(store, strings.TrimSpace(r.Header.Get(ViewerHeader)))
		// Помещаем их в контекст
		ctx := context.WithValue(r.Context(), key, loaders)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// For извлекает лоадеры из контекста.
func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(key).(*Loaders)
	return loaders
}

// LikedFlags загружает флаги лайков для списка комментариев, группируя
// запросы в один батч.
func (l *Loaders) LikedFlags(ctx context.Context, commentIDs []string) (map[string]bool, error) {
	thunks := make([]dataloader.Thunk, len(commentIDs))
	for i, id := range commentIDs {
		thunks[i] = l.LikedByViewer.Load(ctx, dataloader.StringKey(id))
	}

	flags := make(map[string]bool, len(commentIDs))
	for i, thunk := range thunks {
		data, err := thunk()
		if err != nil {
			return nil, err
		}
		liked, _ := data.(bool)
		flags[commentIDs[i]] = liked
	}
	return flags, nil
}
