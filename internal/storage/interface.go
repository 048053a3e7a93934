package storage

import (
	"context"
	"strings"

	"github.com/UkralStul/threaded-comments/internal/domain"
)

// Storage определяет контракт для хранилищ.
type Storage interface {
	GetSubjects(ctx context.Context, limit, offset int) ([]*domain.Subject, error)
	GetSubjectByID(ctx context.Context, id string) (*domain.Subject, error)
	CreateSubject(ctx context.Context, subject *domain.Subject) (*domain.Subject, error)
	ToggleComments(ctx context.Context, subjectID string, enable bool) (*domain.Subject, error)

	CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error)
	GetCommentByID(ctx context.Context, id string) (*domain.Comment, error)
	// GetCommentsBySubjectID отдает все комментарии subject, старые первыми.
	GetCommentsBySubjectID(ctx context.Context, subjectID string) ([]*domain.Comment, error)
	// DeleteComment удаляет только сам комментарий; ответы остаются в хранилище.
	DeleteComment(ctx context.Context, commentID, userID string) (*domain.Comment, error)

	// Лайки идемпотентны: повторный лайк не меняет счетчик.
	LikeComment(ctx context.Context, commentID, userID string) (*domain.Comment, error)
	UnlikeComment(ctx context.Context, commentID, userID string) (*domain.Comment, error)

	// Метод для Dataloader'а
	GetLikedCommentIDs(ctx context.Context, userID string, commentIDs []string) (map[string]bool, error)
}

// ValidateContent - общая проверка текста комментария для всех реализаций.
func ValidateContent(content string) error {
	if len(content) > domain.MaxContentLength {
		return domain.ErrContentTooLong
	}
	if strings.TrimSpace(content) == "" {
		return domain.ErrEmptyContent
	}
	return nil
}
