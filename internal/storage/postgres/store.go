package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/UkralStul/threaded-comments/internal/domain"
	"github.com/UkralStul/threaded-comments/internal/storage"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store реализует интерфейс Storage с использованием PostgreSQL.
type Store struct {
	db *gorm.DB
}

var _ storage.Storage = (*Store)(nil)

// New создает новый экземпляр хранилища PostgreSQL. verbose включает
// логирование каждого SQL-запроса.
func New(dsn string, verbose bool) (*Store, error) {
	level := logger.Warn
	if verbose {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Выполняем миграцию схемы
	if err := db.AutoMigrate(&domain.Subject{}, &domain.Comment{}, &domain.CommentLike{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close закрывает пул соединений.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// === Subject Methods ===

func (s *Store) CreateSubject(ctx context.Context, subject *domain.Subject) (*domain.Subject, error) {
	if err := s.db.WithContext(ctx).Create(subject).Error; err != nil {
		return nil, err
	}
	// GORM автоматически заполнит ID и CreatedAt после создания
	return subject, nil
}

func (s *Store) GetSubjectByID(ctx context.Context, id string) (*domain.Subject, error) {
	if !validID(id) {
		return nil, domain.ErrSubjectNotFound
	}
	var subject domain.Subject
	if err := s.db.WithContext(ctx).First(&subject, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrSubjectNotFound)
	}
	return &subject, nil
}

func (s *Store) GetSubjects(ctx context.Context, limit, offset int) ([]*domain.Subject, error) {
	var subjects []*domain.Subject
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset).Find(&subjects).Error
	return subjects, err
}

func (s *Store) ToggleComments(ctx context.Context, subjectID string, enable bool) (*domain.Subject, error) {
	if !validID(subjectID) {
		return nil, domain.ErrSubjectNotFound
	}
	var subject domain.Subject
	// Используем транзакцию для атомарности операции чтения-записи
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&subject, "id = ?", subjectID).Error; err != nil {
			return notFound(err, domain.ErrSubjectNotFound)
		}
		subject.CommentsEnabled = enable
		return tx.Save(&subject).Error
	})

	if err != nil {
		return nil, err
	}
	return &subject, nil
}

// === Comment Methods ===

func (s *Store) CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	if err := storage.ValidateContent(comment.Content); err != nil {
		return nil, err
	}
	if !validID(comment.SubjectID) {
		return nil, domain.ErrSubjectNotFound
	}
	if comment.ParentID != nil && !validID(*comment.ParentID) {
		return nil, domain.ErrParentNotFound
	}

	// Проверяем subject, родителя и глубину в одной транзакции
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var subject domain.Subject
		if err := tx.Select("comments_enabled").First(&subject, "id = ?", comment.SubjectID).Error; err != nil {
			return notFound(err, domain.ErrSubjectNotFound)
		}
		if !subject.CommentsEnabled {
			return domain.ErrCommentsDisabled
		}

		comment.Depth = 0
		if comment.ParentID != nil {
			var parent domain.Comment
			err := tx.Select("id", "depth").
				First(&parent, "id = ? AND subject_id = ?", *comment.ParentID, comment.SubjectID).Error
			if err != nil {
				return notFound(err, domain.ErrParentNotFound)
			}
			if parent.Depth >= domain.MaxReplyDepth {
				return domain.ErrMaxDepthExceeded
			}
			comment.Depth = parent.Depth + 1
		}

		comment.LikeCount = 0
		return tx.Create(comment).Error
	})

	if err != nil {
		return nil, err
	}
	comment.ViewerHasLiked = false
	return comment, nil
}

func (s *Store) GetCommentByID(ctx context.Context, id string) (*domain.Comment, error) {
	if !validID(id) {
		return nil, domain.ErrCommentNotFound
	}
	var comment domain.Comment
	if err := s.db.WithContext(ctx).First(&comment, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrCommentNotFound)
	}
	return &comment, nil
}

func (s *Store) GetCommentsBySubjectID(ctx context.Context, subjectID string) ([]*domain.Comment, error) {
	if _, err := s.GetSubjectByID(ctx, subjectID); err != nil {
		return nil, err
	}
	var comments []*domain.Comment
	err := s.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at ASC, id ASC").
		Find(&comments).Error
	return comments, err
}

func (s *Store) DeleteComment(ctx context.Context, commentID, userID string) (*domain.Comment, error) {
	if !validID(commentID) {
		return nil, domain.ErrCommentNotFound
	}
	var comment domain.Comment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&comment, "id = ?", commentID).Error; err != nil {
			return notFound(err, domain.ErrCommentNotFound)
		}
		if comment.AuthorID != userID {
			return domain.ErrForbidden
		}
		if err := tx.Where("comment_id = ?", commentID).Delete(&domain.CommentLike{}).Error; err != nil {
			return err
		}
		// Ответы не трогаем: они станут недостижимыми при построении дерева
		return tx.Delete(&domain.Comment{}, "id = ?", commentID).Error
	})
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// === Like Methods ===

func (s *Store) LikeComment(ctx context.Context, commentID, userID string) (*domain.Comment, error) {
	if !validID(commentID) {
		return nil, domain.ErrCommentNotFound
	}
	var comment domain.Comment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&comment, "id = ?", commentID).Error; err != nil {
			return notFound(err, domain.ErrCommentNotFound)
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&domain.CommentLike{CommentID: commentID, UserID: userID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		comment.LikeCount++
		return tx.Model(&domain.Comment{}).Where("id = ?", commentID).
			Update("like_count", gorm.Expr("like_count + 1")).Error
	})
	if err != nil {
		return nil, err
	}
	comment.ViewerHasLiked = true
	return &comment, nil
}

func (s *Store) UnlikeComment(ctx context.Context, commentID, userID string) (*domain.Comment, error) {
	if !validID(commentID) {
		return nil, domain.ErrCommentNotFound
	}
	var comment domain.Comment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&comment, "id = ?", commentID).Error; err != nil {
			return notFound(err, domain.ErrCommentNotFound)
		}
		res := tx.Where("comment_id = ? AND user_id = ?", commentID, userID).Delete(&domain.CommentLike{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if comment.LikeCount > 0 {
			comment.LikeCount--
		}
		return tx.Model(&domain.Comment{}).Where("id = ? AND like_count > 0", commentID).
			Update("like_count", gorm.Expr("like_count - 1")).Error
	})
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// === Dataloader Method ===

func (s *Store) GetLikedCommentIDs(ctx context.Context, userID string, commentIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(commentIDs))
	for _, id := range commentIDs {
		result[id] = false
	}
	if len(commentIDs) == 0 || userID == "" {
		return result, nil
	}

	ids := make([]string, 0, len(commentIDs))
	for _, id := range commentIDs {
		if validID(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return result, nil
	}

	var liked []string
	// Загружаем отметки для всех переданных comment_id одним запросом
	err := s.db.WithContext(ctx).
		Model(&domain.CommentLike{}).
		Where("user_id = ? AND comment_id IN ?", userID, ids).
		Pluck("comment_id", &liked).Error
	if err != nil {
		return nil, err
	}
	for _, id := range liked {
		result[id] = true
	}
	return result, nil
}

// validID: колонки id имеют тип uuid, и Postgres отвечает на строку другого
// вида ошибкой, а не пустым результатом.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
