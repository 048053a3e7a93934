package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/UkralStul/threaded-comments/internal/domain"
	"github.com/UkralStul/threaded-comments/internal/storage"
	"github.com/google/uuid"
)

// Store реализует интерфейс Storage в памяти.
type Store struct {
	mu                sync.RWMutex
	subjects          map[string]*domain.Subject
	comments          map[string]*domain.Comment
	commentsBySubject map[string][]string            // map[subjectID][]commentID (все, в порядке создания)
	likes             map[string]map[string]struct{} // map[commentID]set[userID]
	now               func() time.Time
}

// New создает новый экземпляр in-memory хранилища.
func New() *Store {
	return &Store{
		subjects:          make(map[string]*domain.Subject),
		comments:          make(map[string]*domain.Comment),
		commentsBySubject: make(map[string][]string),
		likes:             make(map[string]map[string]struct{}),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

var _ storage.Storage = (*Store)(nil)

// === Subject Methods ===

func (s *Store) CreateSubject(ctx context.Context, subject *domain.Subject) (*domain.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *subject
	stored.ID = uuid.NewString()
	stored.CreatedAt = s.now()
	s.subjects[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (s *Store) GetSubjectByID(ctx context.Context, id string) (*domain.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subject, ok := s.subjects[id]
	if !ok {
		return nil, fmt.Errorf("subject with id %s: %w", id, domain.ErrSubjectNotFound)
	}
	out := *subject
	return &out, nil
}

func (s *Store) GetSubjects(ctx context.Context, limit, offset int) ([]*domain.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*domain.Subject, 0, len(s.subjects))
	for _, p := range s.subjects {
		cp := *p
		all = append(all, &cp)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	start := offset
	if start >= len(all) {
		return []*domain.Subject{}, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (s *Store) ToggleComments(ctx context.Context, subjectID string, enable bool) (*domain.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subject, ok := s.subjects[subjectID]
	if !ok {
		return nil, fmt.Errorf("subject with id %s: %w", subjectID, domain.ErrSubjectNotFound)
	}
	subject.CommentsEnabled = enable
	out := *subject
	return &out, nil
}

// === Comment Methods ===

func (s *Store) CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Проверка subject
	subject, ok := s.subjects[comment.SubjectID]
	if !ok {
		return nil, domain.ErrSubjectNotFound
	}
	if !subject.CommentsEnabled {
		return nil, domain.ErrCommentsDisabled
	}

	if err := storage.ValidateContent(comment.Content); err != nil {
		return nil, err
	}

	stored := *comment
	stored.Depth = 0

	// Родитель должен существовать в том же subject
	if comment.ParentID != nil {
		parent, ok := s.comments[*comment.ParentID]
		if !ok || parent.SubjectID != comment.SubjectID {
			return nil, domain.ErrParentNotFound
		}
		if parent.Depth >= domain.MaxReplyDepth {
			return nil, domain.ErrMaxDepthExceeded
		}
		stored.Depth = parent.Depth + 1
		parentID := parent.ID
		stored.ParentID = &parentID
	}

	stored.ID = uuid.NewString()
	stored.CreatedAt = s.now()
	stored.LikeCount = 0
	stored.ViewerHasLiked = false
	s.comments[stored.ID] = &stored
	s.commentsBySubject[stored.SubjectID] = append(s.commentsBySubject[stored.SubjectID], stored.ID)

	return copyComment(&stored), nil
}

func (s *Store) GetCommentByID(ctx context.Context, id string) (*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	comment, ok := s.comments[id]
	if !ok {
		return nil, domain.ErrCommentNotFound
	}
	return copyComment(comment), nil
}

func (s *Store) GetCommentsBySubjectID(ctx context.Context, subjectID string) ([]*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.subjects[subjectID]; !ok {
		return nil, domain.ErrSubjectNotFound
	}

	ids := s.commentsBySubject[subjectID]
	out := make([]*domain.Comment, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.comments[id]; ok {
			out = append(out, copyComment(c))
		}
	}
	// Сортируем по времени создания, порядок вставки сохраняется при равенстве
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DeleteComment(ctx context.Context, commentID, userID string) (*domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comment, ok := s.comments[commentID]
	if !ok {
		return nil, domain.ErrCommentNotFound
	}
	if comment.AuthorID != userID {
		return nil, domain.ErrForbidden
	}

	delete(s.comments, commentID)
	delete(s.likes, commentID)
	ids := s.commentsBySubject[comment.SubjectID]
	for i, id := range ids {
		if id == commentID {
			s.commentsBySubject[comment.SubjectID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return copyComment(comment), nil
}

// === Like Methods ===

func (s *Store) LikeComment(ctx context.Context, commentID, userID string) (*domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comment, ok := s.comments[commentID]
	if !ok {
		return nil, domain.ErrCommentNotFound
	}
	likers := s.likes[commentID]
	if likers == nil {
		likers = make(map[string]struct{})
		s.likes[commentID] = likers
	}
	if _, liked := likers[userID]; !liked {
		likers[userID] = struct{}{}
		comment.LikeCount++
	}
	out := copyComment(comment)
	out.ViewerHasLiked = true
	return out, nil
}

func (s *Store) UnlikeComment(ctx context.Context, commentID, userID string) (*domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comment, ok := s.comments[commentID]
	if !ok {
		return nil, domain.ErrCommentNotFound
	}
	if _, liked := s.likes[commentID][userID]; liked {
		delete(s.likes[commentID], userID)
		if comment.LikeCount > 0 {
			comment.LikeCount--
		}
	}
	return copyComment(comment), nil
}

// === Dataloader Methods ===

func (s *Store) GetLikedCommentIDs(ctx context.Context, userID string, commentIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[string]bool, len(commentIDs))
	for _, id := range commentIDs {
		_, liked := s.likes[id][userID]
		results[id] = liked
	}
	return results, nil
}

func copyComment(c *domain.Comment) *domain.Comment {
	out := *c
	if c.ParentID != nil {
		p := *c.ParentID
		out.ParentID = &p
	}
	return &out
}
