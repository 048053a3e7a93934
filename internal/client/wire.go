package client

import (
	"strings"
	"time"

	"github.com/UkralStul/threaded-comments/internal/domain"
)

// wireComment - комментарий в том виде, в котором он приходит по сети.
// Все, что может прийти кривым, приводится к domain.Comment один раз здесь.
type wireComment struct {
	ID             string    `json:"id"`
	SubjectID      string    `json:"subjectId"`
	AuthorID       string    `json:"authorId"`
	ParentID       *string   `json:"parentCommentId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	LikeCount      int       `json:"likeCount"`
	ViewerHasLiked bool      `json:"viewerHasLiked"`
	Depth          int       `json:"depth"`
}

func (w wireComment) normalize() domain.Comment {
	c := domain.Comment{
		ID:             strings.TrimSpace(w.ID),
		SubjectID:      strings.TrimSpace(w.SubjectID),
		AuthorID:       strings.TrimSpace(w.AuthorID),
		Content:        w.Content,
		CreatedAt:      w.CreatedAt,
		LikeCount:      max(w.LikeCount, 0),
		ViewerHasLiked: w.ViewerHasLiked,
		Depth:          max(w.Depth, 0),
	}
	// Пустая ссылка на родителя значит корневой комментарий
	if w.ParentID != nil {
		if parent := strings.TrimSpace(*w.ParentID); parent != "" {
			c.ParentID = &parent
		}
	}
	return c
}
