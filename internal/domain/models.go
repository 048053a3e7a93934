package domain

import "time"

// MaxReplyDepth - максимальная глубина вложенности: корень, ответ, ответ на ответ.
const MaxReplyDepth = 2

// MaxContentLength - ограничение длины комментария в байтах.
const MaxContentLength = 2000

// Subject представляет пост (или другой объект), к которому привязаны комментарии.
type Subject struct {
	ID              string     `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Title           string     `json:"title" gorm:"type:varchar(255);not null"`
	Content         string     `json:"content" gorm:"type:text;not null"`
	AuthorID        string     `json:"authorId" gorm:"type:varchar(255);not null"`
	CommentsEnabled bool       `json:"commentsEnabled" gorm:"not null;default:true"`
	CreatedAt       time.Time  `json:"createdAt" gorm:"not null;default:now()"`
	Comments        []*Comment `json:"-" gorm:"foreignKey:SubjectID"` // gorm only
}

// Comment - плоский комментарий в том виде, в котором его отдает хранилище.
type Comment struct {
	ID             string    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	SubjectID      string    `json:"subjectId" gorm:"type:uuid;not null;index"`
	AuthorID       string    `json:"authorId" gorm:"type:varchar(255);not null"`
	ParentID       *string   `json:"parentCommentId" gorm:"type:uuid;index"`
	Content        string    `json:"content" gorm:"type:varchar(2000);not null"`
	CreatedAt      time.Time `json:"createdAt" gorm:"not null;default:now()"`
	LikeCount      int       `json:"likeCount" gorm:"not null;default:0"`
	ViewerHasLiked bool      `json:"viewerHasLiked" gorm:"-"`
	Depth          int       `json:"depth" gorm:"not null;default:0"`
}

// IsTopLevel проверяет, является ли комментарий корневым.
func (c *Comment) IsTopLevel() bool {
	return c.ParentID == nil
}

// CanReply - на комментарии глубины MaxReplyDepth и глубже отвечать нельзя.
func (c *Comment) CanReply() bool {
	return c.Depth < MaxReplyDepth
}

// CommentLike - отметка "нравится" конкретного пользователя.
type CommentLike struct {
	CommentID string    `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"type:varchar(255);primaryKey"`
	CreatedAt time.Time `gorm:"not null;default:now()"`
}

// CommentNode - узел дерева комментариев.
type CommentNode struct {
	Comment
	Replies []*CommentNode `json:"replies"`
}

// ChangeType - тип изменения в ленте.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent - уведомление об изменении комментария в рамках одного subject.
type ChangeEvent struct {
	Type      ChangeType `json:"type"`
	SubjectID string     `json:"subjectId"`
	CommentID string     `json:"commentId"`
	At        time.Time  `json:"at"`
}
