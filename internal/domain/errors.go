package domain

import "errors"

// Ошибки предметной области. Тексты совпадают с теми, что уходят клиенту.
var (
	ErrSubjectNotFound  = errors.New("subject not found")
	ErrCommentNotFound  = errors.New("comment not found")
	ErrParentNotFound   = errors.New("parent comment not found")
	ErrCommentsDisabled = errors.New("comments are disabled for this subject")
	ErrEmptyContent     = errors.New("comment content cannot be empty")
	ErrContentTooLong   = errors.New("comment content is too long")
	ErrMaxDepthExceeded = errors.New("reply depth limit reached")
	ErrForbidden        = errors.New("you don't have permission to modify this comment")
	ErrMissingViewer    = errors.New("viewer id is required")
)

// ValidationErrors - ошибки, которые означают некорректный ввод, а не сбой.
var ValidationErrors = []error{
	ErrEmptyContent,
	ErrContentTooLong,
	ErrMaxDepthExceeded,
	ErrParentNotFound,
	ErrCommentsDisabled,
}

// IsValidation сообщает, является ли err ошибкой валидации.
func IsValidation(err error) bool {
	for _, v := range ValidationErrors {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}
