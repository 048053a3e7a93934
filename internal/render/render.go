// Package render печатает дерево комментариев в терминал.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/UkralStul/threaded-comments/internal/commentstore"
	"github.com/UkralStul/threaded-comments/internal/domain"
	"github.com/UkralStul/threaded-comments/internal/tree"
	"github.com/fatih/color"
)

const indent = "    "

// Renderer рисует снимки хранилища для одного пользователя.
type Renderer struct {
	w        io.Writer
	viewerID string
	now      func() time.Time

	author  *color.Color
	muted   *color.Color
	liked   *color.Color
	action  *color.Color
	failure *color.Color
}

func New(w io.Writer, viewerID string) *Renderer {
	return &Renderer{
		w:        w,
		viewerID: viewerID,
		now:      time.Now,
		author:   color.New(color.FgCyan, color.Bold),
		muted:    color.New(color.FgHiBlack),
		liked:    color.New(color.FgRed),
		action:   color.New(color.FgYellow),
		failure:  color.New(color.FgRed, color.Bold),
	}
}

// Snapshot печатает строку состояния и дерево.
func (r *Renderer) Snapshot(snap commentstore.Snapshot) {
	switch snap.Status {
	case commentstore.StatusIdle:
		r.muted.Fprintln(r.w, "nothing loaded")
		return
	case commentstore.StatusErrored:
		r.failure.Fprintf(r.w, "comments unavailable: %v\n", snap.Err)
		r.muted.Fprintln(r.w, "press r and Enter to retry")
		return
	case commentstore.StatusLoading:
		if len(snap.Tree) == 0 {
			r.muted.Fprintln(r.w, "loading comments...")
			return
		}
		// Старое дерево остается под индикатором
		r.muted.Fprintln(r.w, "updating...")
	}

	if len(snap.Tree) == 0 {
		r.muted.Fprintln(r.w, "no comments yet")
		return
	}
	r.Tree(snap.Tree, snap.Pending)
}

// Tree печатает узлы с отступом по уровню. pending - комментарии с лайком в пути.
func (r *Renderer) Tree(roots []*domain.CommentNode, pending map[string]bool) {
	tree.Walk(roots, func(n *domain.CommentNode, level int) bool {
		r.node(n, level, pending)
		return true
	})
}

func (r *Renderer) node(n *domain.CommentNode, level int, pending map[string]bool) {
	pad := strings.Repeat(indent, level)

	fmt.Fprintf(r.w, "%s%s %s\n", pad, r.author.Sprint(n.AuthorID), r.muted.Sprintf("· %s · %s", Age(r.now().Sub(n.CreatedAt)), n.ID))
	for _, line := range strings.Split(n.Content, "\n") {
		fmt.Fprintf(r.w, "%s  %s\n", pad, line)
	}

	heart := "♡"
	if n.ViewerHasLiked {
		heart = r.liked.Sprint("♥")
	}
	status := fmt.Sprintf("%s %d", heart, n.LikeCount)
	if pending[n.ID] {
		status += r.muted.Sprint(" ...")
	}

	var actions []string
	if n.CanReply() {
		actions = append(actions, r.action.Sprint("[reply]"))
	}
	if r.viewerID != "" && n.AuthorID == r.viewerID {
		actions = append(actions, r.action.Sprint("[delete]"))
	}
	if len(actions) > 0 {
		status += "  " + strings.Join(actions, " ")
	}
	fmt.Fprintf(r.w, "%s  %s\n", pad, status)
}

// Notice печатает уведомление об ошибке действия.
func (r *Renderer) Notice(n commentstore.Notice) {
	r.failure.Fprintf(r.w, "! %s\n", n.Error())
	if n.Draft != "" {
		r.Draft(n.Draft)
	}
}

// Draft печатает неотправленный текст, чтобы его можно было отправить снова.
func (r *Renderer) Draft(text string) {
	r.muted.Fprintf(r.w, "  your text: %s\n", text)
}

// Age - короткая подпись возраста комментария.
func Age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}
