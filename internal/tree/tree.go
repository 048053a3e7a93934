// Package tree строит дерево комментариев из плоского списка.
package tree

import "github.com/UkralStul/threaded-comments/internal/domain"

// Build превращает плоский список комментариев одного subject в список корней.
//
// Первый проход создает узел для каждого id, второй в порядке входа
// прикрепляет узел к родителю. Комментарий, чей родитель отсутствует во входе,
// никуда не прикрепляется и в результат не попадает (вместе со всеми своими
// потомками). Рекурсии по входу нет, поэтому самоссылки и циклы не приводят к
// зацикливанию: такие узлы просто недостижимы из корней.
func Build(comments []domain.Comment) []*domain.CommentNode {
	nodes := make(map[string]*domain.CommentNode, len(comments))
	order := make([]*domain.CommentNode, 0, len(comments))
	for _, c := range comments {
		if _, dup := nodes[c.ID]; dup {
			continue
		}
		n := &domain.CommentNode{Comment: c, Replies: []*domain.CommentNode{}}
		if c.ParentID != nil {
			p := *c.ParentID
			n.ParentID = &p
		}
		nodes[c.ID] = n
		order = append(order, n)
	}

	roots := make([]*domain.CommentNode, 0)
	for _, n := range order {
		if n.IsTopLevel() {
			roots = append(roots, n)
			continue
		}
		parent, ok := nodes[*n.ParentID]
		if !ok || parent == n {
			continue
		}
		parent.Replies = append(parent.Replies, n)
	}
	return roots
}

// Walk обходит дерево в прямом порядке. level - позиция узла в дереве
// (0 для корней). Если fn возвращает false, потомки узла пропускаются.
func Walk(roots []*domain.CommentNode, fn func(n *domain.CommentNode, level int) bool) {
	walk(roots, 0, fn)
}

func walk(nodes []*domain.CommentNode, level int, fn func(*domain.CommentNode, int) bool) {
	for _, n := range nodes {
		if fn(n, level) {
			walk(n.Replies, level+1, fn)
		}
	}
}

// Index строит отображение id -> узел для всех достижимых узлов.
func Index(roots []*domain.CommentNode) map[string]*domain.CommentNode {
	idx := make(map[string]*domain.CommentNode)
	Walk(roots, func(n *domain.CommentNode, _ int) bool {
		idx[n.ID] = n
		return true
	})
	return idx
}

// Clone делает глубокую копию дерева.
func Clone(roots []*domain.CommentNode) []*domain.CommentNode {
	out := make([]*domain.CommentNode, 0, len(roots))
	for _, n := range roots {
		c := &domain.CommentNode{Comment: n.Comment, Replies: Clone(n.Replies)}
		if n.ParentID != nil {
			p := *n.ParentID
			c.ParentID = &p
		}
		out = append(out, c)
	}
	return out
}

// Count возвращает число достижимых узлов.
func Count(roots []*domain.CommentNode) int {
	total := 0
	Walk(roots, func(*domain.CommentNode, int) bool {
		total++
		return true
	})
	return total
}
