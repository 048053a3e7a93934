package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/UkralStul/threaded-comments/internal/client"
	"github.com/UkralStul/threaded-comments/internal/commentstore"
	"github.com/UkralStul/threaded-comments/internal/commentview"
	"github.com/UkralStul/threaded-comments/internal/domain"
	"github.com/UkralStul/threaded-comments/internal/tree"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const watchHelp = "commands: post <text> | reply <id> <text> | like <id> | unlike <id> | delete <id> | r | q"

func newWatchCmd(a *app) *cobra.Command {
	var noClear bool
	cmd := &cobra.Command{
		Use:   "watch [subject-id]",
		Short: "Show a comment thread and keep it live",
		Long: `Show a comment thread and redraw it whenever someone comments, likes or deletes.
Type commands on stdin to act on the thread (` + watchHelp + `).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lookupCtx, cancel := a.timeout(ctx)
			subject, err := a.subject(lookupCtx, args[0])
			cancel()
			if err != nil {
				return err
			}

			view := commentview.New(a.client(),
				commentview.WithLogger(a.log.Named("view")),
				commentview.WithReloadLimit(a.cfg.ReloadMinInterval),
			)
			defer view.Close()

			if err := view.Open(ctx, subject.ID); err != nil {
				// Ошибка видна в снимке, можно повторить командой r
				a.log.Debug("initial load failed", zap.Error(err))
			}

			w := &watcher{
				app:     a,
				view:    view,
				title:   subject.Title,
				out:     cmd.OutOrStdout(),
				noClear: noClear,
				msgs:    make(chan string, 8),
			}
			return w.loop(ctx, readLines(cmd.InOrStdin()))
		},
	}
	cmd.Flags().BoolVar(&noClear, "no-clear", false, "append frames instead of clearing the screen")
	return cmd
}

type watcher struct {
	app     *app
	view    *commentview.View
	title   string
	out     io.Writer
	noClear bool
	msgs    chan string
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()
	return lines
}

func (w *watcher) loop(ctx context.Context, lines <-chan string) error {
	store := w.view.Store()
	w.draw()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-store.Changes():
			if !ok {
				return nil
			}
			w.draw()
		case n, ok := <-store.Notices():
			if ok {
				w.app.renderer(w.out).Notice(n)
			}
		case msg := <-w.msgs:
			fmt.Fprintln(w.out, msg)
		case line, ok := <-lines:
			if !ok {
				// stdin закрыт, просто продолжаем смотреть
				lines = nil
				continue
			}
			if w.handle(ctx, line) {
				return nil
			}
		}
	}
}

func (w *watcher) draw() {
	if !w.noClear {
		fmt.Fprint(w.out, "\033[H\033[2J")
	}
	snap := w.view.Store().Snapshot()
	live := color.GreenString("live")
	if !w.view.Live() {
		live = color.HiBlackString("not live")
	}
	fmt.Fprintf(w.out, "%s (%s) · %s · %d comments\n\n", color.New(color.Bold).Sprint(w.title), snap.SubjectID, live, tree.Count(snap.Tree))
	w.app.renderer(w.out).Snapshot(snap)
	color.New(color.FgHiBlack).Fprintln(w.out, "\n"+watchHelp)
}

// handle разбирает команду. true - выйти.
func (w *watcher) handle(ctx context.Context, line string) bool {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	store := w.view.Store()

	switch verb {
	case "":
		return false
	case "q", "quit", "exit":
		return true
	case "r", "retry":
		w.async(func() error { return store.Retry(ctx) })
	case "post":
		w.submit(ctx, rest, nil)
	case "reply":
		id, text, _ := strings.Cut(rest, " ")
		w.submit(ctx, strings.TrimSpace(text), &id)
	case "like":
		w.async(func() error { return store.Like(ctx, rest) })
	case "unlike":
		w.async(func() error { return store.Unlike(ctx, rest) })
	case "delete":
		w.async(func() error { return store.Remove(ctx, rest) })
	default:
		w.say("unknown command " + verb + "; " + watchHelp)
	}
	return false
}

// async выполняет действие, не блокируя перерисовку. Ошибки сервера придут
// через Notices, здесь печатаем только отказ до сети.
func (w *watcher) async(fn func() error) {
	go func() {
		err := fn()
		switch {
		case err == nil:
		case errors.Is(err, commentstore.ErrToggleInFlight):
			w.say("wait, the previous like is still in flight")
		case isLocalRejection(err):
			w.say(color.RedString("! %v", err))
		}
	}()
}

// submit отправляет комментарий. Если сервер откажет, текст вернется в
// уведомлении, а при отказе до сети печатаем его здесь.
func (w *watcher) submit(ctx context.Context, text string, parentID *string) {
	go func() {
		if parentID != nil {
			if err := w.app.checkParent(ctx, w.view.Store(), *parentID); err != nil {
				w.rejected(err, text)
				return
			}
		}
		_, err := w.view.Store().Submit(ctx, text, parentID)
		if err != nil && isLocalRejection(err) {
			w.rejected(err, text)
		}
	}()
}

func (w *watcher) rejected(err error, text string) {
	msg := color.RedString("! %v", err)
	if text != "" {
		msg += "\n" + color.HiBlackString("  your text: %s", text)
	}
	w.say(msg)
}

// isLocalRejection - ошибка, после которой запрос на сервер не уходил и
// уведомления не будет.
func isLocalRejection(err error) bool {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return false
	}
	for _, local := range []error{
		domain.ErrEmptyContent,
		domain.ErrMaxDepthExceeded,
		domain.ErrCommentNotFound,
		commentstore.ErrNoSubject,
	} {
		if errors.Is(err, local) {
			return true
		}
	}
	return false
}

func (w *watcher) say(msg string) {
	select {
	case w.msgs <- msg:
	default:
	}
}
