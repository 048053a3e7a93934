package command

// root.go - корневая команда commentcli и общие флаги.

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/UkralStul/threaded-comments/internal/client"
	"github.com/UkralStul/threaded-comments/internal/commentstore"
	"github.com/UkralStul/threaded-comments/internal/config"
	"github.com/UkralStul/threaded-comments/internal/domain"
	"github.com/UkralStul/threaded-comments/internal/logging"
	"github.com/UkralStul/threaded-comments/internal/render"
	"github.com/UkralStul/threaded-comments/internal/tree"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app - зависимости, общие для всех подкоманд
type app struct {
	apiURL   string
	userID   string
	logLevel string
	envFile  string

	cfg *config.Config
	log *zap.Logger
}

// NewRootCmd собирает дерево команд.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "commentcli",
		Short: "commentcli - threaded comments in the terminal",
		Long: `commentcli works with the threaded comments service:
- list subjects and read their comment threads
- post comments and replies, like and delete them
- watch a thread live while other people comment

Settings come from .env and the environment (API_URL, USER_ID, ...);
flags override them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	// Глобальные флаги доступны всем подкомандам
	rootCmd.PersistentFlags().StringVar(&a.apiURL, "api", "", "API server URL (default from API_URL)")
	rootCmd.PersistentFlags().StringVarP(&a.userID, "user", "u", "", "act as this user id (default from USER_ID)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "load settings from this env file")

	rootCmd.AddCommand(
		newSubjectsCmd(a),
		newShowCmd(a),
		newWatchCmd(a),
		newPostCmd(a),
		newLikeCmd(a, true),
		newLikeCmd(a, false),
		newDeleteCmd(a),
	)
	return rootCmd
}

// Execute запускает CLI. Вызывается из main.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	var err error
	if a.envFile != "" {
		a.cfg, err = config.LoadConfigFile(a.envFile)
	} else {
		a.cfg, err = config.LoadConfig()
	}
	if err != nil {
		return err
	}
	if a.apiURL == "" {
		a.apiURL = a.cfg.APIURL
	}
	if a.userID == "" {
		a.userID = a.cfg.UserID
	}
	if a.logLevel != "" {
		a.cfg.LogLevel = a.logLevel
	}

	// Логи CLI по умолчанию только про проблемы
	level := a.cfg.LogLevel
	if !cmd.Flags().Changed("log-level") && level == "info" {
		level = "warn"
	}
	a.log, err = logging.New(level, "text")
	return err
}

func (a *app) client() *client.Client {
	return client.New(a.apiURL, a.userID,
		client.WithTimeout(a.cfg.RequestTimeout),
		client.WithLogger(a.log.Named("client")),
	)
}

func (a *app) requireUser() error {
	if a.userID == "" {
		return fmt.Errorf("this command needs a user: pass --user or set USER_ID")
	}
	return nil
}

func (a *app) renderer(out io.Writer) *render.Renderer {
	return render.New(out, a.userID)
}

// loadStore загружает комментарии subject в новое хранилище.
func (a *app) loadStore(ctx context.Context, subjectID string) (*commentstore.Store, error) {
	store := commentstore.New(a.client(), commentstore.WithLogger(a.log.Named("store")))
	if err := store.Load(ctx, subjectID); err != nil {
		store.Close()
		if client.IsNotFound(err) {
			return nil, fmt.Errorf("no such subject %q: %w", subjectID, err)
		}
		return nil, err
	}
	return store, nil
}

// subject запрашивает subject, чтобы показать его заголовок.
func (a *app) subject(ctx context.Context, subjectID string) (*domain.Subject, error) {
	subject, err := a.client().GetSubject(ctx, subjectID)
	if err != nil {
		if client.IsNotFound(err) {
			return nil, fmt.Errorf("no such subject %q: %w", subjectID, err)
		}
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	return subject, nil
}

// checkParent проверяет родителя ответа. Узел из загруженного дерева
// проверит сам Submit, а родителя вне дерева (например, ответ под
// удаленным комментарием) спрашиваем у сервера.
func (a *app) checkParent(ctx context.Context, store *commentstore.Store, parentID string) error {
	snap := store.Snapshot()
	if _, ok := tree.Index(snap.Tree)[parentID]; ok {
		return nil
	}

	parent, err := a.client().GetComment(ctx, parentID)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("no such comment %q: %w", parentID, err)
		}
		return fmt.Errorf("failed to get parent comment: %w", err)
	}
	if parent.SubjectID != snap.SubjectID {
		return fmt.Errorf("comment %s belongs to another subject: %w", parentID, domain.ErrParentNotFound)
	}
	if !parent.CanReply() {
		return fmt.Errorf("cannot reply to comment %s: %w", parentID, domain.ErrMaxDepthExceeded)
	}
	return nil
}

func (a *app) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	// Загрузка, действие и перезагрузка в одном вызове
	return context.WithTimeout(ctx, 3*a.cfg.RequestTimeout+time.Second)
}
