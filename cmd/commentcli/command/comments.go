package command

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newSubjectsCmd(a *app) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "subjects",
		Short: "List subjects that can be commented on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.timeout(cmd.Context())
			defer cancel()

			subjects, err := a.client().ListSubjects(ctx, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list subjects: %w", err)
			}
			if len(subjects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no subjects")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tCOMMENTS")
			for _, s := range subjects {
				state := "on"
				if !s.CommentsEnabled {
					state = "off"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Title, s.AuthorID, state)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "how many subjects to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "how many subjects to skip")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [subject-id]",
		Short: "Print the comment thread of a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.timeout(cmd.Context())
			defer cancel()

			subject, err := a.subject(ctx, args[0])
			if err != nil {
				return err
			}
			store, err := a.loadStore(ctx, subject.ID)
			if err != nil {
				return fmt.Errorf("failed to load comments: %w", err)
			}
			defer store.Close()

			color.New(color.Bold).Fprintf(cmd.OutOrStdout(), "%s\n\n", subject.Title)
			a.renderer(cmd.OutOrStdout()).Snapshot(store.Snapshot())
			return nil
		},
	}
}

func newPostCmd(a *app) *cobra.Command {
	var replyTo string
	cmd := &cobra.Command{
		Use:   "post [subject-id] [content]",
		Short: "Post a comment, or a reply with --reply-to",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			ctx, cancel := a.timeout(cmd.Context())
			defer cancel()

			store, err := a.loadStore(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load comments: %w", err)
			}
			defer store.Close()

			content := strings.Join(args[1:], " ")
			var parentID *string
			if replyTo != "" {
				if err := a.checkParent(ctx, store, replyTo); err != nil {
					return err
				}
				parentID = &replyTo
			}
			created, err := store.Submit(ctx, content, parentID)
			if err != nil {
				if strings.TrimSpace(content) != "" {
					a.renderer(cmd.ErrOrStderr()).Draft(strings.TrimSpace(content))
				}
				return fmt.Errorf("failed to post comment: %w", err)
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Comment %s posted\n\n", created.ID)
			a.renderer(cmd.OutOrStdout()).Snapshot(store.Snapshot())
			return nil
		},
	}
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "id of the comment to reply to")
	return cmd
}

func newLikeCmd(a *app, like bool) *cobra.Command {
	use, short, verb := "like", "Like a comment", "liked"
	if !like {
		use, short, verb = "unlike", "Remove your like from a comment", "unliked"
	}
	return &cobra.Command{
		Use:   use + " [subject-id] [comment-id]",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			ctx, cancel := a.timeout(cmd.Context())
			defer cancel()

			store, err := a.loadStore(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load comments: %w", err)
			}
			defer store.Close()

			if like {
				err = store.Like(ctx, args[1])
			} else {
				err = store.Unlike(ctx, args[1])
			}
			if err != nil {
				return fmt.Errorf("failed to %s comment: %w", use, err)
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Comment %s %s\n\n", args[1], verb)
			a.renderer(cmd.OutOrStdout()).Snapshot(store.Snapshot())
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [subject-id] [comment-id]",
		Short: "Delete your comment (its replies disappear from the thread)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			ctx, cancel := a.timeout(cmd.Context())
			defer cancel()

			store, err := a.loadStore(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load comments: %w", err)
			}
			defer store.Close()

			if err := store.Remove(ctx, args[1]); err != nil {
				return fmt.Errorf("failed to delete comment: %w", err)
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Comment %s deleted\n\n", args[1])
			a.renderer(cmd.OutOrStdout()).Snapshot(store.Snapshot())
			return nil
		},
	}
}
