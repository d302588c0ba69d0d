package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ledgermark/internal/api"
	"ledgermark/internal/fileutil"
	"ledgermark/internal/pipeline"
	"ledgermark/internal/sessions"
	"ledgermark/internal/stageexec"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"s"},
		Short:   "Select content and advance it through the pipeline one stage at a time",
	}
	sessionCmd.AddCommand(newSessionNewCommand(ctx))
	sessionCmd.AddCommand(newSessionAdvanceCommand(ctx))
	sessionCmd.AddCommand(newSessionStatusCommand(ctx))
	sessionCmd.AddCommand(newSessionListCommand(ctx))
	sessionCmd.AddCommand(newSessionReselectCommand(ctx))
	sessionCmd.AddCommand(newSessionRemoveCommand(ctx))
	sessionCmd.AddCommand(newSessionPruneCommand(ctx))
	return sessionCmd
}

func newSessionNewCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "new <file>",
		Short: "Select a file into a new session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := loadContent(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *sessions.Store) error {
				sess, err := stageexec.Create(cmd.Context(), stageexec.Options{Logger: ctx.log(), Store: store}, content)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, api.SessionResponse{Session: api.FromSession(sess)})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session %s created for %s\n", sess.ID, sess.Filename)
				fmt.Fprintf(out, "Fingerprint: %s\n", sess.Fingerprint)
				fmt.Fprintf(out, "Next: ledgermark session advance %s\n", shortID(sess.ID))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func newSessionAdvanceCommand(ctx *commandContext) *cobra.Command {
	var (
		stepFlag string
		yes      bool
		jsonOut  bool
	)
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Run the next pipeline stage for a session",
		Long: "Run exactly one stage: duplicate check, embedding, storage upload, or ledger registration.\n" +
			"Use --step to name the stage explicitly; naming a stage out of order is rejected.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var step pipeline.Step
			if strings.TrimSpace(stepFlag) != "" {
				parsed, ok := pipeline.ParseStep(stepFlag)
				if !ok {
					return fmt.Errorf("unknown step %q (expected dedup, embed, upload, or register)", stepFlag)
				}
				step = parsed
			}

			out := cmd.OutOrStdout()
			progress := newUploadProgress(cmd.ErrOrStderr(), !jsonOut && shouldColorize(cmd.ErrOrStderr()))
			opts := runtimeOptions{progress: progress.update}
			return ctx.withRuntime(cmd, opts, func(rt *runtime) error {
				id, err := rt.store.Resolve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				current, err := rt.store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				next := step
				if next == "" {
					next = current.Snapshot.NextStep()
				}
				if next == pipeline.StepRegister && !yes && isTerminal(os.Stdin) {
					approved, err := confirm(cmd.InOrStdin(), out, registrationPrompt(current))
					if err != nil {
						return err
					}
					if !approved {
						fmt.Fprintln(out, "Registration not submitted; the session is unchanged.")
						return nil
					}
				}

				sess, stageErr := stageexec.Advance(cmd.Context(), rt.exec(), id, step)
				progress.finish()
				if sess == nil {
					return stageErr
				}
				view := api.FromSession(sess)
				if jsonOut {
					if err := writeJSON(cmd, api.SessionResponse{Session: view}); err != nil {
						return err
					}
				} else {
					renderSession(out, view, shouldColorize(out))
				}
				return stageErr
			})
		},
	}
	cmd.Flags().StringVar(&stepFlag, "step", "", "Stage to run (dedup, embed, upload, register); defaults to the next one")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Submit the registration without an interactive confirmation")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func newSessionStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:     "status <id>",
		Aliases: []string{"show"},
		Short:   "Show per-stage status, the last error, and record details",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *sessions.Store) error {
				id, err := store.Resolve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				sess, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				view := api.FromSession(sess)
				if jsonOut {
					return writeJSON(cmd, api.SessionResponse{Session: view})
				}
				out := cmd.OutOrStdout()
				renderSession(out, view, shouldColorize(out))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func newSessionListCommand(ctx *commandContext) *cobra.Command {
	var (
		jsonOut     bool
		fingerprint string
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *sessions.Store) error {
				var (
					list []*sessions.Session
					err  error
				)
				if fp := strings.TrimSpace(fingerprint); fp != "" {
					list, err = store.FindByFingerprint(cmd.Context(), fp)
				} else {
					list, err = store.List(cmd.Context())
				}
				if err != nil {
					return err
				}
				views := api.FromSessions(list)
				if jsonOut {
					return writeJSON(cmd, api.SessionListResponse{Sessions: views})
				}
				out := cmd.OutOrStdout()
				if len(views) == 0 {
					fmt.Fprintln(out, "No sessions")
					return nil
				}
				fmt.Fprintln(out, renderSessionTable(views))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "Only sessions whose content has this SHA-256 fingerprint")
	return cmd
}

func newSessionReselectCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reselect <id> <file>",
		Short: "Replace a session's content and restart it from the duplicate check",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := loadContent(args[1])
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *sessions.Store) error {
				id, err := store.Resolve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				sess, err := stageexec.Reselect(cmd.Context(), stageexec.Options{Logger: ctx.log(), Store: store}, id, content)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s now holds %s (%s)\n", shortID(sess.ID), sess.Filename, sess.Fingerprint)
				return nil
			})
		},
	}
	return cmd
}

func newSessionRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>...",
		Aliases: []string{"rm"},
		Short:   "Remove sessions and their staged artifacts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *sessions.Store) error {
				opts := stageexec.Options{Logger: ctx.log(), Store: store}
				out := cmd.OutOrStdout()
				var failed []string
				for _, arg := range args {
					id, err := store.Resolve(cmd.Context(), arg)
					if err == nil {
						err = stageexec.Remove(cmd.Context(), opts, id)
					}
					if err != nil {
						fmt.Fprintf(out, "%s: %s\n", arg, formatError(err))
						failed = append(failed, arg)
						continue
					}
					fmt.Fprintf(out, "Removed session %s\n", shortID(id))
				}
				if len(failed) > 0 {
					return fmt.Errorf("could not remove %d session(s)", len(failed))
				}
				return nil
			})
		},
	}
}

func loadContent(path string) (pipeline.ContentItem, error) {
	data, name, mediaType, err := fileutil.LoadContent(path)
	if err != nil {
		return pipeline.ContentItem{}, err
	}
	return pipeline.ContentItem{Data: data, Filename: name, MediaType: mediaType}, nil
}

func registrationPrompt(sess *sessions.Session) string {
	cid := sess.CID
	if receipt, ok := pipeline.ReceiptOf(sess.Snapshot.State); ok {
		cid = receipt.CID
	}
	return fmt.Sprintf("Submit a registration transaction for %s (CID %s)? [y/N] ", sess.Filename, cid)
}

// confirm asks a yes/no question; anything but y/yes is a no.
func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
