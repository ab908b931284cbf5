package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/player"
	"github.com/claude/njktraining/internal/session"
	"github.com/spf13/cobra"
)

var playOpts struct {
	selection
	exportDir string
	fresh     bool
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Run a workout in the terminal",
	Long: `Run a workout in the terminal. Press enter for the main button
(start, pause, done, finish, export), n to skip ahead, b to step back
and q to quit. "g 2 1 15" sets the first goal of the second movement to 15;
edited goals are exported and kept as local edits until push. Progress is
saved after every step and resumed next time.`,
	Args: cobra.NoArgs,
	RunE: runPlay,
}

func init() {
	addSelectionFlags(playCmd, &playOpts.selection)
	playCmd.Flags().StringVar(&playOpts.exportDir, "export-dir", ".", "where finished workouts with open goals are exported")
	playCmd.Flags().BoolVar(&playOpts.fresh, "fresh", false, "ignore any saved progress")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	return withEnv(func(e *env) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sel, w, err := e.resolve(ctx, playOpts.selection)
		if err != nil {
			return err
		}

		opts := player.Options{
			Out:       cmd.OutOrStdout(),
			Store:     e.state,
			ExportDir: playOpts.exportDir,
			Log:       e.log,
			OnEdit: func(sel session.Selector, w models.Workout) {
				if err := e.saveEdit(sel.Level, sel.Program, w); err != nil {
					e.log.Warn("saving goal edit", "error", err)
				}
			},
		}
		if e.api.Token() != "" {
			opts.History = e.api
		}
		if !playOpts.fresh {
			snap, err := e.state.Snapshot()
			if err != nil {
				e.log.Warn("resume record", "error", err)
			} else if snap != nil && snap.Selector == sel {
				opts.Resume = snap
			}
		}

		r, err := player.New(sel, w, opts)
		if errors.Is(err, session.ErrSnapshotMismatch) {
			// The program changed since the snapshot was taken.
			e.log.Warn("discarding stale progress", "error", err)
			if err := e.state.ClearSnapshot(); err != nil {
				return err
			}
			opts.Resume = nil
			r, err = player.New(sel, w, opts)
		}
		if err != nil {
			return err
		}

		cmds := make(chan player.Command)
		go readCommands(ctx, cmd.InOrStdin(), cmds)

		err = r.Run(ctx, cmds)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// readCommands forwards parsed input lines until EOF, quit or ctx is done.
func readCommands(ctx context.Context, in io.Reader, out chan<- player.Command) {
	defer close(out)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		c, ok := player.ParseCommand(sc.Text())
		if !ok {
			continue
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return
		}
		if c.Op == player.OpQuit {
			return
		}
	}
}
