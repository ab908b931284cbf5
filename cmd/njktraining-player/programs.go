package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/claude/njktraining/internal/client"
	"github.com/claude/njktraining/internal/ingest/legacycsv"
	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/session"
	"github.com/spf13/cobra"
)

// estimate
var estimateOpts selection

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Show how long workouts take",
	Args:  cobra.NoArgs,
	RunE:  runEstimate,
}

// export
var exportOpts struct {
	selection
	outDir string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a workout as a CSV file",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

// import
var importOpts struct {
	level string
	name  string
}

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Add a CSV workout to your local edits",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

// push
var pushOpts struct {
	student int64
	reset   bool
	keep    bool
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Send your local edits to the server",
	Long: `Send your local edits to the server. The edited workouts are merged into
the target's stored program. With --student the target is one of your
students; the server checks that you are their mentor.`,
	Args: cobra.NoArgs,
	RunE: runPush,
}

func init() {
	addSelectionFlags(estimateCmd, &estimateOpts)

	addSelectionFlags(exportCmd, &exportOpts.selection)
	exportCmd.Flags().StringVar(&exportOpts.outDir, "out", ".", "output directory")

	importCmd.Flags().StringVar(&importOpts.level, "level", "Custom", "level to add the workout to")
	importCmd.Flags().StringVar(&importOpts.name, "name", "", "workout name (default: derived from the file name)")

	pushCmd.Flags().Int64Var(&pushOpts.student, "student", 0, "push to this student's program instead of your own")
	pushCmd.Flags().BoolVar(&pushOpts.reset, "reset", false, "clear your server program so the default catalog applies")
	pushCmd.Flags().BoolVar(&pushOpts.keep, "keep", false, "keep local edits after a successful push")

	rootCmd.AddCommand(estimateCmd, exportCmd, importCmd, pushCmd)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	return withEnv(func(e *env) error {
		mode, err := e.mode(estimateOpts)
		if err != nil {
			return err
		}
		c, err := e.loadCatalog(cmd.Context(), mode, estimateOpts.catalog)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "LEVEL\tWORKOUT\tEXERCISES\tUNITS\tESTIMATE")
		for _, level := range c.Levels() {
			if estimateOpts.level != "" && level != estimateOpts.level {
				continue
			}
			for _, name := range c.Workouts(level) {
				if estimateOpts.program != "" && name != estimateOpts.program {
					continue
				}
				w, _ := c.Workout(level, name)
				p := session.FromWorkout(name, w)
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", level, name, len(p.Exercises), p.TotalUnits(), session.FormatEstimate(session.Estimate(p)))
			}
		}
		return tw.Flush()
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	return withEnv(func(e *env) error {
		sel, w, err := e.resolve(cmd.Context(), exportOpts.selection)
		if err != nil {
			return err
		}
		path := filepath.Join(exportOpts.outDir, legacycsv.ExportFileName(sel.Program, time.Now()))
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := legacycsv.Write(f, w); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	return withEnv(func(e *env) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		w, err := legacycsv.Parse(f)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}
		name := importOpts.name
		if name == "" {
			name = legacycsv.WorkoutName(filepath.Base(args[0]))
		}

		if err := e.saveEdit(importOpts.level, name, w); err != nil {
			return err
		}

		p := session.FromWorkout(name, w)
		fmt.Fprintf(cmd.OutOrStdout(), "imported %s/%s: %d exercises, est. %s\n",
			importOpts.level, name, len(p.Exercises), session.FormatEstimate(session.Estimate(p)))
		return nil
	})
}

func runPush(cmd *cobra.Command, args []string) error {
	return withEnv(func(e *env) error {
		ctx := cmd.Context()
		target := client.Self
		if pushOpts.student != 0 {
			target = client.Student(pushOpts.student)
		}

		if pushOpts.reset {
			if target != client.Self {
				return errors.New("--reset only applies to your own program")
			}
			if err := e.api.ResetProgram(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "server program reset to the default catalog")
			return nil
		}

		edited, err := e.state.EditedExercises()
		if err != nil {
			return err
		}
		if edited == nil || edited.Len() == 0 {
			return errors.New("no local edits to push")
		}

		program, err := e.api.LoadProgram(ctx, target)
		if err != nil {
			return err
		}
		if program == nil {
			program = models.NewCatalog()
		}
		overlay(program, edited)

		if err := e.api.SaveProgram(ctx, target, program); err != nil {
			return err
		}
		e.log.Info("program pushed", "target", target.String())
		fmt.Fprintf(cmd.OutOrStdout(), "pushed %d levels to %s\n", program.Len(), target)

		if pushOpts.keep {
			return nil
		}
		return e.state.ClearEditedExercises()
	})
}

// saveEdit stores w as a local edit of level/name, kept until push.
func (e *env) saveEdit(level, name string, w models.Workout) error {
	edited, err := e.state.EditedExercises()
	if err != nil {
		e.log.Warn("replacing unreadable local edits", "error", err)
		edited = nil
	}
	if edited == nil {
		edited = models.NewCatalog()
	}
	edited.Set(level, name, w)
	return e.state.SetEditedExercises(edited)
}
