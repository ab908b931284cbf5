// Package player binds a session.Machine to a terminal: it feeds commands
// and a one-second clock into the machine on a single goroutine, renders the
// display after every change and reacts to the machine's signals.
package player

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/claude/njktraining/internal/ingest/legacycsv"
	"github.com/claude/njktraining/internal/models"
	"github.com/claude/njktraining/internal/movement"
	"github.com/claude/njktraining/internal/session"
)

// Op is the kind of a user action.
type Op int

const (
	OpPrimary Op = iota + 1
	OpNext
	OpBack
	OpQuit
	OpGoal
)

// Command is a user action. Movement, Goal and Value are only set for OpGoal;
// Movement and Goal are 0-based.
type Command struct {
	Op       Op
	Movement int
	Goal     int
	Value    int
}

var (
	CmdPrimary = Command{Op: OpPrimary}
	CmdNext    = Command{Op: OpNext}
	CmdBack    = Command{Op: OpBack}
	CmdQuit    = Command{Op: OpQuit}
)

// ParseCommand maps a line of terminal input to a command. An empty line or
// "p" is the primary button. "g <movement> <goal> <value>" sets a goal of the
// current exercise, counting movements and goals from 1.
func ParseCommand(line string) (Command, bool) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return CmdPrimary, true
	}
	switch fields[0] {
	case "p", "start", "done":
		return CmdPrimary, len(fields) == 1
	case "n", "next":
		return CmdNext, len(fields) == 1
	case "b", "back":
		return CmdBack, len(fields) == 1
	case "q", "quit", "exit":
		return CmdQuit, len(fields) == 1
	case "g", "goal":
		return parseGoal(fields[1:])
	}
	return Command{}, false
}

func parseGoal(args []string) (Command, bool) {
	if len(args) != 3 {
		return Command{}, false
	}
	var n [3]int
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil || v < 0 {
			return Command{}, false
		}
		n[i] = v
	}
	if n[0] < 1 || n[1] < 1 {
		return Command{}, false
	}
	return Command{Op: OpGoal, Movement: n[0] - 1, Goal: n[1] - 1, Value: n[2]}, true
}

// HistoryPoster records finished sessions. *client.Client implements it.
type HistoryPoster interface {
	AddHistory(ctx context.Context, e models.HistoryEntry) (int64, error)
}

// Options configures a Runner. Out is required; the rest are optional.
type Options struct {
	Out       io.Writer
	Store     session.Store
	Resume    *session.Snapshot
	History   HistoryPoster
	ExportDir string
	Log       *slog.Logger
	Tick      time.Duration
	Now       func() time.Time

	// OnEdit is called with the whole workout after a goal changes.
	OnEdit func(sel session.Selector, w models.Workout)
}

// Runner owns a machine and everything that reacts to it.
type Runner struct {
	machine *session.Machine
	workout models.Workout
	sel     session.Selector

	out       io.Writer
	history   HistoryPoster
	exportDir string
	log       *slog.Logger
	tick      time.Duration
	now       func() time.Time
	onEdit    func(session.Selector, models.Workout)

	pending []session.Signal
	exports []string
}

// New builds a runner for workout w under sel. When opts.Resume is set the
// machine is restored paused at the saved position.
func New(sel session.Selector, w models.Workout, opts Options) (*Runner, error) {
	w.Exercises = append([]string(nil), w.Exercises...)
	r := &Runner{
		workout:   w,
		sel:       sel,
		out:       opts.Out,
		history:   opts.History,
		exportDir: opts.ExportDir,
		log:       opts.Log,
		tick:      opts.Tick,
		now:       opts.Now,
		onEdit:    opts.OnEdit,
	}
	if r.out == nil {
		r.out = io.Discard
	}
	if r.log == nil {
		r.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.tick <= 0 {
		r.tick = time.Second
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.exportDir == "" {
		r.exportDir = "."
	}

	mopts := []session.Option{session.WithObserver(r.queue)}
	if opts.Store != nil {
		mopts = append(mopts, session.WithStore(opts.Store))
	}

	p := session.FromWorkout(sel.Program, w)
	if opts.Resume != nil {
		m, err := session.Restore(p, sel, *opts.Resume, mopts...)
		if err != nil {
			return nil, fmt.Errorf("restoring session: %w", err)
		}
		r.machine = m
	} else {
		r.machine = session.New(p, sel, mopts...)
	}
	return r, nil
}

// Machine exposes the machine for inspection. It must not be mutated while Run is active.
func (r *Runner) Machine() *session.Machine { return r.machine }

// Exports lists the CSV files written so far.
func (r *Runner) Exports() []string { return r.exports }

func (r *Runner) queue(s session.Signal) {
	r.pending = append(r.pending, s)
}

// Workout returns the workout as edited so far.
func (r *Runner) Workout() models.Workout { return r.workout }

// Run drives the machine until CmdQuit, a closed command channel or ctx
// cancellation. All machine mutation happens on the calling goroutine.
func (r *Runner) Run(ctx context.Context, cmds <-chan Command) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	r.render()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			r.machine.Tick()

		case cmd, ok := <-cmds:
			if !ok || cmd.Op == OpQuit {
				return nil
			}
			if err := r.apply(cmd); err != nil {
				// Progress is still in memory; only the snapshot write failed.
				r.log.Warn("saving session state", "error", err)
			}
		}
		r.react(ctx)
		r.render()
	}
}

func (r *Runner) apply(cmd Command) error {
	switch cmd.Op {
	case OpPrimary:
		return r.machine.Primary()
	case OpNext:
		return r.machine.Next()
	case OpBack:
		return r.machine.Back()
	case OpGoal:
		if err := r.setGoal(cmd); err != nil {
			fmt.Fprintf(r.out, "goal not set: %v\n", err)
		}
	}
	return nil
}

// setGoal edits one goal of the current exercise in both the machine's
// program and the workout that gets exported.
func (r *Runner) setGoal(cmd Command) error {
	ex, _ := r.machine.Position()
	labels := r.workout.Movements(ex)
	if len(labels) == 0 {
		return fmt.Errorf("no exercise %d", ex+1)
	}
	if cmd.Movement >= len(labels) {
		return fmt.Errorf("exercise has %d movements", len(labels))
	}
	l := movement.Parse(labels[cmd.Movement])
	if n := len(l.Goals()); cmd.Goal >= n {
		return fmt.Errorf("%q has %d goals", l.Name, n)
	}
	if err := l.SetGoal(cmd.Goal, cmd.Value); err != nil {
		return err
	}
	labels[cmd.Movement] = l.String()
	if err := r.machine.SetMovements(ex, labels); err != nil {
		return err
	}
	r.workout.Exercises[ex] = strings.Join(labels, "+")
	r.log.Debug("goal set", "exercise", ex+1, "movement", l.String())
	if r.onEdit != nil {
		w := r.workout
		w.Exercises = append([]string(nil), w.Exercises...)
		r.onEdit(r.sel, w)
	}
	return nil
}

func (r *Runner) react(ctx context.Context) {
	signals := r.pending
	r.pending = nil
	for _, s := range signals {
		switch s {
		case session.SignalRestComplete:
			fmt.Fprint(r.out, "\a")
		case session.SignalFinish:
			r.postHistory(ctx)
		case session.SignalExport:
			if path, err := r.export(); err != nil {
				r.log.Error("exporting workout", "error", err)
				fmt.Fprintf(r.out, "export failed: %v\n", err)
			} else {
				fmt.Fprintf(r.out, "exported %s\n", path)
			}
		}
	}
}

func (r *Runner) postHistory(ctx context.Context) {
	if r.history == nil {
		return
	}
	entry := models.HistoryEntry{
		ProgramName:    r.sel.Program,
		Level:          r.sel.Level,
		ElapsedSeconds: r.machine.Elapsed(),
		CompletedUnits: r.machine.TotalUnits(),
	}
	id, err := r.history.AddHistory(ctx, entry)
	if err != nil {
		r.log.Warn("recording session history", "program", entry.ProgramName, "error", err)
		return
	}
	r.log.Info("session recorded", "id", id, "program", entry.ProgramName, "elapsed", entry.ElapsedSeconds)
}

func (r *Runner) export() (string, error) {
	path := filepath.Join(r.exportDir, legacycsv.ExportFileName(r.sel.Program, r.now()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	if err := legacycsv.Write(f, r.workout); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", path, err)
	}
	r.exports = append(r.exports, path)
	return path, nil
}

func (r *Runner) render() {
	Render(r.out, r.machine.Display())
}
