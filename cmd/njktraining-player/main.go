// Command njktraining-player runs workouts in the terminal and manages
// programs on an njktraining server.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/claude/njktraining/internal/client"
	"github.com/claude/njktraining/internal/statestore"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	serverURL string
	stateDir  string
	tokenFlag string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:           "njktraining-player",
	Short:         "Terminal workout player for NJK Training",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&serverURL, "server", "http://localhost:8080", "njktraining server URL")
	pf.StringVar(&stateDir, "state-dir", filepath.Join(home, ".njktraining"), "directory for local player state")
	pf.StringVar(&tokenFlag, "token", "", "bearer token (overrides the cached login)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// env is what every command works with: local state and the API client.
type env struct {
	state *statestore.Store
	ident statestore.Identity
	api   *client.Client
	log   *slog.Logger
}

func openEnv() (*env, error) {
	st, err := statestore.Open(stateDir)
	if err != nil {
		return nil, err
	}
	ident, err := st.Identity()
	if err != nil {
		st.Close()
		return nil, err
	}
	token := ident.Token
	if tokenFlag != "" {
		token = tokenFlag
	}

	var out io.Writer = io.Discard
	if verbose {
		out = os.Stderr
	}
	return &env{
		state: st,
		ident: ident,
		api:   client.New(serverURL, token),
		log:   slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}, nil
}

func (e *env) Close() error {
	return e.state.Close()
}

// withEnv runs fn with an open env and closes it afterwards.
func withEnv(fn func(*env) error) (err error) {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, e.Close()) }()
	return fn(e)
}
