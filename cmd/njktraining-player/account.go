package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/claude/njktraining/internal/statestore"
	"github.com/spf13/cobra"
)

var loginOpts struct {
	email    string
	password string
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and cache the token",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the cached login",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			if e.api.Token() != "" {
				if err := e.api.Logout(cmd.Context()); err != nil {
					e.log.Warn("server logout failed", "error", err)
				}
			}
			return e.state.ClearIdentity()
		})
	},
}

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "List your students",
	Args:  cobra.NoArgs,
	RunE:  runStudents,
}

var studentsAddCmd = &cobra.Command{
	Use:   "add <code>",
	Short: "Add a student by their mentor code",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudentsAdd,
}

func init() {
	loginCmd.Flags().StringVar(&loginOpts.email, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginOpts.password, "password", "", "account password (default: $NJK_PASSWORD)")
	_ = loginCmd.MarkFlagRequired("email")

	studentsCmd.AddCommand(studentsAddCmd)
	rootCmd.AddCommand(loginCmd, logoutCmd, studentsCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	password := loginOpts.password
	if password == "" {
		password = os.Getenv("NJK_PASSWORD")
	}
	if password == "" {
		return errors.New("--password or NJK_PASSWORD is required")
	}

	return withEnv(func(e *env) error {
		ctx := cmd.Context()
		res, err := e.api.Login(ctx, loginOpts.email, password)
		if err != nil {
			return err
		}

		ident := statestore.Identity{
			Token:     res.Token,
			UserName:  res.User.Name,
			UserEmail: res.User.Email,
		}
		// The mentor code comes with the training view; a failure here only
		// leaves it blank until the next login.
		if td, err := e.api.TrainingData(ctx); err != nil {
			e.log.Warn("fetching training data after login", "error", err)
		} else {
			ident.MentorCode = td.User.MentorID
		}
		if err := e.state.SetIdentity(ident); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "logged in as %s <%s>\n", ident.UserName, ident.UserEmail)
		if ident.MentorCode != "" {
			fmt.Fprintf(out, "your code: %s\n", ident.MentorCode)
		}
		return nil
	})
}

func runStudents(cmd *cobra.Command, args []string) error {
	return withEnv(func(e *env) error {
		students, err := e.api.Students(cmd.Context())
		if err != nil {
			return err
		}
		if len(students) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no students")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tADDED")
		for _, s := range students {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.UserID, s.DisplayName(), s.UserEmail, s.AddedAt.Format("2006-01-02"))
		}
		return tw.Flush()
	})
}

func runStudentsAdd(cmd *cobra.Command, args []string) error {
	return withEnv(func(e *env) error {
		if err := e.api.AddStudent(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "student added")
		return nil
	})
}
