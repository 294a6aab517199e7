package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-shellwords"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

func newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run commands interactively; begin, commit and abort group them in one transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(os.Stdout, shellLoop)
		},
	}
}

func shellLoop(s *session) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[31m»\033[0m ",
		HistoryFile:       filepath.Join(os.TempDir(), "tinyobj-ctl.history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			continue
		}
		line = strings.TrimSpace(line)
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := s.exec(line); err != nil {
			s.printf("error: %v\n", err)
		}
	}
}

// exec runs one shell line.
func (s *session) exec(line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	switch args[0] {
	case "begin":
		if s.txn != nil {
			return errors.Errorf("transaction %d is already open", s.txn.ID())
		}
		if s.txn, err = s.coord.Begin(); err != nil {
			return err
		}
		s.printf("began transaction %d\n", s.txn.ID())
		return nil
	case "commit", "abort":
		if s.txn == nil {
			return errors.New("no open transaction")
		}
		txn := s.txn
		s.txn = nil
		if args[0] == "commit" {
			return s.coord.Commit(txn)
		}
		return s.coord.Abort(txn)
	}

	cmd := &cobra.Command{Use: "shell", SilenceUsage: true, SilenceErrors: true}
	cmd.SetOutput(s.out)
	for _, op := range operations {
		cmd.AddCommand(op.command(func(fn func(*session) error) error {
			return fn(s)
		}))
	}
	cmd.SetArgs(args)
	return cmd.Execute()
}
