package main

import (
	"strconv"

	"github.com/pingcap-incubator/tinyobj/kv/transaction"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

// operation is a command available both on the command line and in the shell.
type operation struct {
	use   string
	short string
	args  cobra.PositionalArgs
	run   func(s *session, args []string) error
}

var operations []*operation

func register(op *operation) {
	operations = append(operations, op)
}

// command builds the cobra command for op. open provides the session.
func (op *operation) command(open func(fn func(*session) error) error) *cobra.Command {
	return &cobra.Command{
		Use:                   op.use,
		Short:                 op.short,
		Args:                  op.args,
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return open(func(s *session) error {
				return op.run(s, args)
			})
		},
	}
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid object id %q", arg)
	}
	return id, nil
}

func init() {
	register(&operation{
		use:   "create data",
		short: "Create an object holding data",
		args:  cobra.ExactArgs(1),
		run: func(s *session, args []string) error {
			var id int64
			err := s.run(func(txn *transaction.Txn) (err error) {
				if id, err = s.store.CreateObject(txn); err != nil {
					return err
				}
				return s.store.SetObject(txn, id, []byte(args[0]))
			})
			if err == nil {
				s.printf("%d\n", id)
			}
			return err
		},
	})
	register(&operation{
		use:   "get id",
		short: "Print the content of an object",
		args:  cobra.ExactArgs(1),
		run: func(s *session, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var data []byte
			err = s.run(func(txn *transaction.Txn) (err error) {
				data, err = s.store.GetObject(txn, id, false)
				return err
			})
			if err == nil {
				s.printf("%s\n", data)
			}
			return err
		},
	})
	register(&operation{
		use:   "set id data",
		short: "Replace the content of an object",
		args:  cobra.ExactArgs(2),
		run: func(s *session, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return s.run(func(txn *transaction.Txn) error {
				return s.store.SetObject(txn, id, []byte(args[1]))
			})
		},
	})
	register(&operation{
		use:   "rm id",
		short: "Remove an object",
		args:  cobra.ExactArgs(1),
		run: func(s *session, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return s.run(func(txn *transaction.Txn) error {
				return s.store.RemoveObject(txn, id)
			})
		},
	})
	register(&operation{
		use:   "bind name id",
		short: "Bind name to an object id",
		args:  cobra.ExactArgs(2),
		run: func(s *session, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			return s.run(func(txn *transaction.Txn) error {
				return s.store.SetBinding(txn, args[0], id)
			})
		},
	})
	register(&operation{
		use:   "unbind name",
		short: "Remove the binding of name",
		args:  cobra.ExactArgs(1),
		run: func(s *session, args []string) error {
			return s.run(func(txn *transaction.Txn) error {
				return s.store.RemoveBinding(txn, args[0])
			})
		},
	})
	register(&operation{
		use:   "lookup name",
		short: "Print the object id bound to name",
		args:  cobra.ExactArgs(1),
		run: func(s *session, args []string) error {
			var id int64
			err := s.run(func(txn *transaction.Txn) (err error) {
				id, err = s.store.GetBinding(txn, args[0])
				return err
			})
			if err == nil {
				s.printf("%d\n", id)
			}
			return err
		},
	})
	register(&operation{
		use:   "names",
		short: "List bound names in order",
		args:  cobra.NoArgs,
		run: func(s *session, args []string) error {
			return s.run(func(txn *transaction.Txn) error {
				for name := ""; ; {
					next, err := s.store.NextBoundName(txn, name)
					if err != nil {
						return err
					}
					if next == "" {
						return nil
					}
					id, err := s.store.GetBinding(txn, next)
					if err != nil {
						return err
					}
					s.printf("%s\t%d\n", next, id)
					name = next
				}
			})
		},
	})
	register(&operation{
		use:   "objects",
		short: "List object ids in order",
		args:  cobra.NoArgs,
		run: func(s *session, args []string) error {
			return s.run(func(txn *transaction.Txn) error {
				return forEachObject(s, txn, func(id int64, data []byte) {
					s.printf("%d\t%d bytes\n", id, len(data))
				})
			})
		},
	})
	register(&operation{
		use:   "checkpoint",
		short: "Run a checkpoint",
		args:  cobra.NoArgs,
		run: func(s *session, args []string) error {
			return s.store.Checkpoint()
		},
	})
}

func forEachObject(s *session, txn *transaction.Txn, fn func(id int64, data []byte)) error {
	for id := int64(-1); ; {
		next, err := s.store.NextObjectID(txn, id)
		if err != nil {
			return err
		}
		if next == -1 {
			return nil
		}
		data, err := s.store.GetObject(txn, next, false)
		if err != nil {
			return err
		}
		fn(next, data)
		id = next
	}
}
