package main

import (
	"fmt"
	"io"
	"os"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyobj/kv/config"
	"github.com/pingcap-incubator/tinyobj/kv/storage/standalone_storage"
	"github.com/pingcap-incubator/tinyobj/kv/transaction"
	"github.com/pingcap-incubator/tinyobj/kv/util"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	logLevel   string
	create     bool
)

var rootCmd = &cobra.Command{
	Use:   "tinyobj-ctl",
	Short: "Inspect and edit a tinyobj store directory",
	Long: `tinyobj-ctl opens a tinyobj store directory and runs one operation per command,
each in its own transaction. The store must not be open in another process.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "C", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db-path", "d", "", "store directory, overrides the config file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "warn", "log level")
	rootCmd.PersistentFlags().BoolVar(&create, "create", false, "create the store if the directory does not exist")
}

func execute() {
	// Operations register themselves in init, so the tree is built here.
	for _, op := range operations {
		rootCmd.AddCommand(op.command(func(fn func(*session) error) error {
			return withSession(os.Stdout, fn)
		}))
	}
	rootCmd.AddCommand(newShellCommand())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	conf := config.NewDefaultConfig()
	if configPath != "" {
		var err error
		if conf, err = config.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if dbPath != "" {
		conf.DBPath = dbPath
	}
	// Short lived, so checkpoints only run on request.
	conf.CheckpointInterval = config.NewDuration(0)
	return conf, nil
}

// withSession opens the store, runs fn and closes the store again.
func withSession(out io.Writer, fn func(*session) error) error {
	log.SetLevelByString(logLevel)
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	if !create && !util.DirExists(conf.DBPath) {
		return errors.Errorf("store directory %s does not exist, pass --create to create it", conf.DBPath)
	}
	store, err := standalone_storage.Open(conf)
	if err != nil {
		return err
	}
	sess := newSession(store, conf, out)
	err = fn(sess)
	if sess.txn != nil {
		fmt.Fprintf(out, "aborting open transaction %d\n", sess.txn.ID())
		sess.coord.Abort(sess.txn)
	}
	if closeErr := store.Close(); err == nil {
		err = closeErr
	}
	return err
}

// session is an open store plus the transaction started by the shell's begin command, if any.
type session struct {
	store *standalone_storage.StandAloneStorage
	conf  *config.Config
	coord *transaction.Coordinator
	out   io.Writer
	txn   *transaction.Txn
}

func newSession(store *standalone_storage.StandAloneStorage, conf *config.Config, out io.Writer) *session {
	return &session{
		store: store,
		conf:  conf,
		coord: transaction.NewCoordinator(store, conf.TxnTimeout.Duration),
		out:   out,
	}
}

// run runs fn in the open transaction, or in a transaction of its own.
func (s *session) run(fn func(txn *transaction.Txn) error) error {
	if s.txn != nil {
		return fn(s.txn)
	}
	return s.coord.Run(fn)
}

func (s *session) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}
