package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyobj/kv/config"
	"github.com/pingcap-incubator/tinyobj/kv/storage/standalone_storage"
	flag "github.com/spf13/pflag"
)

var (
	configPath = flag.StringP("config", "C", "", "config file path")
	dbPath     = flag.String("db-path", "", "store directory, overrides the config file")
	statusAddr = flag.String("status-addr", "", "status address, overrides the config file")
	logLevel   = flag.StringP("log-level", "L", "", "log level, overrides the config file")
)

var (
	gitHash = "None"
)

func main() {
	flag.Parse()
	conf := loadConfig()
	if *dbPath != "" {
		conf.DBPath = *dbPath
	}
	if *statusAddr != "" {
		conf.StatusAddr = *statusAddr
	}
	if *logLevel != "" {
		conf.LogLevel = *logLevel
	}
	log.Info("gitHash:", gitHash)
	log.SetLevelByString(conf.LogLevel)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	log.Infof("conf %+v", conf)

	store, err := standalone_storage.Open(conf)
	if err != nil {
		log.Fatal(err)
	}
	if h, err := store.Header(); err == nil {
		log.Infof("store header %s", h)
	}

	srv := &http.Server{Addr: conf.StatusAddr, Handler: newStatusHandler(store, conf.DBPath)}
	handleSignal(srv)
	log.Infof("listening on %v", conf.StatusAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
	if err := store.Close(); err != nil {
		log.Fatal(err)
	}
	log.Info("Server stopped.")
}

func loadConfig() *config.Config {
	if *configPath == "" {
		return config.NewDefaultConfig()
	}
	conf, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("load config %s: %v", *configPath, err)
	}
	return conf
}

func handleSignal(srv *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		sig := <-sigCh
		log.Infof("Got signal [%s] to exit.", sig)
		if err := srv.Close(); err != nil {
			log.Errorf("close status server: %v", err)
		}
	}()
}
