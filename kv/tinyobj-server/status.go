package main

import (
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyobj/kv/storage/meta"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/disk"
	"github.com/unrolled/render"
	"github.com/urfave/negroni"
)

// statusSource is the part of the store the status handlers read.
type statusSource interface {
	Alive() bool
	Header() (*meta.Header, error)
	Counts() (objects, names int, err error)
	Checkpoint() error
}

// Status is the body of GET /status.
type Status struct {
	Alive   bool            `json:"alive"`
	DBPath  string          `json:"db_path"`
	Header  *meta.Header    `json:"header,omitempty"`
	Objects int             `json:"objects"`
	Names   int             `json:"names"`
	Disk    *disk.UsageStat `json:"disk,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type statusHandler struct {
	store  statusSource
	dbPath string
	rd     *render.Render
}

func newStatusHandler(store statusSource, dbPath string) http.Handler {
	h := &statusHandler{
		store:  store,
		dbPath: dbPath,
		rd:     render.New(render.Options{IndentJSON: true}),
	}
	router := mux.NewRouter()
	router.HandleFunc("/status", h.Status).Methods("GET")
	router.HandleFunc("/checkpoint", h.Checkpoint).Methods("POST")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.HandleFunc("/debug/pprof/trace", pprof.Trace)
	router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)

	n := negroni.New(negroni.NewRecovery())
	n.UseHandler(router)
	return n
}

// Status answers 200 while the store is usable and 503 once it needs recovery.
func (h *statusHandler) Status(w http.ResponseWriter, r *http.Request) {
	st := &Status{Alive: h.store.Alive(), DBPath: h.dbPath}
	if !st.Alive {
		h.rd.JSON(w, http.StatusServiceUnavailable, st)
		return
	}
	var err error
	if st.Header, err = h.store.Header(); err != nil {
		st.Error = err.Error()
	} else if st.Objects, st.Names, err = h.store.Counts(); err != nil {
		st.Error = err.Error()
	}
	if usage, err := disk.Usage(h.dbPath); err == nil {
		st.Disk = usage
	} else {
		log.Warnf("disk usage of %s: %v", h.dbPath, err)
	}
	h.rd.JSON(w, http.StatusOK, st)
}

func (h *statusHandler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Checkpoint(); err != nil {
		h.rd.JSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.rd.JSON(w, http.StatusOK, "checkpoint finished")
}
