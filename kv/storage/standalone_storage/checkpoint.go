package standalone_storage

import (
	"sync"
	"time"

	"github.com/coocood/badger"
	"github.com/docker/go-units"
	"github.com/juju/ratelimit"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyobj/kv/util/worker"
	"go.uber.org/atomic"
)

const (
	triggerInterval = "interval"
	triggerSize     = "size"
	triggerManual   = "manual"

	valueLogGCDiscardRatio = 0.5
	// At most this many size triggered checkpoints run per second.
	sizeTriggerRate = 1.0
)

type checkpointTask struct {
	trigger string
	done    chan struct{}
}

type checkpointHandler struct {
	db         *badger.DB
	removeLogs bool
	closing    *atomic.Bool
}

// Start publishes the engine size before the first checkpoint runs.
func (h *checkpointHandler) Start() {
	lsm, vlog := h.publishSizes()
	log.Debugf("checkpointer started, lsm %s, vlog %s", units.BytesSize(float64(lsm)), units.BytesSize(float64(vlog)))
}

func (h *checkpointHandler) publishSizes() (lsm, vlog int64) {
	lsm, vlog = h.db.Size()
	engineSizeGauge.WithLabelValues("lsm").Set(float64(lsm))
	engineSizeGauge.WithLabelValues("vlog").Set(float64(vlog))
	return lsm, vlog
}

func (h *checkpointHandler) Handle(t worker.Task) {
	task := t.(*checkpointTask)
	if task.done != nil {
		defer close(task.done)
	}
	if h.closing.Load() {
		return
	}
	start := time.Now()
	rewritten := 0
	if h.removeLogs {
		// RunValueLogGC returns an error once there is nothing left worth rewriting.
		for h.db.RunValueLogGC(valueLogGCDiscardRatio) == nil {
			rewritten++
			if h.closing.Load() {
				break
			}
		}
	}
	lsm, vlog := h.publishSizes()
	checkpointCounter.WithLabelValues(task.trigger).Inc()
	checkpointDuration.Observe(time.Since(start).Seconds())
	log.Debugf("checkpoint (%s) took %v, rewrote %d value log files, lsm %s, vlog %s",
		task.trigger, time.Since(start), rewritten, units.BytesSize(float64(lsm)), units.BytesSize(float64(vlog)))
}

// checkpointer runs checkpoints on a worker every interval, and earlier once threshold bytes were committed since
// the last one. No checkpoint starts after stop returns.
type checkpointer struct {
	worker    *worker.Worker
	wg        sync.WaitGroup
	interval  time.Duration
	threshold int64
	written   atomic.Int64
	limiter   *ratelimit.Bucket
	closing   atomic.Bool
	stopCh    chan struct{}
}

func newCheckpointer(db *badger.DB, interval time.Duration, threshold int64, removeLogs bool) *checkpointer {
	c := &checkpointer{
		interval:  interval,
		threshold: threshold,
		limiter:   ratelimit.NewBucketWithRate(sizeTriggerRate, 1),
		stopCh:    make(chan struct{}),
	}
	c.worker = worker.NewWorker("checkpoint", &c.wg)
	c.worker.Start(&checkpointHandler{db: db, removeLogs: removeLogs, closing: &c.closing})
	if interval > 0 {
		c.wg.Add(1)
		go c.tick()
	}
	return c
}

func (c *checkpointer) tick() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.worker.Schedule(&checkpointTask{trigger: triggerInterval})
		case <-c.stopCh:
			return
		}
	}
}

// noteWritten records committed bytes and schedules a checkpoint once the threshold is crossed.
func (c *checkpointer) noteWritten(n int) {
	if c.threshold <= 0 {
		return
	}
	if c.written.Add(int64(n)) < c.threshold {
		return
	}
	if c.limiter.TakeAvailable(1) == 0 {
		return
	}
	c.written.Store(0)
	c.worker.Schedule(&checkpointTask{trigger: triggerSize})
}

// runNow schedules a checkpoint and waits for it. It returns false if the checkpoint could not be scheduled.
func (c *checkpointer) runNow() bool {
	done := make(chan struct{})
	if !c.worker.Schedule(&checkpointTask{trigger: triggerManual, done: done}) {
		return false
	}
	<-done
	return true
}

func (c *checkpointer) stop() {
	c.closing.Store(true)
	close(c.stopCh)
	c.worker.Stop()
	c.wg.Wait()
}
