package replicator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"Strata/internal/localstore"
	"Strata/internal/metrics"
	"Strata/internal/netmap"
	"Strata/internal/object"
)

const (
	// defaultPutTimeout bounds a single push to a remote node.
	defaultPutTimeout = 10 * time.Second

	// defaultQueueSize is the number of tasks buffered before Submit drops.
	defaultQueueSize = 1024
)

// Task asks for Quantity more copies of Address on the given candidates,
// tried in order.
type Task struct {
	ID       uuid.UUID         // ID correlates log lines of one task
	Address  object.Address    // Address is the object to copy
	Quantity int               // Quantity is the number of missing copies
	Nodes    []netmap.NodeInfo // Nodes are the candidates in preference order
}

// Result reports the outcome of a processed task.
type Result struct {
	Task   Task              // Task is the processed task
	Placed []netmap.NodeInfo // Placed are the nodes that accepted the object
	Err    error             // Err is set when the task was dropped
}

// LocalStorage provides the objects to replicate.
type LocalStorage interface {
	Get(addr object.Address) (*object.Object, error)
}

// RemoteSender pushes an object to a remote node.
type RemoteSender interface {
	PutObject(ctx context.Context, node netmap.NodeInfo, obj *object.Object) ([]byte, error)
}

// Config tunes the replicator.
type Config struct {
	PutTimeout time.Duration // PutTimeout bounds each push
	QueueSize  int           // QueueSize is the task buffer size
	RateLimit  float64       // RateLimit caps pushes per second, 0 disables the limit
	Burst      int           // Burst is the limiter bucket size
	Logger     *slog.Logger  // Logger receives task logs
	OnResult   func(Result)  // OnResult, if set, observes every processed task
}

func (c Config) withDefaults() Config {
	if c.PutTimeout <= 0 {
		c.PutTimeout = defaultPutTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "replicator")
	}

	return c
}

// message is the closed set of values the replicator loop consumes.
type message interface {
	replicatorMessage()
}

type taskMsg struct{ task Task }

type stopMsg struct{}

func (taskMsg) replicatorMessage() {}
func (stopMsg) replicatorMessage() {}

// Replicator copies local objects to remote nodes. Tasks are handled one
// at a time in submission order.
type Replicator struct {
	cfg     Config
	local   LocalStorage
	remote  RemoteSender
	limiter *rate.Limiter
	log     *slog.Logger

	inbox  chan message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a replicator. Call Start to begin processing.
func New(cfg Config, local LocalStorage, remote RemoteSender) *Replicator {
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Replicator{
		cfg:     cfg,
		local:   local,
		remote:  remote,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     cfg.Logger,
		inbox:   make(chan message, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the processing loop.
func (r *Replicator) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Stop aborts the running push, discards queued tasks and waits for the loop.
func (r *Replicator) Stop() {
	r.cancel()
	r.inbox <- stopMsg{}
	r.wg.Wait()
}

// Submit queues a task without blocking. It reports false when the queue
// is full and the task was dropped.
func (r *Replicator) Submit(t Task) bool {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	select {
	case r.inbox <- taskMsg{task: t}:
		return true
	default:
		r.log.Warn("replication queue full, task dropped", "task", t.ID, "address", t.Address)
		metrics.ReplicatorTasks.WithLabelValues("overflow").Inc()
		return false
	}
}

func (r *Replicator) loop() {
	defer r.wg.Done()

	for msg := range r.inbox {
		switch m := msg.(type) {
		case taskMsg:
			if r.ctx.Err() != nil {
				continue
			}
			r.report(r.process(r.ctx, m.task))
		case stopMsg:
			return
		}
	}
}

func (r *Replicator) report(res Result) {
	if r.cfg.OnResult != nil {
		r.cfg.OnResult(res)
	}
}

// process pushes the object to the first candidates. Every attempt uses up
// one unit of quantity, successful or not.
func (r *Replicator) process(ctx context.Context, t Task) Result {
	res := Result{Task: t}

	obj, err := r.local.Get(t.Address)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) || errors.Is(err, localstore.ErrAlreadyRemoved) {
			r.log.Debug("object gone, task dropped", "task", t.ID, "address", t.Address)
		} else {
			r.log.Warn("read local object", "task", t.ID, "address", t.Address, "error", err)
		}
		metrics.ReplicatorTasks.WithLabelValues("dropped").Inc()
		res.Err = err
		return res
	}

	size := humanize.Bytes(obj.Header.PayloadSize)
	remaining := t.Quantity

	for _, node := range t.Nodes {
		if remaining <= 0 {
			break
		}
		remaining--

		if err := r.limiter.Wait(ctx); err != nil {
			res.Err = err
			return res
		}

		if r.push(ctx, t, node, obj, size) {
			res.Placed = append(res.Placed, node)
		}
	}

	result := "done"
	if len(res.Placed) < t.Quantity {
		result = "partial"
		r.log.Info("replication incomplete",
			"task", t.ID, "address", t.Address,
			"placed", len(res.Placed), "wanted", t.Quantity, "candidates", len(t.Nodes))
	}
	metrics.ReplicatorTasks.WithLabelValues(result).Inc()

	return res
}

func (r *Replicator) push(ctx context.Context, t Task, node netmap.NodeInfo, obj *object.Object, size string) bool {
	start := time.Now()

	pctx, cancel := context.WithTimeout(ctx, r.cfg.PutTimeout)
	defer cancel()

	if _, err := r.remote.PutObject(pctx, node, obj); err != nil {
		r.log.Warn("push failed",
			"task", t.ID, "address", t.Address, "node", node.Address(), "size", size, "error", err)
		metrics.ReplicatorPushes.WithLabelValues("failed").Inc()
		return false
	}

	r.log.Debug("object replicated",
		"task", t.ID, "address", t.Address, "node", node.Address(), "size", size,
		"elapsed", time.Since(start))
	metrics.ReplicatorPushes.WithLabelValues("ok").Inc()
	metrics.ReplicatorPushBytes.Add(float64(obj.Header.PayloadSize))

	return true
}
