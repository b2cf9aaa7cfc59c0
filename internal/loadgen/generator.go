// Package loadgen simulates API traffic against a JSON HTTP backend and
// publishes the matching request, response and error events.
package loadgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/drblury/apilog/internal/runtime"
	errs "github.com/drblury/apilog/internal/runtime/errors"
	"github.com/drblury/apilog/internal/runtime/events"
	"github.com/drblury/apilog/internal/runtime/ids"
	"github.com/drblury/apilog/internal/runtime/jsoncodec"
	"github.com/drblury/apilog/internal/runtime/logging"
	"github.com/drblury/apilog/internal/runtime/metadata"
)

// ProducerName is sent in the producer header of every event.
const ProducerName = "apilog-loadgen"

const maxResponseBytes = 1 << 20

// Config tunes the generated traffic.
type Config struct {
	// BaseURL is the JSON backend, e.g. http://json-server:3000.
	BaseURL   string
	Resources []string

	// Rate is the number of calls per second at a traffic factor of 1.
	Rate      float64
	Workers   int
	QueueSize int

	// ErrorRate is the share of calls answered with a simulated error
	// instead of reaching the backend.
	ErrorRate float64
	// SlowRate is the share of calls delayed by SlowMin..SlowMax before
	// they start.
	SlowRate float64
	SlowMin  time.Duration
	SlowMax  time.Duration

	// Every BurstEvery regular calls a burst of BurstMin..BurstMax extra
	// calls is queued with probability BurstChance. Burst calls that do not
	// fit the queue are dropped.
	BurstEvery  int
	BurstChance float64
	BurstMin    int
	BurstMax    int

	// Every SweepEvery successful order creations one GET is sent to each
	// resource, SweepGapMin..SweepGapMax apart. Sweep calls that do not fit
	// the queue are dropped. Zero disables sweeps.
	SweepEvery  int
	SweepGapMin time.Duration
	SweepGapMax time.Duration

	// MaxJobs stops the generator after that many regular calls. Zero runs
	// until the context is cancelled.
	MaxJobs        int
	RequestTimeout time.Duration
}

// DefaultConfig mirrors the pacing of the demo stack: one call every few
// seconds during business hours with occasional bursts.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://json-server:3000",
		Resources:      []string{"orders", "users", "products", "analytics"},
		Rate:           0.25,
		Workers:        8,
		QueueSize:      64,
		ErrorRate:      0.05,
		SlowRate:       0.1,
		SlowMin:        500 * time.Millisecond,
		SlowMax:        2 * time.Second,
		BurstEvery:     20,
		BurstChance:    0.3,
		BurstMin:       15,
		BurstMax:       30,
		SweepEvery:     10,
		SweepGapMin:    500 * time.Millisecond,
		SweepGapMax:    1500 * time.Millisecond,
		RequestTimeout: 10 * time.Second,
	}
}

func (c Config) Validate() error {
	var problems []error
	if c.BaseURL == "" {
		problems = append(problems, errors.New("base url is required"))
	}
	if len(c.Resources) == 0 {
		problems = append(problems, errors.New("at least one resource is required"))
	}
	if c.Rate <= 0 {
		problems = append(problems, errors.New("rate must be positive"))
	}
	if c.Workers < 1 {
		problems = append(problems, errors.New("workers must be at least 1"))
	}
	if c.QueueSize < 0 {
		problems = append(problems, errors.New("queue size cannot be negative"))
	}
	for _, share := range []struct {
		name  string
		value float64
	}{{"error rate", c.ErrorRate}, {"slow rate", c.SlowRate}, {"burst chance", c.BurstChance}} {
		if share.value < 0 || share.value > 1 {
			problems = append(problems, fmt.Errorf("%s must be within [0,1], got %v", share.name, share.value))
		}
	}
	if c.SlowMax < c.SlowMin {
		problems = append(problems, errors.New("slow max must not be below slow min"))
	}
	if c.BurstMax < c.BurstMin || c.BurstMin < 0 {
		problems = append(problems, errors.New("burst range is invalid"))
	}
	if c.SweepEvery < 0 {
		problems = append(problems, errors.New("sweep interval cannot be negative"))
	}
	if c.SweepGapMax < c.SweepGapMin || c.SweepGapMin < 0 {
		problems = append(problems, errors.New("sweep gap range is invalid"))
	}
	if c.MaxJobs < 0 {
		problems = append(problems, errors.New("max jobs cannot be negative"))
	}
	return errs.NewConfigValidationError(errors.Join(problems...))
}

// Stats counts what the generator did so far.
type Stats struct {
	Submitted     int64
	Dropped       int64
	Published     int64
	PublishFailed int64
	Orders        int64
	Sweeps        int64
}

// Generator paces simulated calls onto a worker pool.
type Generator struct {
	cfg      Config
	producer runtime.Producer
	client   *http.Client
	logger   logging.ServiceLogger
	now      func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand

	submitted     atomic.Int64
	dropped       atomic.Int64
	published     atomic.Int64
	publishFailed atomic.Int64
	orders        atomic.Int64
	sweepCount    atomic.Int64

	sweeps chan struct{}
}

// Option customises a Generator.
type Option func(*Generator)

func WithHTTPClient(client *http.Client) Option {
	return func(g *Generator) {
		if client != nil {
			g.client = client
		}
	}
}

// WithClock overrides the time used for the traffic factor and payloads.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithSeed makes the generated traffic reproducible.
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// New validates cfg and builds a Generator publishing through producer.
func New(cfg Config, producer runtime.Producer, logger logging.ServiceLogger, opts ...Option) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if producer == nil {
		return nil, errs.ErrPublisherRequired
	}
	if logger == nil {
		return nil, errs.ErrLoggerRequired
	}

	g := &Generator{
		cfg:      cfg,
		producer: producer,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		logger:   logger.With(logging.LogFields{"component": "loadgen"}),
		now:      time.Now,
		rand:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		sweeps:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Stats returns a snapshot of the counters.
func (g *Generator) Stats() Stats {
	return Stats{
		Submitted:     g.submitted.Load(),
		Dropped:       g.dropped.Load(),
		Published:     g.published.Load(),
		PublishFailed: g.publishFailed.Load(),
		Orders:        g.orders.Load(),
		Sweeps:        g.sweepCount.Load(),
	}
}

// Run generates traffic until ctx is done or MaxJobs regular calls were
// queued, then waits for queued calls to finish. Calls still queued when ctx
// is cancelled are skipped.
func (g *Generator) Run(ctx context.Context) error {
	pool := NewPool(ctx, g.cfg.Workers, g.cfg.QueueSize)
	limiter := rate.NewLimiter(rate.Limit(g.cfg.Rate), 1)

	g.logger.Info("Load generation started", logging.LogFields{
		"base_url":  g.cfg.BaseURL,
		"resources": g.cfg.Resources,
		"rate":      g.cfg.Rate,
		"workers":   g.cfg.Workers,
	})

	sweepCtx, stopSweeps := context.WithCancel(ctx)
	sweepsDone := make(chan struct{})
	go func() {
		defer close(sweepsDone)
		g.sweepLoop(sweepCtx, pool)
	}()

	sinceBurst := 0
	for n := 0; g.cfg.MaxJobs == 0 || n < g.cfg.MaxJobs; n++ {
		limiter.SetLimit(rate.Limit(g.cfg.Rate * trafficFactor(g.now(), g.float())))
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		c := g.nextCall()
		if err := pool.Submit(ctx, func(ctx context.Context) { g.execute(ctx, c) }); err != nil {
			break
		}
		g.submitted.Add(1)

		if sinceBurst++; g.cfg.BurstEvery > 0 && sinceBurst >= g.cfg.BurstEvery {
			sinceBurst = 0
			if g.float() < g.cfg.BurstChance {
				g.burst(pool)
			}
		}
	}

	stopSweeps()
	<-sweepsDone
	_ = pool.Close()
	stats := g.Stats()
	g.logger.Info("Load generation stopped", logging.LogFields{
		"submitted":      stats.Submitted,
		"dropped":        stats.Dropped,
		"published":      stats.Published,
		"publish_failed": stats.PublishFailed,
		"orders":         stats.Orders,
		"sweeps":         stats.Sweeps,
	})
	return nil
}

func (g *Generator) burst(pool *Pool) {
	size := g.cfg.BurstMin + g.intn(g.cfg.BurstMax-g.cfg.BurstMin+1)
	queued := 0
	for i := 0; i < size; i++ {
		c := g.nextCall()
		err := pool.TrySubmit(func(ctx context.Context) { g.execute(ctx, c) })
		if err != nil {
			g.dropped.Add(int64(size - i))
			break
		}
		queued++
		g.submitted.Add(1)
	}
	g.logger.Info("Traffic burst", logging.LogFields{"size": size, "queued": queued})
}

func (g *Generator) sweepLoop(ctx context.Context, pool *Pool) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.sweeps:
			g.sweep(ctx, pool)
		}
	}
}

// sweep queues one GET per resource, spaced by a random gap.
func (g *Generator) sweep(ctx context.Context, pool *Pool) {
	g.sweepCount.Add(1)
	queued := 0
	for i, resource := range g.cfg.Resources {
		if i > 0 {
			gap := g.cfg.SweepGapMin + time.Duration(g.float()*float64(g.cfg.SweepGapMax-g.cfg.SweepGapMin))
			select {
			case <-ctx.Done():
				return
			case <-time.After(gap):
			}
		}
		c := call{resource: resource, endpoint: g.endpoint(resource), method: http.MethodGet}
		if err := pool.TrySubmit(func(ctx context.Context) { g.execute(ctx, c) }); err != nil {
			g.dropped.Add(1)
			continue
		}
		queued++
		g.submitted.Add(1)
	}
	g.logger.Info("Endpoint sweep", logging.LogFields{"orders": g.orders.Load(), "queued": queued})
}

// orderCreated counts a successful order and asks for a sweep every
// SweepEvery orders. A sweep already pending absorbs the request.
func (g *Generator) orderCreated() {
	n := g.orders.Add(1)
	if g.cfg.SweepEvery > 0 && n%int64(g.cfg.SweepEvery) == 0 {
		select {
		case g.sweeps <- struct{}{}:
		default:
		}
	}
}

type call struct {
	resource string
	endpoint string
	method   string
	itemID   int
	data     map[string]any
}

func (g *Generator) nextCall() call {
	resource := g.cfg.Resources[g.intn(len(g.cfg.Resources))]
	c := call{
		resource: resource,
		endpoint: g.endpoint(resource),
		method:   pickMethod(g.float()),
	}
	if targetsItem(c.method) {
		c.itemID = g.intn(10) + 1
	}
	if hasBody(c.method) {
		c.data = g.payloadFor(resource)
	}
	return c
}

func (g *Generator) endpoint(resource string) string {
	return strings.TrimRight(g.cfg.BaseURL, "/") + "/" + resource
}

func (g *Generator) execute(ctx context.Context, c call) {
	if ctx.Err() != nil {
		return
	}
	if g.cfg.SlowRate > 0 && g.float() < g.cfg.SlowRate {
		delay := g.cfg.SlowMin + time.Duration(g.float()*float64(g.cfg.SlowMax-g.cfg.SlowMin))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	md := metadata.New(
		metadata.KeyProducer, ProducerName,
		metadata.KeyCorrelationID, ids.CreateULID(),
	)
	g.publish(ctx, events.NewRequest(c.endpoint, c.method, c.data), md)
	start := time.Now()

	if g.float() < g.cfg.ErrorRate {
		se := simulatedErrors[g.intn(len(simulatedErrors))]
		g.publish(ctx, events.NewError(c.endpoint, se.status, se.message), md)
		return
	}

	status, body, err := g.do(ctx, c)
	elapsed := math.Round(time.Since(start).Seconds()*1e4) / 1e4
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		g.publish(ctx, events.NewError(c.endpoint, http.StatusInternalServerError, err.Error()), md)
	case status >= 200 && status < 300:
		g.publish(ctx, events.NewResponse(c.endpoint, status, elapsed, responseBody(c.method, body)), md)
		if c.method == http.MethodPost && c.resource == "orders" {
			g.orderCreated()
		}
	default:
		g.publish(ctx, events.NewError(c.endpoint, status, string(body)), md)
	}
}

func (g *Generator) do(ctx context.Context, c call) (int, []byte, error) {
	target := c.endpoint
	if c.itemID > 0 {
		target += "/" + strconv.Itoa(c.itemID)
	}

	var reqBody io.Reader
	if c.data != nil {
		encoded, err := jsoncodec.Marshal(c.data)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, target, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// responseBody keeps a JSON object reply as the response payload and falls
// back to a short message for anything else.
func responseBody(method string, body []byte) map[string]any {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if obj, err := jsoncodec.UnmarshalObject(body); err == nil {
		return obj
	}
	return map[string]any{"message": method + " operation completed"}
}

func (g *Generator) publish(ctx context.Context, ev events.Event, md metadata.Metadata) {
	if err := g.producer.PublishEvent(ctx, ev, md); err != nil {
		g.publishFailed.Add(1)
		g.logger.Error("Failed to publish event", err, logging.LogFields{
			"event":    ev.Kind.String(),
			"endpoint": ev.Endpoint,
		})
		return
	}
	g.published.Add(1)
}

func (g *Generator) float() float64 {
	g.randMu.Lock()
	defer g.randMu.Unlock()
	return g.rand.Float64()
}

func (g *Generator) intn(n int) int {
	g.randMu.Lock()
	defer g.randMu.Unlock()
	return g.rand.IntN(n)
}
