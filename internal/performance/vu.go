// Package performance runs virtual users against the book API.
package performance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/bookload/internal/performance/book"
	"github.com/wesleyorama2/bookload/internal/performance/metrics"
)

// maxBodyBytes caps how much of a response body is read for failure details.
const maxBodyBytes = 64 << 10

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is between iterations.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is inside an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been asked to stop after the
	// current iteration.
	VUStateStopping
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Recorder receives check results. *metrics.Aggregator implements it.
type Recorder interface {
	Record(result metrics.CheckResult) error
}

// VirtualUser is one simulated client running the create, read, update,
// delete sequence in a loop.
//
// A stop request is only honoured between iterations, so a VU never leaves
// its book half way through the CRUD cycle. Only cancelling the context
// passed to Run aborts in-flight requests.
type VirtualUser struct {
	// ID is unique among live VUs and doubles as the book id.
	ID int

	BaseURL    string
	HTTPClient *http.Client
	Recorder   Recorder

	// Pacing is the pause after each iteration.
	Pacing time.Duration

	logger *zap.Logger

	state     atomic.Int32
	stopCh    chan struct{}
	iteration atomic.Int64
}

// NewVirtualUser creates a new Virtual User.
func NewVirtualUser(id int, baseURL string, client *http.Client, recorder Recorder, pacing time.Duration, logger *zap.Logger) *VirtualUser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VirtualUser{
		ID:         id,
		BaseURL:    baseURL,
		HTTPClient: client,
		Recorder:   recorder,
		Pacing:     pacing,
		logger:     logger.With(zap.Int("vu", id)),
		stopCh:     make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Run executes iterations until a stop is requested or ctx is cancelled.
//
// Request failures never end the loop. Run only returns an error when a
// result could not be recorded, which invalidates the run.
func (vu *VirtualUser) Run(ctx context.Context) error {
	defer vu.markStopped()

	for {
		if ctx.Err() != nil || vu.stopRequested() {
			return nil
		}

		if err := vu.RunIteration(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		vu.pace(ctx)
	}
}

// RunIteration executes the four CRUD steps once, recording a check for
// each. It does not look at stop requests.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	vu.iteration.Add(1)

	for _, step := range book.Sequence(vu.BaseURL, vu.ID) {
		result := vu.execute(ctx, step)

		// A hard abort is the harness giving up, not the target failing.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := vu.Recorder.Record(result); err != nil {
			return fmt.Errorf("vu %d: record %q: %w", vu.ID, step.Check, err)
		}
	}

	return nil
}

// execute issues one request and turns the outcome into a check result.
func (vu *VirtualUser) execute(ctx context.Context, step book.Step) metrics.CheckResult {
	start := time.Now()
	result := metrics.CheckResult{
		Name:      step.Check,
		Timestamp: start,
	}

	req, err := newRequest(ctx, step)
	if err != nil {
		result.Latency = time.Since(start)
		result.Error = fmt.Sprintf("build request: %v", err)
		return result
	}

	resp, err := vu.HTTPClient.Do(req)
	if err != nil {
		result.Latency = time.Since(start)
		result.Error = err.Error()
		result.Transport = true
		vu.logger.Debug("request failed", zap.String("check", step.Check), zap.Error(err))
		return result
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	result.Latency = time.Since(start)
	result.StatusCode = resp.StatusCode

	switch {
	case readErr != nil:
		result.Error = fmt.Sprintf("read response body: %v", readErr)
	case resp.StatusCode == http.StatusOK:
		result.Passed = true
	default:
		result.Error = statusReason(resp.StatusCode, body)
	}

	return result
}

func newRequest(ctx context.Context, step book.Step) (*http.Request, error) {
	var body io.Reader
	if step.HasBody() {
		body = bytes.NewReader(step.Body)
	}

	req, err := http.NewRequestWithContext(ctx, step.Method, step.URL, body)
	if err != nil {
		return nil, err
	}
	if step.HasBody() {
		req.Header = book.Headers()
	}
	return req, nil
}

func statusReason(status int, body []byte) string {
	if detail := book.ErrorDetail(body); detail != "" {
		return fmt.Sprintf("status %d: %s", status, detail)
	}
	return fmt.Sprintf("status %d", status)
}

// pace waits for the pacing interval, a stop request or cancellation.
func (vu *VirtualUser) pace(ctx context.Context) {
	if vu.Pacing <= 0 {
		return
	}

	timer := time.NewTimer(vu.Pacing)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-vu.stopCh:
	case <-timer.C:
	}
}

func (vu *VirtualUser) stopRequested() bool {
	state := vu.GetState()
	return state == VUStateStopping || state == VUStateStopped
}

// RequestStop signals the VU to stop after completing the current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
}
