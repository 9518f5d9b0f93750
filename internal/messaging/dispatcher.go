package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/state"
)

const defaultDedupWindow = time.Minute

// Controller is the run controller as seen by the message protocol.
type Controller interface {
	Initialize(ctx context.Context, userID string) (*state.RunState, error)
	OpenSearch(ctx context.Context) (string, error)
	StartAutomation(ctx context.Context, jobsToApply int) (state.RunStatus, error)
	FillApplicationForm(ctx context.Context, job state.JobRef) (form.Result, error)
	Stop(ctx context.Context) error
	State() *state.RunState
	Running() bool
}

type cachedResponse struct {
	resp Response
	at   time.Time
}

// Dispatcher routes requests to the controller.
type Dispatcher struct {
	ctrl   Controller
	logger *zap.Logger
	window time.Duration
	now    func() time.Time

	// runCtx outlives single requests; background runs are bound to it.
	runCtx context.Context
	runs   sync.WaitGroup

	mu          sync.Mutex
	seen        map[string]cachedResponse
	jobsToApply int
}

// NewDispatcher returns a Dispatcher whose background runs end with ctx.
func NewDispatcher(ctx context.Context, ctrl Controller, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		ctrl:   ctrl,
		logger: log,
		window: defaultDedupWindow,
		now:    time.Now,
		runCtx: ctx,
		seen:   make(map[string]cachedResponse),
	}
}

// Handle answers req. A request repeating the id of one answered within the
// dedup window gets the cached response and has no effect.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	id := strings.TrimSpace(req.ID)
	if id != "" {
		if resp, ok := d.cached(id); ok {
			d.logger.Debug("duplicate message", zap.String("id", id), zap.String("type", string(req.Type)))
			return resp
		}
	}

	resp := d.dispatch(ctx, req)
	if resp.Status == StatusError {
		d.logger.Warn("message failed", zap.String("type", string(req.Type)), zap.String("error", resp.Error))
	}

	if id != "" {
		d.mu.Lock()
		d.seen[id] = cachedResponse{resp: resp, at: d.now()}
		d.mu.Unlock()
	}
	return resp
}

// Wait blocks until background runs started by processJobs return.
func (d *Dispatcher) Wait() {
	d.runs.Wait()
}

func (d *Dispatcher) cached(id string) (Response, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, entry := range d.seen {
		if now.Sub(entry.at) > d.window {
			delete(d.seen, key)
		}
	}
	entry, ok := d.seen[id]
	return entry.resp, ok
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Response {
	switch req.Type {
	case TypeStartJobSearch:
		return d.startJobSearch(ctx, req)
	case TypeProcessJobs:
		return d.processJobs(ctx, req)
	case TypeFillApplicationForm:
		return d.fillApplicationForm(ctx, req)
	case TypeStop:
		return d.stop(ctx)
	default:
		return errorResponse(fmt.Errorf("unknown message type %q", req.Type))
	}
}

// startJobSearch initializes a run for the user and opens the search page.
func (d *Dispatcher) startJobSearch(ctx context.Context, req Request) Response {
	if d.ctrl.Running() {
		return Response{Status: StatusError, Error: "a run is already in progress", Message: "a run is already in progress, stop it first"}
	}
	if _, err := d.ctrl.Initialize(ctx, req.UserID); err != nil {
		return errorResponse(err)
	}

	d.mu.Lock()
	d.jobsToApply = req.JobsToApply
	d.mu.Unlock()

	url, err := d.ctrl.OpenSearch(ctx)
	if err != nil {
		resp := errorResponse(err)
		resp.URL = url
		return resp
	}
	return Response{Status: StatusReady, URL: url}
}

// processJobs starts the automation in the background unless one is already
// running. A run that is missing, finished or owned by another user is
// initialized first.
func (d *Dispatcher) processJobs(ctx context.Context, req Request) Response {
	if d.ctrl.Running() {
		return Response{Status: StatusProcessing, Message: "already running"}
	}

	st := d.ctrl.State()
	if st == nil || st.Status.Finished() || (req.UserID != "" && st.UserID != req.UserID) {
		userID := req.UserID
		if userID == "" && st != nil {
			userID = st.UserID
		}
		if _, err := d.ctrl.Initialize(ctx, userID); err != nil {
			return errorResponse(err)
		}
	}

	jobsToApply := req.JobsToApply
	if jobsToApply == 0 {
		d.mu.Lock()
		jobsToApply = d.jobsToApply
		d.mu.Unlock()
	}

	if req.Wait {
		status, err := d.ctrl.StartAutomation(ctx, jobsToApply)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Status: StatusCompleted, Message: string(status)}
	}

	d.runs.Add(1)
	go func() {
		defer d.runs.Done()
		status, err := d.ctrl.StartAutomation(d.runCtx, jobsToApply)
		switch {
		case errors.Is(err, context.Canceled):
		case err != nil:
			d.logger.Warn("automation did not start", zap.Error(err))
		default:
			d.logger.Info("automation finished", zap.String("status", string(status)))
		}
	}()
	return Response{Status: StatusProcessing}
}

func (d *Dispatcher) fillApplicationForm(ctx context.Context, req Request) Response {
	if req.JobData == nil || strings.TrimSpace(req.JobData.ID) == "" {
		return errorResponse(errors.New("jobData with an id is required"))
	}

	result, err := d.ctrl.FillApplicationForm(ctx, *req.JobData)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Status: string(result.Status), Message: result.Reason}
}

// stop is idempotent; stopping an unknown run still reports stopped.
func (d *Dispatcher) stop(ctx context.Context) Response {
	if err := d.ctrl.Stop(ctx); err != nil {
		return Response{Status: StatusStopped, Message: err.Error()}
	}
	return Response{Status: StatusStopped}
}
