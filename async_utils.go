package dragonscale

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/eventbus"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

type asyncSession struct {
	session  *Session
	pCtx     *ProcessContext
	cancel   context.CancelFunc
	done     chan struct{}
	report   *Report
	err      error
	finished time.Time
}

func (as *asyncSession) isDone() bool {
	select {
	case <-as.done:
		return true
	default:
		return false
	}
}

// AsyncSessionStatus represents the status information for an async run.
type AsyncSessionStatus struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"session_id"`
	Request      string        `json:"request,omitempty"`
	CurrentState ProcessState  `json:"current_state"`
	Iteration    int           `json:"iteration"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// RunAsync starts req on session in the background and returns the id of
// the run. Values of ctx are kept, its cancellation is not: use
// CancelAsyncSession.
func (e *Engine) RunAsync(ctx context.Context, session *Session, req Request) (string, error) {
	pCtx, err := newRequestContext(req)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	as := &asyncSession{session: session, pCtx: pCtx, cancel: cancel, done: make(chan struct{})}

	e.asyncSessionsMutex.Lock()
	e.asyncSessions[id] = as
	e.asyncSessionsMutex.Unlock()

	meta := map[string]interface{}{"async_id": id, eventbus.MetaSessionID: session.ID()}
	eventbus.Emit(ctx, e.bus(), eventbus.EventSessionAsyncStarted, "Engine.RunAsync", pCtx.Request, meta)

	go func() {
		defer cancel()
		report, err := session.run(runCtx, pCtx)

		e.asyncSessionsMutex.Lock()
		as.report, as.err, as.finished = report, err, time.Now()
		e.asyncSessionsMutex.Unlock()
		close(as.done)

		m := map[string]interface{}{
			"async_id":             id,
			eventbus.MetaSessionID: session.ID(),
			eventbus.MetaDuration:  report.Duration.Milliseconds(),
			eventbus.MetaStatus:    string(report.Status),
		}
		switch {
		case err == nil:
			eventbus.Emit(runCtx, e.bus(), eventbus.EventSessionAsyncSuccess, "Engine.RunAsync", report.Results, m)
		case report.State == StateCancelled:
			// CancelAsyncSession already announced it.
		default:
			m[eventbus.MetaError] = err.Error()
			m[eventbus.MetaErrorCode] = ds.CodeOf(err)
			eventbus.Emit(runCtx, e.bus(), eventbus.EventSessionAsyncFailure, "Engine.RunAsync", nil, m)
		}
	}()

	log.Printf("Started async session run (id: %s, session: %s)", id, session.ID())
	return id, nil
}

func (e *Engine) lookupAsync(id string) (*asyncSession, error) {
	e.asyncSessionsMutex.RLock()
	defer e.asyncSessionsMutex.RUnlock()
	as, ok := e.asyncSessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return as, nil
}

// GetAsyncStatus retrieves the current status of an async run.
func (e *Engine) GetAsyncStatus(id string) (*AsyncSessionStatus, error) {
	as, err := e.lookupAsync(id)
	if err != nil {
		return nil, err
	}
	snap := as.pCtx.Snapshot()
	status := &AsyncSessionStatus{
		ID:           id,
		SessionID:    as.session.ID(),
		Request:      as.pCtx.Request,
		CurrentState: snap.State,
		Iteration:    snap.Iteration,
		StartTime:    snap.StartTime,
		Duration:     as.pCtx.GetTotalDuration(),
		IsComplete:   snap.State == StateComplete,
		HasError:     snap.State == StateError || snap.State == StateCancelled,
	}
	if snap.Err != nil {
		status.ErrorMessage = snap.Err.Error()
		status.ErrorStage = snap.ErrorStage
	}
	return status, nil
}

// GetAsyncReport returns the report of a finished async run together with
// the error that ended it. ErrSessionRunning is returned while it runs.
func (e *Engine) GetAsyncReport(id string) (*Report, error) {
	as, err := e.lookupAsync(id)
	if err != nil {
		return nil, err
	}
	if !as.isDone() {
		return nil, ErrSessionRunning
	}
	e.asyncSessionsMutex.RLock()
	defer e.asyncSessionsMutex.RUnlock()
	return as.report, as.err
}

// WaitAsync blocks until the async run finishes or ctx is done.
func (e *Engine) WaitAsync(ctx context.Context, id string) (*Report, error) {
	as, err := e.lookupAsync(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-as.done:
		return e.GetAsyncReport(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CancelAsyncSession cancels an ongoing async run.
// Returns true if the run was cancelled, false if it had already finished.
func (e *Engine) CancelAsyncSession(id string) (bool, error) {
	as, err := e.lookupAsync(id)
	if err != nil {
		return false, err
	}
	if as.isDone() {
		return false, nil
	}
	as.cancel()

	eventbus.Emit(context.Background(), e.bus(), eventbus.EventSessionAsyncCancelled, "Engine.CancelAsyncSession",
		as.pCtx.Request, map[string]interface{}{
			"async_id":             id,
			eventbus.MetaSessionID: as.session.ID(),
			eventbus.MetaDuration:  as.pCtx.GetTotalDuration().Milliseconds(),
		})
	return true, nil
}

// ListAsyncSessions returns every async run id with its current state.
func (e *Engine) ListAsyncSessions() map[string]string {
	e.asyncSessionsMutex.RLock()
	defer e.asyncSessionsMutex.RUnlock()

	result := make(map[string]string, len(e.asyncSessions))
	for id, as := range e.asyncSessions {
		result[id] = string(as.pCtx.State())
	}
	return result
}

// CleanupCompletedSessions removes finished async runs older than olderThan
// and returns how many were removed.
func (e *Engine) CleanupCompletedSessions(olderThan time.Duration) int {
	e.asyncSessionsMutex.Lock()
	defer e.asyncSessionsMutex.Unlock()

	now := time.Now()
	count := 0
	for id, as := range e.asyncSessions {
		if as.isDone() && now.Sub(as.finished) > olderThan {
			delete(e.asyncSessions, id)
			count++
		}
	}
	return count
}
