package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	manalysis "github.com/viant/tradegate/model/analysis"
	maudit "github.com/viant/tradegate/model/audit"
	"github.com/viant/tradegate/service/messaging"
)

type worker struct {
	id       int
	name     string
	service  *Service
	ctx      context.Context
	cancelFn context.CancelFunc
}

// Start launches the worker pool.
func (s *Service) Start(ctx context.Context) error {
	if s.researcher == nil {
		return fmt.Errorf("analysis: researcher is required to start workers")
	}
	for i := 0; i < s.config.Workers; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &worker{
			id:       i,
			name:     fmt.Sprintf("%s-%d", s.workerName, i),
			service:  s,
			ctx:      workerCtx,
			cancelFn: cancel,
		}
		s.workers = append(s.workers, w)
		s.workerWg.Add(1)
		go w.run()
	}
	return nil
}

// Shutdown stops the workers and waits for them to exit. Runs in flight stop
// at their next step boundary and stay running for a later claim to fail.
func (s *Service) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.shutdownCh)
		for _, w := range s.workers {
			w.cancelFn()
		}
	})
	s.workerWg.Wait()
}

func (w *worker) run() {
	defer w.service.workerWg.Done()
	for {
		msg, err := w.service.queue.Consume(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil || errors.Is(err, messaging.ErrClosed) {
				return
			}
			w.service.logger.Error("failed to consume run", "worker", w.name, "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if msg == nil {
			continue
		}
		runID := msg.T().RunID
		if err = w.service.Execute(w.ctx, runID, w.name); err != nil {
			if errors.Is(err, ErrAlreadyClaimed) {
				w.service.logger.Debug("run already claimed", "worker", w.name, "run_id", runID)
			} else {
				w.service.logger.Error("run execution failed", "worker", w.name, "run_id", runID, "error", err)
			}
		}
		_ = msg.Ack()
	}
}

// Execute claims runID and drives it to a terminal state.
func (s *Service) Execute(ctx context.Context, runID, worker string) error {
	run, token, err := s.Claim(ctx, runID, worker)
	if err != nil {
		return err
	}
	defer s.releaseToken(runID)
	s.logger.Info("analysis run started", "run_id", runID, "worker", worker)

	var lastResult string
	for step := 1; step <= run.MaxSteps; step++ {
		if s.cancelObserved(ctx, runID, token) {
			return s.finish(ctx, runID, manalysis.StatusCanceled, "", "")
		}
		if err = ctx.Err(); err != nil {
			return err
		}
		history := s.events.since(runID, 0)
		next, stepErr := s.researcher.Next(ctx, run, history)
		if stepErr != nil {
			if ctx.Err() != nil && !token.Canceled() {
				return ctx.Err()
			}
			if token.Canceled() {
				return s.finish(ctx, runID, manalysis.StatusCanceled, "", "")
			}
			return s.finish(ctx, runID, manalysis.StatusFailed, "", stepErr.Error())
		}
		if next == nil {
			next = &Step{}
		}
		if next.Result != "" {
			lastResult = next.Result
		}
		if run, err = s.appendStep(ctx, runID, step, next); err != nil {
			return err
		}
		if next.Final {
			return s.finish(ctx, runID, manalysis.StatusCompleted, lastResult, "")
		}
	}
	if s.cancelObserved(ctx, runID, token) {
		return s.finish(ctx, runID, manalysis.StatusCanceled, "", "")
	}
	if lastResult != "" {
		return s.finish(ctx, runID, manalysis.StatusCompleted, lastResult, "")
	}
	return s.finish(ctx, runID, manalysis.StatusFailed, "", fmt.Sprintf("no result after %d steps", run.MaxSteps))
}

// cancelObserved checks the in-process token and the persisted flag, so a
// cancel recorded by another process is seen too.
func (s *Service) cancelObserved(ctx context.Context, runID string, token *CancelToken) bool {
	if token.Canceled() {
		return true
	}
	run, err := s.store.Load(ctx, runID)
	if err != nil {
		return false
	}
	if run.CancelRequested {
		token.Cancel()
		return true
	}
	return false
}

func (s *Service) appendStep(ctx context.Context, runID string, index int, step *Step) (*manalysis.Run, error) {
	eventType := step.Type
	if eventType == "" {
		eventType = manalysis.EventStep
	}
	payload := map[string]interface{}{"step": index}
	for k, v := range step.Payload {
		payload[k] = v
	}
	now := s.clock.Now()
	run, err := s.store.Update(ctx, runID, func(run *manalysis.Run) error {
		if run.Status.IsTerminal() {
			return ErrRunFinished
		}
		run.StepsExecuted++
		return s.events.append(runID, eventType, payload, now)
	})
	if err != nil {
		return nil, err
	}
	s.bus.Notify(runID)
	return run, nil
}

func (s *Service) finish(ctx context.Context, runID string, status manalysis.Status, result, reason string) error {
	now := s.clock.Now()
	run, err := s.store.Update(ctx, runID, func(run *manalysis.Run) error {
		if run.Status.IsTerminal() {
			return ErrRunFinished
		}
		run.Status = status
		run.CompletedAt = &now
		run.Result = result
		run.Error = reason
		switch status {
		case manalysis.StatusCompleted:
			return s.events.append(runID, manalysis.EventRunCompleted, map[string]interface{}{
				"stepsExecuted": run.StepsExecuted,
			}, now)
		case manalysis.StatusFailed:
			return s.events.append(runID, manalysis.EventRunFailed, map[string]interface{}{
				"error": reason,
			}, now)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.bus.Notify(runID)

	kind, level := maudit.KindRunCompleted, maudit.LevelInfo
	switch status {
	case manalysis.StatusFailed:
		kind, level = maudit.KindRunFailed, maudit.LevelError
		s.logger.Error("analysis run failed", "run_id", runID, "error", reason)
	case manalysis.StatusCanceled:
		kind = maudit.KindRunCanceled
		s.logger.Info("analysis run canceled", "run_id", runID, "steps", run.StepsExecuted)
	default:
		s.logger.Info("analysis run completed", "run_id", runID, "steps", run.StepsExecuted)
	}
	err = s.record(ctx, runID, kind, "", level, map[string]interface{}{
		"stepsExecuted": run.StepsExecuted,
		"error":         reason,
	})
	s.notify(ctx, run)
	return err
}
