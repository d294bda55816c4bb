package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caffeineduck/wasmod/command"
	"github.com/caffeineduck/wasmod/system"
)

// SystemResult reports the outcome of driving one registered system through
// one phase.
type SystemResult struct {
	Module   string
	System   string
	Duration time.Duration

	// Err is nil on clean completion. A trap, a guest-reported failure, or
	// a malformed result all land here without affecting other systems.
	Err error

	// Applied and Skipped count the command buffer operations the
	// reconciler committed and rejected.
	Applied int
	Skipped int
}

// PhaseReport collects per-system results for one phase, in registration
// order.
type PhaseReport struct {
	Phase   string
	Results []SystemResult
}

// Failed returns the results of systems that did not complete cleanly.
func (p PhaseReport) Failed() []SystemResult {
	var out []SystemResult
	for _, r := range p.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// RunPhase drives every system registered for the phase: snapshot, invoke,
// then apply the collected command buffers.
//
// Invocations run on a bounded worker pool and may overlap across module
// instances; a single instance is never entered concurrently. Buffer
// application is sequential and happens only after every invocation in the
// phase has returned, so the next phase's snapshots observe all of this
// phase's mutations. A failing system is reported in its result slot and
// never aborts the phase.
func (e *Engine) RunPhase(ctx context.Context, phase string) (PhaseReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return PhaseReport{}, ErrClosed
	}

	regs := e.systems.ForPhase(phase)
	report := PhaseReport{
		Phase:   phase,
		Results: make([]SystemResult, len(regs)),
	}
	if len(regs) == 0 {
		return report, nil
	}

	// Resolve instances up front; the mutex is held for the whole phase so
	// the module set cannot shift under the workers.
	instances := make([]GuestInstance, len(regs))
	for i, reg := range regs {
		mod, ok := e.modules[reg.Module]
		if ok && mod.state == StateReady {
			instances[i] = mod.instance
		}
	}

	buffers := make([]*command.Buffer, len(regs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workers)
	for i := range regs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			buffers[i], report.Results[i] = e.invokeSystem(ctx, phase, regs[i], instances[i])
		}(i)
	}
	wg.Wait()

	for i, buf := range buffers {
		res := &report.Results[i]
		if buf != nil {
			rep := e.rec.Apply(buf, e.world)
			res.Applied = rep.Applied
			res.Skipped = len(rep.Skipped)
			if rep.Err != nil {
				res.Err = rep.Err
			}
		}
		if res.Err != nil {
			e.recordFailure(regs[i].Module, res.Err)
			e.log.Warn("system failed",
				zap.String("phase", phase),
				zap.String("module", res.Module),
				zap.String("system", res.System),
				zap.Error(res.Err))
		}
	}

	return report, nil
}

func (e *Engine) invokeSystem(ctx context.Context, phase string, reg system.Registration, inst GuestInstance) (*command.Buffer, SystemResult) {
	res := SystemResult{Module: reg.Module, System: reg.Name}

	if inst == nil {
		res.Err = errors.New("module instance unavailable")
		return nil, res
	}

	snap, err := buildSnapshot(e.world, phase, reg)
	if err != nil {
		res.Err = err
		return nil, res
	}

	callCtx, cancel := e.callContext(ctx)
	start := time.Now()
	out, err := inst.Invoke(callCtx, reg.Name, snap)
	res.Duration = time.Since(start)
	cancel()

	if err != nil {
		res.Err = &InvocationTrapError{Module: reg.Module, System: reg.Name, Err: err}
		return nil, res
	}

	buf, err := parseResult(reg.Module, reg.Name, out)
	if err != nil {
		res.Err = err
		return nil, res
	}
	return buf, res
}

// recordFailure tallies a per-module failure and, when a call deadline
// killed the instance, marks the module failed so later phases skip it.
func (e *Engine) recordFailure(moduleName string, err error) {
	if err == nil {
		return
	}
	mod, ok := e.modules[moduleName]
	if !ok {
		return
	}
	mod.failures++
	if errors.Is(err, context.DeadlineExceeded) {
		mod.state = StateFailed
	}
}

// Failures reports how many invocations of the module have failed since it
// was last loaded or reloaded.
func (e *Engine) Failures(h Handle) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	mod, ok := e.modules[h.name]
	if !ok || mod.token != h.token {
		return 0
	}
	return mod.failures
}
