package provider

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// GenerateRunner executes task runs by dispatching the prompt to the
// code-generation provider in the background. Each run completes through
// the handle's done channel; callers wait, they never poll.
type GenerateRunner struct {
	Gen  CodeGenerationProvider
	Opts GenerateOptions
}

func NewGenerateRunner(gen CodeGenerationProvider, opts GenerateOptions) *GenerateRunner {
	return &GenerateRunner{Gen: gen, Opts: opts}
}

func (r *GenerateRunner) StartRun(ctx context.Context, prompt string) (RunHandle, error) {
	run := &generateRun{
		id:     uuid.New().String(),
		status: RunRunning,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(run.done)
		result, err := r.Gen.Generate(ctx, prompt, r.Opts)
		run.mu.Lock()
		defer run.mu.Unlock()
		if err != nil {
			if ctx.Err() != nil {
				run.status = RunCancelled
			} else {
				run.status = RunFailed
			}
			run.result = RunResult{Status: run.status, Err: err.Error()}
			return
		}
		run.status = RunCompleted
		run.result = RunResult{Status: RunCompleted, Response: result.Code}
	}()
	return run, nil
}

type generateRun struct {
	id     string
	mu     sync.Mutex
	status RunStatus
	result RunResult
	done   chan struct{}
}

func (r *generateRun) ID() string { return r.id }

func (r *generateRun) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *generateRun) Wait(ctx context.Context) (RunResult, error) {
	select {
	case <-ctx.Done():
		return RunResult{Status: RunCancelled, Err: ctx.Err().Error()}, ctx.Err()
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.result, nil
	}
}
