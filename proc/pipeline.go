package proc

import (
	"context"
	"io"
)

// Chain runs a sequence of Configs as a Unix-style pipeline: each
// Supervisor's stdout becomes the next Supervisor's stdin, using
// Supervisor.AsReader (a Supervisor consumed as an InputSource) the same
// way a shell connects commands with "|". The first Config's Input, if
// any, is left untouched; later Configs' Input is overwritten. Chain
// starts every stage immediately and returns them in order; the caller
// drives the last stage's Wait to pull the whole pipeline to completion;
// Stop tears down every stage.
func Chain(ctx context.Context, configs ...*Config) (*ChainedPipeline, error) {
	if len(configs) == 0 {
		return nil, invalidArgument("Chain requires at least one Config")
	}

	stages := make([]*Supervisor, len(configs))
	for i, cfg := range configs {
		if i > 0 {
			src, err := NewInputSourceFrom(stages[i-1].AsReader())
			if err != nil {
				return nil, err
			}
			cfg.Input = src
		}
		stages[i] = NewSupervisor(cfg)
	}

	for i, s := range stages {
		if err := s.Start(ctx); err != nil {
			for j := 0; j < i; j++ {
				_, _ = stages[j].Kill(0, 0)
			}
			return nil, err
		}
	}

	return &ChainedPipeline{stages: stages}, nil
}

// ChainedPipeline is the running result of Chain.
type ChainedPipeline struct {
	stages []*Supervisor
}

// Stages returns the pipeline's Supervisors in execution order.
func (p *ChainedPipeline) Stages() []*Supervisor { return p.stages }

// Last returns the final stage, whose stdout is the pipeline's overall
// output.
func (p *ChainedPipeline) Last() *Supervisor { return p.stages[len(p.stages)-1] }

// Wait drains every stage to completion in order and returns the first
// error encountered, continuing to wait on the remaining stages so their
// resources are still released.
func (p *ChainedPipeline) Wait() error {
	var first error
	for _, s := range p.stages {
		// An upstream stage consumed entirely through AsReader by the
		// next stage's pump may already have reached Terminated on its
		// own (Iterator.Valid calls Supervisor.ensureTerminated) by the
		// time we get here.
		if s.State() == StateTerminated {
			continue
		}
		if err := s.Wait(nil); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stop kills every stage that is still running.
func (p *ChainedPipeline) Stop() {
	for _, s := range p.stages {
		_, _ = s.Kill(0, 0)
	}
}

// FuncSource runs f in its own goroutine with w as its only handle to
// produce output, and returns an io.Reader suitable as an InputSource
// chunk: a Go function used as a pipeline stage. The pipe closes
// automatically, carrying f's returned error to the reader side, once f
// returns.
func FuncSource(f func(ctx context.Context, w io.Writer) error) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		err := recoverToErr("func source", func() error {
			return f(context.Background(), pw)
		})
		_ = pw.CloseWithError(err)
	}()
	return pr
}
