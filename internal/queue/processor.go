// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PollInterval is how often the processor checks for eligible work.
const PollInterval = 1 * time.Second

// Handler processes one dequeued row. A nil return completes the row;
// an error sends it through the retry/backoff path.
type Handler func(ctx context.Context, row *Row) error

// Processor drives the queue: every tick it leases at most one eligible
// row and invokes the handler for it. A single goroutine does all the
// work, so handlers never run concurrently.
type Processor struct {
	queue    *Queue
	handler  Handler
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	quit    chan struct{}
	done    chan struct{}
}

// NewProcessor creates a processor over the queue.
func NewProcessor(q *Queue, handler Handler, logger *slog.Logger) *Processor {
	return &Processor{queue: q, handler: handler, logger: logger, interval: PollInterval}
}

// SetInterval replaces the poll interval. Test use only; must be
// called before Start.
func (p *Processor) SetInterval(d time.Duration) {
	p.interval = d
}

// Start launches the processing loop. Calling Start on a running
// processor logs a warning and does nothing.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Warn("queue processor already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.quit = make(chan struct{})
	p.done = make(chan struct{})

	go p.run(ctx)
	p.logger.Info("queue processor started", slog.Duration("poll_interval", p.interval))
}

// Stop ceases leasing, waits for any in-flight handler to return, and
// only then cancels the loop context. The handler and its store writes
// therefore always run to completion; shutdown never aborts a step
// mid-flight. Safe to call on a stopped processor.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	quit := p.quit
	done := p.done
	cancel := p.cancel
	p.running = false
	p.mu.Unlock()

	close(quit)
	<-done
	cancel()
	p.logger.Info("queue processor stopped")
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll leases at most one eligible row and processes it.
func (p *Processor) poll(ctx context.Context) {
	row, err := p.queue.Dequeue(ctx)
	if err != nil {
		p.logger.Error("failed to dequeue task", slog.String("error", err.Error()))
		return
	}
	if row == nil {
		return
	}

	p.process(ctx, row)
}

func (p *Processor) process(ctx context.Context, row *Row) {
	logger := p.logger.With(slog.String("task_id", row.TaskID))

	if err := p.handler(ctx, row); err != nil {
		logger.Warn("task handler failed", slog.String("error", err.Error()),
			slog.Int("retry_count", row.RetryCount), slog.Int("max_retries", row.MaxRetries))
		if ferr := p.queue.Fail(ctx, row.TaskID, err); ferr != nil {
			logger.Error("failed to record task failure", slog.String("error", ferr.Error()))
		}
		return
	}

	if err := p.queue.Complete(ctx, row.TaskID); err != nil {
		logger.Error("failed to record task completion", slog.String("error", err.Error()))
	}
}
