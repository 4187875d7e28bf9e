// Copyright (c) 2026 John Earle
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

package pipeline

import (
	"context"
	"sync"
)

// poolResult is the outcome of one processed item.
type poolResult[In, Out any] struct {
	Input  In
	Output Out
	Err    error
}

// runPool feeds items, in order, to a bounded set of workers. Workers run
// process with ctx, so a started item is never cancelled by dispatchCtx.
// Dispatch stops when dispatchCtx ends or onResult returns an error; the
// items never handed to a worker are returned along with that error.
//
// onResult runs on the calling goroutine, one result at a time, in
// completion order.
func runPool[In, Out any](
	ctx, dispatchCtx context.Context,
	items []In,
	workers int,
	process func(context.Context, In) (Out, error),
	onResult func(poolResult[In, Out]) error,
) ([]In, error) {
	if workers <= 0 {
		workers = 1
	}

	dispatchCtx, cancel := context.WithCancel(dispatchCtx)
	defer cancel()

	jobs := make(chan In)
	done := make(chan poolResult[In, Out], workers)

	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for in := range jobs {
				out, err := process(ctx, in)
				done <- poolResult[In, Out]{Input: in, Output: out, Err: err}
			}
		}()
	}

	sent := 0
	fed := make(chan struct{})
	go func() {
		defer close(fed)
		defer close(jobs)
		for _, in := range items {
			if dispatchCtx.Err() != nil {
				return
			}
			select {
			case jobs <- in:
				sent++
			case <-dispatchCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	for res := range done {
		if err := onResult(res); err != nil {
			fail(err)
		}
	}
	<-fed

	mu.Lock()
	err := firstErr
	mu.Unlock()
	return items[sent:], err
}
