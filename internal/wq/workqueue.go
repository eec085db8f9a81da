/*
 * Copyright 2024 Dexopt Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package wq is the fork-join work queue: ForEach fans per-item work out
// over a fixed set of workers with work stealing, and blocks until every
// item is processed. It is the only parallelism primitive in the tool.
package wq

import (
    `sync`
    `sync/atomic`

    `github.com/klauspost/cpuid/v2`
    `github.com/oleiade/lane`

    `github.com/dexopt/dexopt/internal/opts`
)

/* process-wide override, set by the facade from per-job options */
var workers int64

// SetNumWorkers overrides the worker count for subsequent ForEach calls.
// Zero restores the DEXOPT_NUM_WORKERS / core-count default.
func SetNumWorkers(n int) {
    atomic.StoreInt64(&workers, int64(n))
}

// NumWorkers resolves the configured worker count, defaulting to the
// physical core count.
func NumWorkers() int {
    if n := int(atomic.LoadInt64(&workers)); n > 0 {
        return n
    } else if n = opts.NumWorkers; n > 0 {
        return n
    } else if n = cpuid.CPU.PhysicalCores; n > 0 {
        return n
    } else {
        return 1
    }
}

type _Worker struct {
    id  int
    ctx atomic.Value    // current item label, for tracing
    dq  *lane.Deque
}

// contexts holds one slot per live worker so the tracer can report what
// each worker is doing when an invariant trips.
var (
    ctxLock  sync.RWMutex
    contexts = make(map[int]*_Worker)
)

// Contexts snapshots the current per-worker context labels.
func Contexts() map[int]string {
    ctxLock.RLock()
    defer ctxLock.RUnlock()
    ret := make(map[int]string, len(contexts))
    for id, w := range contexts {
        if s, ok := w.ctx.Load().(string); ok && s != "" {
            ret[id] = s
        }
    }
    return ret
}

// ForEach processes every item with fn across NumWorkers workers. Items are
// distributed round-robin; idle workers steal from their neighbors. The
// call establishes the usual fork-join happens-before edges and returns
// only when all items are done.
func ForEach(n int, fn func(i int)) {
    ForEachLabeled(n, func(int) string { return "" }, fn)
}

// ForEachLabeled is ForEach with a per-item label published as the worker
// context while the item runs.
func ForEachLabeled(n int, label func(i int) string, fn func(i int)) {
    nw := NumWorkers()
    if nw > n {
        nw = n
    }
    if n == 0 {
        return
    }

    /* degenerate case: run inline */
    if nw <= 1 {
        for i := 0; i < n; i++ {
            fn(i)
        }
        return
    }

    /* build the per-worker deques */
    ws := make([]*_Worker, nw)
    for i := range ws {
        ws[i] = &_Worker { id: i, dq: lane.NewDeque() }
    }

    /* round-robin initial distribution */
    for i := 0; i < n; i++ {
        ws[i % nw].dq.Append(i)
    }

    /* register the workers for context reporting */
    ctxLock.Lock()
    for _, w := range ws {
        contexts[w.id] = w
    }
    ctxLock.Unlock()

    /* run the workers to completion */
    var wg sync.WaitGroup
    wg.Add(nw)
    for _, w := range ws {
        go func(self *_Worker) {
            defer wg.Done()
            run(self, ws, label, fn)
        }(w)
    }
    wg.Wait()

    /* unregister the workers */
    ctxLock.Lock()
    for _, w := range ws {
        delete(contexts, w.id)
    }
    ctxLock.Unlock()
}

func run(self *_Worker, ws []*_Worker, label func(i int) string, fn func(i int)) {
    for {
        v := self.dq.Pop()

        /* local queue empty, steal from the neighbors */
        if v == nil {
            for d := 1; d < len(ws); d++ {
                if v = ws[(self.id + d) % len(ws)].dq.Shift(); v != nil {
                    break
                }
            }
        }

        /* nothing left anywhere */
        if v == nil {
            self.ctx.Store("")
            return
        }

        /* publish the context, run the item, clear the context */
        i := v.(int)
        self.ctx.Store(label(i))
        fn(i)
        self.ctx.Store("")
    }
}
