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

package passes

import (
    `fmt`
    `io`
    `sort`
    `strings`
    `sync`
    `sync/atomic`

    `github.com/fatih/color`
)

// Metrics aggregates counters under slash-separated key paths, e.g.
// "shrinker/const_prop/branches_removed".
type Metrics struct {
    mu       sync.Mutex
    counters map[string]*int64
}

// NewMetrics returns an empty aggregate.
func NewMetrics() *Metrics {
    return &Metrics { counters: make(map[string]*int64) }
}

// Counter returns the addressable counter at path, creating it at zero.
// The returned pointer may be bumped with atomic adds from any worker.
func (self *Metrics) Counter(path string) *int64 {
    self.mu.Lock()
    c, ok := self.counters[path]
    if !ok {
        c = new(int64)
        self.counters[path] = c
    }
    self.mu.Unlock()
    return c
}

// Add bumps the counter at path.
func (self *Metrics) Add(path string, n int64) {
    atomic.AddInt64(self.Counter(path), n)
}

// Get reads the counter at path.
func (self *Metrics) Get(path string) int64 {
    return atomic.LoadInt64(self.Counter(path))
}

// Each visits all nonzero counters in path order.
func (self *Metrics) Each(fn func(path string, v int64)) {
    self.mu.Lock()
    paths := make([]string, 0, len(self.counters))
    for p := range self.counters {
        paths = append(paths, p)
    }
    self.mu.Unlock()

    sort.Strings(paths)
    for _, p := range paths {
        if v := self.Get(p); v != 0 {
            fn(p, v)
        }
    }
}

// Render writes a human-readable report of all nonzero counters,
// grouped by their first path segment.
func (self *Metrics) Render(w io.Writer) {
    head := color.New(color.Bold, color.FgCyan)
    val  := color.New(color.FgGreen)
    last := ""

    self.Each(func(path string, v int64) {
        group, rest, _ := strings.Cut(path, "/")
        if group != last {
            head.Fprintf(w, "%s\n", group)
            last = group
        }
        if rest == "" {
            rest = group
        }
        fmt.Fprintf(w, "  %-48s %s\n", rest, val.Sprintf("%d", v))
    })
}

// Scoped groups counters under a common prefix.
type Scoped struct {
    m      *Metrics
    prefix string
}

// Scoped returns a view rooted at prefix.
func (self *Metrics) Scoped(prefix string) Scoped {
    return Scoped { m: self, prefix: prefix }
}

// Add bumps the counter at prefix/name.
func (self Scoped) Add(name string, n int64) {
    self.m.Add(self.prefix + "/" + name, n)
}

// Scoped nests a further prefix level.
func (self Scoped) Scoped(name string) Scoped {
    return Scoped { m: self.m, prefix: self.prefix + "/" + name }
}
