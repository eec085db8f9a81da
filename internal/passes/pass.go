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
    `github.com/dexopt/dexopt/internal/analysis/global`
    `github.com/dexopt/dexopt/internal/analysis/override`
    `github.com/dexopt/dexopt/internal/config`
    `github.com/dexopt/dexopt/internal/dexstore`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/opts`
    `github.com/dexopt/dexopt/internal/profile`
    `github.com/dexopt/dexopt/internal/shrinker`
)

// Context is the shared state a pass runs against. Long-lived singletons
// (the shrinker, override graph, whole-program constants) are built once
// per manager run and survive across passes.
type Context struct {
    Scope       *ir.Scope
    World       *dexstore.World
    Config      *config.JsonWrapper
    Options     opts.Options
    Metrics     *Metrics
    Overrides   *override.Graph
    Shrinker    *shrinker.Shrinker
    Globals     *global.State
    Baseline    *profile.BaselineProfile
    ProfileData profile.Data
    Bands       *profile.ClassBands
    manager     *Manager
}

// FindPass looks a pass up by name, nil when absent from the schedule.
// Passes use it to skip themselves when a prerequisite pass is missing.
func (self *Context) FindPass(name string) Pass {
    if self.manager == nil {
        return nil
    }
    return self.manager.FindPass(name)
}

// Pass is one unit of the pipeline.
type Pass interface {
    Name() string
    Properties() Table
    RunPass(ctx *Context)
}

// Evaler is implemented by passes that pre-scan the scope before any
// pass runs, e.g. to collect reachability roots.
type Evaler interface {
    EvalPass(ctx *Context)
}
