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

package shrinker

import (
    `sync/atomic`

    `github.com/dexopt/dexopt/internal/analysis/absint`
    `github.com/dexopt/dexopt/internal/analysis/global`
    `github.com/dexopt/dexopt/internal/analysis/override`
    `github.com/dexopt/dexopt/internal/analysis/purity`
    `github.com/dexopt/dexopt/internal/config`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/opts`
    `github.com/dexopt/dexopt/internal/trace`
)

// Config selects which composite steps run.
type Config struct {
    RunConstProp      bool
    RunCSE            bool
    RunCopyProp       bool
    RunLocalDCE       bool
    RunRegAlloc       bool
    RunDedupBlocks    bool
    RunBranchHoisting bool
    ComputePureMethods bool
}

// ConfigFrom reads the step selection from the "shrinker" config section.
func ConfigFrom(cfg *config.JsonWrapper) Config {
    sub := cfg.Sub("shrinker")
    return Config {
        RunConstProp       : sub.Bool("run_const_prop", true),
        RunCSE             : sub.Bool("run_cse", true),
        RunCopyProp        : sub.Bool("run_copy_prop", true),
        RunLocalDCE        : sub.Bool("run_local_dce", true),
        RunRegAlloc        : sub.Bool("run_reg_alloc", true),
        RunDedupBlocks     : sub.Bool("run_dedup_blocks", true),
        RunBranchHoisting  : sub.Bool("run_branch_prefix_hoisting", true),
        ComputePureMethods : sub.Bool("compute_pure_methods", true),
    }
}

// Stats counts the transformations applied across all Shrink calls.
type Stats struct {
    ConstsFolded    int64
    BranchesRemoved int64
    CSEHits         int64
    CopiesRemoved   int64
    InsnsRemoved    int64
    BlocksRemoved   int64
    BlocksMerged    int64
    InsnsHoisted    int64
    RegsSaved       int64
    MethodsShrunk   int64
}

// Shrinker is the composite intra-method optimizer. Constructed once per
// pass-manager run, safe for concurrent Shrink calls on distinct methods.
type Shrinker struct {
    cfg    Config
    opt    opts.Options
    pcfg   purity.Config
    scope  *ir.Scope
    minSdk int64
    wps    *global.State
    pure   *purity.Closure
    stats  Stats
}

// New builds a Shrinker. og and wps may be nil: og disables the purity
// closure (CSE then treats every invoke as a barrier), wps disables
// whole-program field constants. opt bounds the fixpoint via
// MaxShrinkRounds.
func New(cfg Config, opt opts.Options, scope *ir.Scope, minSdk int64, og *override.Graph, pcfg purity.Config, wps *global.State) *Shrinker {
    self := &Shrinker {
        cfg    : cfg,
        pcfg   : pcfg,
        opt    : opt,
        scope  : scope,
        wps    : wps,
        minSdk : minSdk,
    }
    if og != nil && cfg.ComputePureMethods {
        self.pure = purity.Compute(scope, og, pcfg)
    }
    return self
}

// Stats returns a snapshot of the accumulated counters.
func (self *Shrinker) Stats() Stats {
    return Stats {
        ConstsFolded    : atomic.LoadInt64(&self.stats.ConstsFolded),
        BranchesRemoved : atomic.LoadInt64(&self.stats.BranchesRemoved),
        CSEHits         : atomic.LoadInt64(&self.stats.CSEHits),
        CopiesRemoved   : atomic.LoadInt64(&self.stats.CopiesRemoved),
        InsnsRemoved    : atomic.LoadInt64(&self.stats.InsnsRemoved),
        BlocksRemoved   : atomic.LoadInt64(&self.stats.BlocksRemoved),
        BlocksMerged    : atomic.LoadInt64(&self.stats.BlocksMerged),
        InsnsHoisted    : atomic.LoadInt64(&self.stats.InsnsHoisted),
        RegsSaved       : atomic.LoadInt64(&self.stats.RegsSaved),
        MethodsShrunk   : atomic.LoadInt64(&self.stats.MethodsShrunk),
    }
}

func (self *Shrinker) bump(p *int64, n int64) {
    if n != 0 {
        atomic.AddInt64(p, n)
    }
}

// Purity exposes the closure for passes that share it (DCE, CSE).
func (self *Shrinker) Purity() *purity.Closure {
    return self.pure
}

func (self *Shrinker) interp() *absint.Interp {
    it := &absint.Interp { Scope: self.scope, MinSdk: self.minSdk }
    if self.wps != nil {
        it.Fields = self.wps
    }
    return it
}

// Shrink drives steps 1-4 and 6-7 to a bounded fixpoint, then runs
// register allocation at most once. Returns whether anything changed.
func (self *Shrinker) Shrink(m *ir.Method) bool {
    if m.Code == nil {
        return false
    }

    any := false
    for round := 0; self.opt.CanShrinkMore(round); round++ {
        changed := false
        if self.cfg.RunConstProp {
            changed = self.ConstProp(m) || changed
        }
        if self.cfg.RunCSE {
            changed = self.CSE(m) || changed
        }
        if self.cfg.RunCopyProp {
            changed = self.CopyProp(m) || changed
        }
        if self.cfg.RunLocalDCE {
            changed = self.LocalDCE(m) || changed
        }
        if self.cfg.RunDedupBlocks {
            changed = self.DedupBlocks(m) || changed
        }
        if self.cfg.RunBranchHoisting {
            changed = self.HoistBranchPrefix(m) || changed
        }
        if !changed {
            break
        }
        any = true
        trace.T("shrinker", 3, "%s: round %d changed", m.Ref, round)
    }

    if self.cfg.RunRegAlloc {
        any = self.RegAlloc(m) || any
    }
    if any {
        atomic.AddInt64(&self.stats.MethodsShrunk, 1)
        m.Code.Validate()
    }
    return any
}
