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

// Package dexopt is a post-link optimizer for DEX bytecode. It takes an
// already-linked set of DEX files, runs a configurable pipeline of
// whole-program passes over them, and hands the transformed classes back
// for write-out.
package dexopt

import (
    `io`

    `github.com/dexopt/dexopt/internal/analysis/global`
    `github.com/dexopt/dexopt/internal/analysis/override`
    `github.com/dexopt/dexopt/internal/analysis/purity`
    `github.com/dexopt/dexopt/internal/config`
    `github.com/dexopt/dexopt/internal/dexstore`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/opts`
    `github.com/dexopt/dexopt/internal/passes`
    `github.com/dexopt/dexopt/internal/profile`
    `github.com/dexopt/dexopt/internal/shrinker`
    `github.com/dexopt/dexopt/internal/trace`
    `github.com/dexopt/dexopt/internal/wq`
)

// Job is one optimizer invocation: the DEX world to transform, the JSON
// configuration, and the optional profiling inputs. StartupList, when
// set, is read as a startup class list and pins the cold-start bands
// during inter-DEX reshuffling.
type Job struct {
    World        *dexstore.World
    Config       *config.JsonWrapper
    Profiles     profile.Data
    StartupList  io.Reader
    Interactions map[string]profile.InteractionConfig
    Passes       []passes.Pass
}

// Optimize runs the pass pipeline over the job's world and returns the
// collected metrics. The world's classes are mutated in place.
func Optimize(job *Job, options ...Option) (*passes.Metrics, error) {
    opt := opts.GetDefaultOptions()
    for _, fn := range options {
        fn(&opt)
    }
    wq.SetNumWorkers(opt.NumWorkers)

    cfg := job.Config
    if cfg == nil {
        cfg = config.WrapObject(nil)
    }

    /* the scope spans every class in every store */
    var classes []*ir.Class
    job.World.EachClass(func(_ *dexstore.DexFile, cls *ir.Class) {
        classes = append(classes, cls)
    })
    scope := ir.NewScope(classes)
    trace.T("dexopt", 1, "optimizing %d classes", len(classes))

    var bands *profile.ClassBands
    if job.StartupList != nil {
        cb, err := profile.ParseClassBands(job.StartupList, scope)
        if err != nil {
            return nil, err
        }
        bands = cb
    }

    og := override.Build(scope)
    wps := global.Compute(scope, int64(opt.MinSdk))
    shr := shrinker.New(shrinker.ConfigFrom(cfg), opt, scope, int64(opt.MinSdk), og, purityConfig(cfg), wps)

    sched := job.Passes
    if sched == nil {
        sched = DefaultPasses()
        if job.Profiles == nil {
            sched = dropPass(sched, "HotColdMethodSpecialization")
        }
    }
    mgr := passes.NewManager(sched...)
    mgr.Establish(passes.DexLimitsObeyed)
    if job.Profiles != nil {
        mgr.Establish(passes.HasSourceBlocks)
    }

    ctx := &passes.Context {
        Scope       : scope,
        World       : job.World,
        Config      : cfg,
        Options     : opt,
        Metrics     : passes.NewMetrics(),
        Overrides   : og,
        Shrinker    : shr,
        Globals     : wps,
        Baseline    : profile.Apply(job.Interactions, job.Profiles),
        ProfileData : job.Profiles,
        Bands       : bands,
    }
    if err := mgr.Run(ctx); err != nil {
        return ctx.Metrics, err
    }
    return ctx.Metrics, nil
}

func dropPass(ps []passes.Pass, name string) []passes.Pass {
    out := ps[:0]
    for _, p := range ps {
        if p.Name() != name {
            out = append(out, p)
        }
    }
    return out
}

// DefaultPasses is the standard schedule. Profile-gated passes run as
// no-ops when the job carries no profile data.
func DefaultPasses() []passes.Pass {
    return []passes.Pass {
        &passes.ResolveProguardValues{},
        &passes.ShrinkPass{},
        &passes.ClinitOutline{},
        &passes.PartialApplication{},
        &passes.RemoveUnusedArgs{},
        &passes.WrappedPrimitives{},
        &passes.ReduceBooleanBranches{},
        &passes.TailDuplication{},
        &passes.StringBuilderOutliner{},
        &passes.ClassMerging{},
        &passes.StaticRelo{},
        &passes.CSEPass{},
        &passes.HotColdSplit{},
        &passes.UnreachableLowering{},
        &passes.LocalDCEPass{},
        &passes.DexReshuffle{},
    }
}

func purityConfig(cfg *config.JsonWrapper) purity.Config {
    sub := cfg.Sub("purity")
    return purity.Config {
        PureMethods    : sub.StrSet("pure_methods"),
        FinalishFields : sub.StrSet("finalish_fields"),
    }
}
