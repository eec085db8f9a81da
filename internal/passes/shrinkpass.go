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
    `sync/atomic`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/wq`
)

// ShrinkPass runs the full composite shrinker over every method body.
type ShrinkPass struct{}

func (*ShrinkPass) Name() string {
    return "Shrink"
}

func (*ShrinkPass) Properties() Table {
    return Table{}.
        With(NoUnreachableInstructions, Preserves).
        With(HasSourceBlocks, Preserves)
}

func (*ShrinkPass) RunPass(ctx *Context) {
    methods := ctx.Scope.MethodsWithCode()

    var shrunk int64
    wq.ForEachLabeled(len(methods),
        func(i int) string { return methods[i].Ref.String() },
        func(i int) {
            if ctx.Shrinker.Shrink(methods[i]) {
                atomic.AddInt64(&shrunk, 1)
            }
        })

    sc := ctx.Metrics.Scoped("shrinker")
    sc.Add("methods_changed", atomic.LoadInt64(&shrunk))
    reportStats(ctx, sc)
}

func reportStats(ctx *Context, sc Scoped) {
    st := ctx.Shrinker.Stats()
    sc.Scoped("const_prop").Add("consts_folded", st.ConstsFolded)
    sc.Scoped("const_prop").Add("branches_removed", st.BranchesRemoved)
    sc.Scoped("cse").Add("hits", st.CSEHits)
    sc.Scoped("copy_prop").Add("copies_removed", st.CopiesRemoved)
    sc.Scoped("local_dce").Add("insns_removed", st.InsnsRemoved)
    sc.Scoped("local_dce").Add("blocks_removed", st.BlocksRemoved)
    sc.Scoped("dedup_blocks").Add("blocks_merged", st.BlocksMerged)
    sc.Scoped("branch_hoist").Add("insns_hoisted", st.InsnsHoisted)
    sc.Scoped("reg_alloc").Add("regs_saved", st.RegsSaved)
}

// CSEPass runs only the common-subexpression step.
type CSEPass struct{}

func (*CSEPass) Name() string {
    return "CommonSubexpressionElimination"
}

func (*CSEPass) Properties() Table {
    return Table{}.
        With(NoUnreachableInstructions, Preserves).
        With(HasSourceBlocks, Preserves)
}

func (*CSEPass) RunPass(ctx *Context) {
    runStep(ctx, "cse", func(m *ir.Method) bool { return ctx.Shrinker.CSE(m) })
}

// LocalDCEPass runs only the dead-code step.
type LocalDCEPass struct{}

func (*LocalDCEPass) Name() string {
    return "LocalDce"
}

func (*LocalDCEPass) Properties() Table {
    return Table{}.
        With(NoUnreachableInstructions, Preserves).
        With(HasSourceBlocks, Preserves)
}

func (*LocalDCEPass) RunPass(ctx *Context) {
    runStep(ctx, "local_dce", func(m *ir.Method) bool { return ctx.Shrinker.LocalDCE(m) })
}

func runStep(ctx *Context, name string, step func(*ir.Method) bool) {
    methods := ctx.Scope.MethodsWithCode()

    var changed int64
    wq.ForEachLabeled(len(methods),
        func(i int) string { return methods[i].Ref.String() },
        func(i int) {
            if step(methods[i]) {
                atomic.AddInt64(&changed, 1)
            }
        })
    ctx.Metrics.Add(name + "/methods_changed", atomic.LoadInt64(&changed))
}
