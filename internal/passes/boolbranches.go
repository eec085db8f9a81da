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

// ReduceBooleanBranches rewrites negate-then-branch patterns: a branch
// testing `x ^ 1` against zero becomes the inverted branch on x. Each
// rewrite re-runs the shrinker on the method until the shape is stable.
type ReduceBooleanBranches struct{}

func (*ReduceBooleanBranches) Name() string {
    return "ReduceBooleanBranches"
}

func (*ReduceBooleanBranches) Properties() Table {
    return Table{}.
        With(NoUnreachableInstructions, Preserves).
        With(HasSourceBlocks, Preserves)
}

func (*ReduceBooleanBranches) RunPass(ctx *Context) {
    methods := ctx.Scope.MethodsWithCode()

    var reduced int64
    wq.ForEachLabeled(len(methods),
        func(i int) string { return methods[i].Ref.String() },
        func(i int) {
            m := methods[i]
            for reduceBoolBranches(m.Code) > 0 {
                atomic.AddInt64(&reduced, 1)
                if !ctx.Shrinker.Shrink(m) {
                    break
                }
            }
        })
    ctx.Metrics.Add("reduce_boolean_branches/rewrites", atomic.LoadInt64(&reduced))
}

func reduceBoolBranches(code *ir.Code) int64 {
    var n int64
    for _, bb := range code.Blocks {
        tm := bb.Term()
        if tm == nil || !tm.Op.IsBranchZero() {
            continue
        }
        if tm.Op != ir.OpIfEqz && tm.Op != ir.OpIfNez {
            continue
        }

        /* the xor-by-one feeding the test must sit just before it and
         * die there */
        neg := negationOf(bb, tm.Srcs[0])
        if neg == nil || usedElsewhere(code, tm, neg.Dst) {
            continue
        }

        if tm.Op == ir.OpIfEqz {
            tm.Op = ir.OpIfNez
        } else {
            tm.Op = ir.OpIfEqz
        }
        tm.Srcs[0] = neg.Srcs[0]
        n++
    }
    return n
}

func negationOf(bb *ir.Block, r ir.Reg) *ir.Insn {
    if len(bb.Insns) < 2 {
        return nil
    }
    p := bb.Insns[len(bb.Insns) - 2]
    if p.Op == ir.OpBinopLit && p.Binary == ir.BinXor && p.Lit == 1 && p.Dst == r {
        return p
    }
    return nil
}

/* the negation result may feed nothing but the branch */
func usedElsewhere(code *ir.Code, tm *ir.Insn, r ir.Reg) bool {
    for _, bb := range code.Blocks {
        for _, p := range bb.Insns {
            if p == tm {
                continue
            }
            for _, s := range p.Srcs {
                if s == r {
                    return true
                }
            }
        }
    }
    return false
}
