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
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/wq`
)

const _DupMaxInsns = 4

// TailDuplication clones small return-terminated join blocks into each of
// their predecessors. The copies give the local optimizations a
// predecessor-specific view of the tail, which the shrinker then folds
// with the constants flowing in from that side.
type TailDuplication struct{}

func (*TailDuplication) Name() string {
    return "TailDuplication"
}

func (*TailDuplication) Properties() Table {
    return Table{}.
        With(NoUnreachableInstructions, Preserves).
        With(HasSourceBlocks, Preserves)
}

func (self *TailDuplication) RunPass(ctx *Context) {
    max := int(ctx.Config.Sub("tail_duplication").Int("max_insns", _DupMaxInsns))

    methods := ctx.Scope.MethodsWithCode()
    wq.ForEachLabeled(len(methods),
        func(i int) string { return methods[i].Ref.String() },
        func(i int) {
            if d := dupTails(methods[i].Code, max); d > 0 {
                ctx.Metrics.Add("tail_duplication/blocks_duplicated", d)
                if ctx.Shrinker != nil {
                    ctx.Shrinker.Shrink(methods[i])
                }
            }
        })
}

func dupTails(code *ir.Code, max int) int64 {
    var n int64

    /* snapshot: duplication appends blocks while we walk */
    blocks := make([]*ir.Block, len(code.Blocks))
    copy(blocks, code.Blocks)

    for _, bb := range blocks {
        if !dupable(bb, max) {
            continue
        }

        /* the first predecessor keeps the original */
        preds := make([]*ir.Edge, len(bb.Preds))
        copy(preds, bb.Preds)
        for _, e := range preds[1:] {
            if e.Kind == ir.EdgeThrow || e.Kind == ir.EdgeGhost {
                continue
            }
            dup := code.NewBlock()
            for _, p := range bb.Insns {
                dup.Append(p.Clone())
            }
            code.RedirectEdge(e, dup)
            n++
        }
    }
    return n
}

/* only blocks that leave the method: clones then need no successor
 * rewiring and cannot grow a loop */
func dupable(bb *ir.Block, max int) bool {
    if len(bb.Preds) < 2 || len(bb.Insns) > max {
        return false
    }
    if bb.StartsWithMoveException() {
        return false
    }
    if len(bb.Succs) != 0 {
        return false
    }
    tm := bb.Term()
    return tm != nil && (tm.Op.IsReturn() || tm.Op == ir.OpThrow)
}
