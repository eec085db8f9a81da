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

// UnreachableLowering replaces unreachable pseudo-instructions with a
// concrete trap: const 0 into a fresh register, then throw it.
type UnreachableLowering struct{}

func (*UnreachableLowering) Name() string {
    return "UnreachableLowering"
}

func (*UnreachableLowering) Properties() Table {
    return Table{}.
        With(NoUnreachableInstructions, Establishes).
        With(HasSourceBlocks, Preserves)
}

func (*UnreachableLowering) RunPass(ctx *Context) {
    methods := ctx.Scope.MethodsWithCode()

    var lowered int64
    wq.ForEach(len(methods), func(i int) {
        atomic.AddInt64(&lowered, lowerMethod(methods[i].Code))
    })
    ctx.Metrics.Add("unreachable_lowering/lowered", atomic.LoadInt64(&lowered))
}

func lowerMethod(code *ir.Code) int64 {
    var n int64
    mut := ir.NewMutation(code)

    for _, bb := range code.Blocks {
        for _, p := range bb.Insns {
            if p.Op == ir.OpUnreachable {
                r := code.AllocReg(false)
                mut.Replace(p,
                    ir.NewConst(r, 0),
                    ir.NewInsn(ir.OpThrow, ir.NoReg, r))
                n++
            }
        }
    }

    if n > 0 {
        mut.Commit()
    }
    return n
}
