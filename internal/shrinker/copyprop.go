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
    `github.com/dexopt/dexopt/internal/dataflow`
    `github.com/dexopt/dexopt/internal/ir`
)

// CopyProp forwards move sources to the uses of the move destination, so
// the moves themselves fall to local DCE. Copies are only forwarded when
// both registers carry the same inferred class, mixed int/float/object
// demands at shared uses stay untouched.
func (self *Shrinker) CopyProp(m *ir.Method) bool {
    code := m.Code
    ti := dataflow.InferTypes(code)

    var fwd int64
    code.ReversePostOrder(func(bb *ir.Block) {
        fwd += propagateBlock(bb, ti)
    })
    if fwd == 0 {
        return false
    }
    self.bump(&self.stats.CopiesRemoved, fwd)
    return true
}

func propagateBlock(bb *ir.Block, ti *dataflow.TypeInfo) int64 {
    var fwd int64
    copies := make(map[ir.Reg]ir.Reg)

    kill := func(r ir.Reg) {
        delete(copies, r)
        for d, s := range copies {
            if s == r {
                delete(copies, d)
            }
        }
    }

    for _, p := range bb.Insns {
        /* forward operands through the current representatives */
        for i, r := range p.Srcs {
            if rep, ok := copies[r]; ok {
                p.Srcs[i] = rep
                fwd++
            }
        }

        /* invalidate everything the definition clobbers */
        if p.HasDst() {
            kill(p.Dst)
            if p.DstWide() {
                kill(p.Dst + 1)
            }
        }

        /* record the copy when the classes agree */
        if p.Op.IsMove() && p.Dst != p.Srcs[0] {
            dc := ti.ClassOf(p.Dst)
            sc := ti.ClassOf(p.Srcs[0])
            if dc == sc && dc != dataflow.ClassConflict && dc != dataflow.ClassNone {
                copies[p.Dst] = p.Srcs[0]
            }
        }
    }
    return fwd
}
