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
    `github.com/dexopt/dexopt/internal/ir`
)

// HoistBranchPrefix moves instruction prefixes shared by both successors
// of a conditional up into the predecessor, ahead of the branch.
func (self *Shrinker) HoistBranchPrefix(m *ir.Method) bool {
    code := m.Code

    var hoisted int64
    for _, bb := range code.Blocks {
        hoisted += hoistAt(bb)
    }
    if hoisted == 0 {
        return false
    }
    self.bump(&self.stats.InsnsHoisted, hoisted)
    return true
}

func hoistAt(bb *ir.Block) int64 {
    tm := bb.Term()
    if tm == nil || !tm.Op.IsConditionalBranch() {
        return 0
    }

    /* both arms must be exclusively owned by this branch */
    var arms []*ir.Block
    for _, e := range bb.Succs {
        if e.Kind == ir.EdgeThrow || e.Kind == ir.EdgeGhost {
            continue
        }
        arms = append(arms, e.Dst)
    }
    if len(arms) != 2 || arms[0] == arms[1] || arms[0] == bb || arms[1] == bb {
        return 0
    }
    for _, s := range arms {
        if len(s.Preds) != 1 || s.StartsWithMoveException() {
            return 0
        }
    }

    /* the shared hoistable prefix */
    n := 0
    for n < len(arms[0].Insns) && n < len(arms[1].Insns) {
        a, b := arms[0].Insns[n], arms[1].Insns[n]
        if !insnEq(a, b) || !hoistable(a, tm) {
            break
        }
        n++
    }
    if n == 0 {
        return 0
    }

    /* splice the prefix in ahead of the branch */
    pre := arms[0].Insns[:n]
    arms[0].Insns = arms[0].Insns[n:]
    arms[1].Insns = arms[1].Insns[n:]
    ins := make([]*ir.Insn, 0, len(bb.Insns) + n)
    ins = append(ins, bb.Insns[:len(bb.Insns) - 1]...)
    ins = append(ins, pre...)
    ins = append(ins, tm)
    bb.Insns = ins
    return int64(n)
}

/* only effect-free instructions may move above the branch, and never one
 * that clobbers the branch operands */
func hoistable(p *ir.Insn, tm *ir.Insn) bool {
    if !p.SideEffectFree() || p.Op.IsTerminator() || p.Op.IsMoveResult() || p.Op == ir.OpMoveException {
        return false
    }
    if p.HasDst() {
        for _, s := range tm.Srcs {
            if s == p.Dst || (p.DstWide() && s == p.Dst + 1) {
                return false
            }
        }
    }
    return true
}

func insnEq(a *ir.Insn, b *ir.Insn) bool {
    if a.Op != b.Op || a.Dst != b.Dst || a.Lit != b.Lit || a.Str != b.Str {
        return false
    }
    if a.TypeRef != b.TypeRef || a.Field != b.Field || a.Method != b.Method {
        return false
    }
    if a.Unary != b.Unary || a.Binary != b.Binary || len(a.Srcs) != len(b.Srcs) {
        return false
    }
    for i, s := range a.Srcs {
        if s != b.Srcs[i] {
            return false
        }
    }
    return true
}
