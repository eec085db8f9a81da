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

// LocalDCE removes instructions that neither carry side effects nor
// define a live register, driven by backward liveness with the extra
// result-slot bit. It also normalizes new-instance placement and lowers
// invocations of a known-null receiver with no implementor.
func (self *Shrinker) LocalDCE(m *ir.Method) bool {
    code := m.Code
    changed := self.rewriteNullCalls(code)
    changed = self.normalizeNewInstance(code) || changed

    lv := dataflow.ComputeLiveness(code)
    mut := ir.NewMutation(code)

    var removed int64
    for _, bb := range code.Blocks {
        live := lv.LiveOut(bb)
        for i := len(bb.Insns) - 1; i >= 0; i-- {
            p := bb.Insns[i]
            if !self.required(p, live, lv.ResBit) {
                mut.Remove(p)
                removed++
            }
            lv.TransferInsn(p, live)
        }
    }

    if !mut.Empty() {
        mut.Commit()
        changed = true
    }
    if dead := code.RemoveUnreachable(); dead > 0 {
        self.bump(&self.stats.BlocksRemoved, int64(dead))
        changed = true
    }
    self.bump(&self.stats.InsnsRemoved, removed)
    return changed
}

func (self *Shrinker) required(p *ir.Insn, live dataflow.BitVec, resbit int) bool {
    if p.Op.IsTerminator() || p.Op.IsConditionalBranch() {
        return true
    }

    /* live definitions stay */
    if p.HasDst() {
        if live.Get(int(p.Dst)) {
            return true
        }
        if p.DstWide() && live.Get(int(p.Dst) + 1) {
            return true
        }
    }

    /* move-exception anchors its handler block */
    if p.Op == ir.OpMoveException || p.Op == ir.OpLoadParam || p.Op == ir.OpLoadParamWide || p.Op == ir.OpLoadParamObject {
        return true
    }

    /* dead side-effect-free definitions go, reads are not side effects */
    if p.SideEffectFree() {
        return false
    }
    switch p.Op {
        case ir.OpIget, ir.OpAget, ir.OpArrayLength, ir.OpInstanceOf, ir.OpCheckCast: {
            return p.Op == ir.OpCheckCast
        }
        case ir.OpSget: {
            return self.initMatters(p.Field.Owner)
        }
        case ir.OpNewInstance: {
            return self.initMatters(p.TypeRef)
        }
    }

    /* a call is removable when its callee provably writes nothing
     * escaping and the result slot is dead */
    if p.Op.IsInvoke() && self.pure != nil && !live.Get(resbit) {
        if sum := self.pure.SummaryOfRef(p.Method); sum != nil && !sum.Unknown && sum.NoSideEffects() {
            return false
        }
    }
    return true
}

func (self *Shrinker) initMatters(tp *ir.Type) bool {
    if self.pcfg.InitHasSideEffects == nil {
        return true
    }
    return self.pcfg.InitHasSideEffects(tp)
}

/* re-emit a new-instance immediately before its constructor call when
 * nothing in between touches the register, later passes then see the
 * pair as one unit */
func (self *Shrinker) normalizeNewInstance(code *ir.Code) bool {
    mut := ir.NewMutation(code)

    for _, bb := range code.Blocks {
        for i, p := range bb.Insns {
            if p.Op != ir.OpNewInstance {
                continue
            }
            if ctor := ctorCall(bb, i + 1, p.Dst); ctor != nil && ctor != next(bb, i) {
                mut.Remove(p)
                mut.InsertBefore(ctor, p.Clone())
            }
        }
    }

    if mut.Empty() {
        return false
    }
    mut.Commit()
    return true
}

func next(bb *ir.Block, i int) *ir.Insn {
    if i + 1 < len(bb.Insns) {
        return bb.Insns[i + 1]
    }
    return nil
}

/* the constructor call of r, nil when r escapes or is touched first */
func ctorCall(bb *ir.Block, from int, r ir.Reg) *ir.Insn {
    for _, p := range bb.Insns[from:] {
        if p.Op == ir.OpInvokeDirect && p.Method.IsInit() && len(p.Srcs) > 0 && p.Srcs[0] == r {
            return p
        }
        for _, s := range p.Srcs {
            if s == r {
                return nil
            }
        }
        if p.HasDst() && p.Dst == r {
            return nil
        }
    }
    return nil
}

/* invoking a virtual method on a null receiver always throws, and with
 * no implementor in scope the call can never dispatch anyway */
func (self *Shrinker) rewriteNullCalls(code *ir.Code) bool {
    rd := dataflow.ComputeReachingDefs(code)
    changed := false

    for _, bb := range code.Blocks {
        for i, p := range bb.Insns {
            if p.Op != ir.OpInvokeVirtual && p.Op != ir.OpInvokeInterface {
                continue
            }
            if self.scope.ResolveMethod(p.Method) != nil {
                continue
            }
            def := rd.SoleDef(bb, i, p.Srcs[0])
            if def == nil || def.Op != ir.OpConst || def.Lit != 0 {
                continue
            }

            /* truncate the block into const 0; throw */
            r := code.AllocReg(false)
            bb.Insns = append(bb.Insns[:i:i],
                ir.NewConst(r, 0),
                ir.NewInsn(ir.OpThrow, ir.NoReg, r))
            for _, e := range append([]*ir.Edge(nil), bb.Succs...) {
                if e.Kind != ir.EdgeThrow {
                    code.RemoveEdge(e)
                }
            }
            changed = true
            break
        }
    }
    return changed
}
