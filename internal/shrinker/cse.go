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
    `fmt`
    `sort`
    `strings`

    `github.com/dexopt/dexopt/internal/analysis/purity`
    `github.com/dexopt/dexopt/internal/dataflow`
    `github.com/dexopt/dexopt/internal/ir`
)

type _Avail struct {
    vid  int
    reg  ir.Reg
    insn *ir.Insn
}

/* value-numbering state threaded along single-predecessor chains.
 * Stores are tracked per location: a write to a resolved field bumps only
 * that field's epoch, an aput only its array kind, so unrelated writes
 * leave other reads available. The general epoch covers barriers
 * (monitors, effectful calls, unresolved writes), wtotal counts every
 * write and keys reads through unresolved references. */
type _VNState struct {
    next   int
    epoch  int
    wtotal int
    regs   map[ir.Reg]int
    exprs  map[string]_Avail
    fields map[*ir.Field]int
    arrays map[purity.ArrayKind]int
}

func newVNState() *_VNState {
    return &_VNState {
        next   : 1,
        regs   : make(map[ir.Reg]int),
        exprs  : make(map[string]_Avail),
        fields : make(map[*ir.Field]int),
        arrays : make(map[purity.ArrayKind]int),
    }
}

func (self *_VNState) clone() *_VNState {
    ns := newVNState()
    ns.next = self.next
    ns.epoch = self.epoch
    ns.wtotal = self.wtotal
    for r, v := range self.regs {
        ns.regs[r] = v
    }
    for k, a := range self.exprs {
        ns.exprs[k] = a
    }
    for f, e := range self.fields {
        ns.fields[f] = e
    }
    for k, e := range self.arrays {
        ns.arrays[k] = e
    }
    return ns
}

func (self *_VNState) barrier() {
    self.epoch++
    self.wtotal++
}

func (self *_VNState) vidOf(r ir.Reg) int {
    if v, ok := self.regs[r]; ok {
        return v
    }
    v := self.fresh()
    self.regs[r] = v
    return v
}

func (self *_VNState) fresh() int {
    v := self.next
    self.next++
    return v
}

// CSE removes instructions that recompute an available value. A value's
// identity is (opcode, source value-ids, immediate); memory reads carry
// the epochs of the locations they depend on, so only an intervening
// write to the same location (or a barrier) invalidates them. The
// replacement is a move from a register still holding the prior result.
func (self *Shrinker) CSE(m *ir.Method) bool {
    code := m.Code
    mut := ir.NewMutation(code)
    states := make(map[int]*_VNState)

    var hits int64
    code.ReversePostOrder(func(bb *ir.Block) {
        st := self.inheritState(bb, states)
        states[bb.Id] = st
        hits += self.numberBlock(bb, st, mut)
    })

    if mut.Empty() {
        return false
    }
    mut.Commit()
    self.bump(&self.stats.CSEHits, hits)
    return true
}

/* facts flow only along an unambiguous edge: a block with exactly one
 * predecessor, already numbered, inherits its exit state */
func (self *Shrinker) inheritState(bb *ir.Block, states map[int]*_VNState) *_VNState {
    if len(bb.Preds) != 1 {
        return newVNState()
    }
    ps, ok := states[bb.Preds[0].Src.Id]
    if !ok {
        return newVNState()
    }
    return ps.clone()
}

func (self *Shrinker) numberBlock(bb *ir.Block, st *_VNState, mut *ir.Mutation) int64 {
    var hits int64
    var pending *ir.Insn    // a candidate invoke, resolved at its move-result
    var pendkey string
    var pendhit bool

    for _, p := range bb.Insns {
        /* the move-result either reuses the prior result or becomes the
         * recorded holder of this call's value */
        if pending != nil {
            prev, key, hit := pending, pendkey, pendhit
            pending = nil
            if p.Op.IsMoveResult() {
                if hit {
                    a := st.exprs[key]
                    mut.Remove(prev)
                    mut.Replace(p, ir.NewInsn(moveFor(p.Op), p.Dst, a.reg))
                    st.regs[p.Dst] = a.vid
                    hits++
                } else {
                    vid := st.fresh()
                    st.regs[p.Dst] = vid
                    st.exprs[key] = _Avail { vid: vid, reg: p.Dst, insn: prev }
                }
                continue
            }
        }

        switch {
            case p.Op.IsMove(): {
                st.regs[p.Dst] = st.vidOf(p.Srcs[0])
            }

            case p.Op.IsInvoke(): {
                if self.cseableInvoke(p) {
                    pendkey = self.invokeKey(p, st)
                    a, ok := st.exprs[pendkey]
                    pendhit = ok && st.regs[a.reg] == a.vid
                    pending = p
                } else {
                    self.bumpEpoch(p, st)
                }
            }

            case self.numberable(p): {
                hits += self.tryExpr(p, st, mut)
            }

            default: {
                self.noteWrite(p, st)
                if p.HasDst() {
                    st.regs[p.Dst] = st.fresh()
                }
            }
        }
    }
    return hits
}

/* per-location invalidation for stores; an unresolved field write may
 * alias any field, so it degrades to the general barrier */
func (self *Shrinker) noteWrite(p *ir.Insn, st *_VNState) {
    switch p.Op {
        case ir.OpIput, ir.OpSput: {
            if f := self.scope.ResolveField(p.Field, p.Op == ir.OpSput); f != nil {
                st.fields[f]++
                st.wtotal++
            } else {
                st.barrier()
            }
        }

        case ir.OpAput: {
            st.arrays[arrayKindOf(p)]++
            st.wtotal++
        }

        case ir.OpMonitorEnter, ir.OpMonitorExit: {
            st.barrier()
        }

        default: {
            if p.Op.WritesMemory() {
                st.barrier()
            }
        }
    }
}

func arrayKindOf(p *ir.Insn) purity.ArrayKind {
    if p.TypeRef != nil && p.TypeRef.IsArray() {
        return purity.ArrayKindOf(p.TypeRef.Elem())
    }
    return purity.ArrObject
}

func (self *Shrinker) numberable(p *ir.Insn) bool {
    if !p.HasDst() {
        return false
    }
    switch p.Op {
        case ir.OpUnop, ir.OpBinop, ir.OpBinopLit, ir.OpCmp  : return true
        case ir.OpIget, ir.OpSget, ir.OpAget, ir.OpArrayLength : return true
        case ir.OpInstanceOf                                 : return true
        default                                              : return false
    }
}

func (self *Shrinker) tryExpr(p *ir.Insn, st *_VNState, mut *ir.Mutation) int64 {
    key := self.exprKey(p, st)
    if a, ok := st.exprs[key]; ok && st.regs[a.reg] == a.vid && a.reg != p.Dst {
        mut.Replace(p, ir.NewInsn(moveForClass(dataflow.DefClass(p)), p.Dst, a.reg))
        st.regs[p.Dst] = a.vid
        return 1
    }

    vid := st.fresh()
    st.regs[p.Dst] = vid
    st.exprs[key] = _Avail { vid: vid, reg: p.Dst, insn: p }
    return 0
}

/* only invokes the purity closure proved pure or conditionally pure are
 * candidates, virtual dispatch stays out */
func (self *Shrinker) cseableInvoke(p *ir.Insn) bool {
    if self.pure == nil {
        return false
    }
    if p.Op != ir.OpInvokeStatic && p.Op != ir.OpInvokeDirect {
        return false
    }
    sum := self.pure.SummaryOfRef(p.Method)
    return sum != nil && !sum.Unknown && (sum.Pure() || sum.ConditionallyPure())
}

func (self *Shrinker) invokeKey(p *ir.Insn, st *_VNState) string {
    var sb strings.Builder
    sb.WriteString("call ")
    sb.WriteString(p.Method.String())
    for _, r := range p.Srcs {
        fmt.Fprintf(&sb, " v%d", st.vidOf(r))
    }
    if sum := self.pure.SummaryOfRef(p.Method); sum != nil && sum.ConditionallyPure() {
        sb.WriteString(readsKey(sum.Reads, st))
    }
    return sb.String()
}

/* a conditionally pure call is keyed by the epochs of exactly the
 * locations it reads; map order is not stable, so the parts are sorted */
func readsKey(reads purity.LocationSet, st *_VNState) string {
    parts := make([]string, 0, len(reads))
    for loc := range reads {
        if loc.Field != nil {
            parts = append(parts, fmt.Sprintf("%s@%d", loc.Field, st.fields[loc.Field]))
        } else {
            parts = append(parts, fmt.Sprintf("%s@%d", loc.Array, st.arrays[loc.Array]))
        }
    }
    sort.Strings(parts)
    return fmt.Sprintf(" @%d %s", st.epoch, strings.Join(parts, " "))
}

func (self *Shrinker) exprKey(p *ir.Insn, st *_VNState) string {
    var sb strings.Builder
    sb.WriteString(p.Op.String())

    switch p.Op {
        case ir.OpUnop: {
            fmt.Fprintf(&sb, ".%d", p.Unary)
        }
        case ir.OpBinop, ir.OpBinopLit: {
            fmt.Fprintf(&sb, ".%d #%d", p.Binary, p.Lit)
        }
        case ir.OpIget, ir.OpSget: {
            sb.WriteString(" ")
            sb.WriteString(p.Field.String())
            if f := self.scope.ResolveField(p.Field, p.Op == ir.OpSget); f != nil {
                fmt.Fprintf(&sb, " @%d.%d", st.epoch, st.fields[f])
            } else {
                fmt.Fprintf(&sb, " @w%d", st.wtotal)
            }
        }
        case ir.OpAget: {
            fmt.Fprintf(&sb, " @%d.%d", st.epoch, st.arrays[arrayKindOf(p)])
        }
        case ir.OpInstanceOf: {
            sb.WriteString(" ")
            sb.WriteString(p.TypeRef.Descriptor)
        }
    }

    for _, r := range p.Srcs {
        fmt.Fprintf(&sb, " v%d", st.vidOf(r))
    }
    return sb.String()
}

func (self *Shrinker) bumpEpoch(p *ir.Insn, st *_VNState) {
    if self.pure != nil {
        if sum := self.pure.SummaryOfRef(p.Method); sum != nil && !sum.Unknown && sum.NoSideEffects() {
            if p.HasDst() {
                st.regs[p.Dst] = st.fresh()
            }
            return
        }
    }
    st.barrier()
}

func moveFor(op ir.Opcode) ir.Opcode {
    switch op {
        case ir.OpMoveResultWide   : return ir.OpMoveWide
        case ir.OpMoveResultObject : return ir.OpMoveObject
        default                    : return ir.OpMove
    }
}

func moveForClass(c dataflow.RegClass) ir.Opcode {
    switch c {
        case dataflow.ClassWide   : return ir.OpMoveWide
        case dataflow.ClassObject : return ir.OpMoveObject
        default                   : return ir.OpMove
    }
}
