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
    `fmt`
    `sync/atomic`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/trace`
)

// HotColdSplit carves the cold part out of hot methods: the original
// becomes a short stub that re-runs the effect-free prefix and, at the
// cold frontier, tail-calls a generated helper holding the full body
// with the hot exits lowered to traps.
type HotColdSplit struct {
    seq int64
}

func (*HotColdSplit) Name() string {
    return "HotColdMethodSpecialization"
}

func (*HotColdSplit) Properties() Table {
    return Table{}.
        With(HasSourceBlocks, Requires).
        With(NoUnreachableInstructions, Destroys)
}

func (self *HotColdSplit) RunPass(ctx *Context) {
    if ctx.Baseline == nil {
        return
    }
    factor := ctx.Options.HotColdFactor
    offset := int(ctx.Config.Sub("hot_cold_split").Int("threshold_offset", 16))

    var split int64
    var helpers []*ir.Method
    for _, cls := range ctx.Scope.Classes {
        for _, m := range cls.AllMethods() {
            if m.Code == nil || !ctx.Baseline.HotMethod(m.Ref.String()) {
                continue
            }
            if h := self.splitMethod(m, factor, offset); h != nil {
                helpers = append(helpers, h)
                split++
            }
        }
    }

    /* attach after the scan, the class lists must not move underneath it */
    for _, h := range helpers {
        h.Class.DMethods = append(h.Class.DMethods, h)
    }
    atomic.AddInt64(ctx.Metrics.Counter("hot_cold_split/methods_split"), split)
}

func (self *HotColdSplit) splitMethod(m *ir.Method, factor int, offset int) *ir.Method {
    code := m.Code
    prefix, readsHeap := purePrefix(code)
    if len(prefix) == 0 {
        return nil
    }

    /* frontier: edges leaving the prefix into cold blocks */
    var frontier []*ir.Edge
    for _, bb := range code.Blocks {
        if _, ok := prefix[bb.Id]; !ok {
            continue
        }
        for _, e := range bb.Succs {
            if _, in := prefix[e.Dst.Id]; !in && !e.Dst.Hot() && e.Kind != ir.EdgeThrow {
                frontier = append(frontier, e)
            }
        }
    }
    if len(frontier) == 0 {
        return nil
    }

    /* cold closure size gate */
    cold := coldClosure(code, frontier)
    orig := code.InsnCount()
    if sizeOf(cold) * factor + offset > orig {
        return nil
    }

    helper := self.emitHelper(m, cold, readsHeap)
    rewriteStub(m, helper, frontier)
    trace.T("passes", 3, "split %s -> %s", m.Ref, helper.Ref)
    return helper
}

/* blocks reachable from the entry through effect-free code only */
func purePrefix(code *ir.Code) (map[int]struct{}, bool) {
    prefix := make(map[int]struct{})
    reads := false

    wl := []*ir.Block { code.Entry }
    for len(wl) > 0 {
        bb := wl[0]
        wl = wl[1:]
        if _, ok := prefix[bb.Id]; ok {
            continue
        }

        pure := true
        for _, p := range bb.Insns {
            switch {
                case p.Op.IsInvoke(), p.Op == ir.OpMonitorEnter, p.Op == ir.OpMonitorExit, p.Op == ir.OpThrow: {
                    pure = false
                }
                case p.Op.WritesMemory(): {
                    pure = false
                }
                case p.Op.ReadsMemory(): {
                    reads = true
                }
            }
            if !pure {
                break
            }
        }
        if !pure {
            continue
        }

        prefix[bb.Id] = struct{}{}
        for _, e := range bb.Succs {
            if e.Kind != ir.EdgeThrow && e.Kind != ir.EdgeGhost {
                wl = append(wl, e.Dst)
            }
        }
    }
    return prefix, reads
}

func coldClosure(code *ir.Code, frontier []*ir.Edge) map[int]*ir.Block {
    cold := make(map[int]*ir.Block)
    var wl []*ir.Block
    for _, e := range frontier {
        wl = append(wl, e.Dst)
    }
    for len(wl) > 0 {
        bb := wl[0]
        wl = wl[1:]
        if _, ok := cold[bb.Id]; ok {
            continue
        }
        cold[bb.Id] = bb
        for _, e := range bb.Succs {
            wl = append(wl, e.Dst)
        }
    }
    return cold
}

func sizeOf(blocks map[int]*ir.Block) int {
    n := 0
    for _, bb := range blocks {
        n += len(bb.Insns)
    }
    return n
}

/* the helper holds the complete original body, static, with the receiver
 * as an explicit leading argument for instance methods */
func (self *HotColdSplit) emitHelper(m *ir.Method, cold map[int]*ir.Block, readsHeap bool) *ir.Method {
    n := atomic.AddInt64(&self.seq, 1)
    proto := m.Ref.Proto
    if !m.IsStatic() {
        args := append([]*ir.Type { m.Ref.Owner }, proto.Args...)
        proto = ir.MakeProto(proto.Ret, args...)
    }

    ref := ir.MakeMethodRef(m.Ref.Owner, fmt.Sprintf("%s$hcms$%d", m.Ref.Name, n), proto)
    helper := &ir.Method {
        Ref    : ref,
        Class  : m.Class,
        Access : ir.AccStatic | ir.AccSynthetic,
    }
    helper.Code = m.Code.Clone(helper)

    /* hot exits trap, unless the prefix read mutable heap memory, then a
     * re-evaluation in the stub may have diverged and the helper must
     * keep every path */
    if !readsHeap {
        for _, bb := range helper.Code.Blocks {
            tm := bb.Term()
            if tm == nil || !tm.Op.IsReturn() {
                continue
            }
            if _, isCold := cold[bb.Id]; !isCold {
                tm.Op = ir.OpUnreachable
                tm.Srcs = nil
            }
        }
    }
    return helper
}

/* frontier edges leave the stub through a call block that tail-calls the
 * helper with the original parameters */
func rewriteStub(m *ir.Method, helper *ir.Method, frontier []*ir.Edge) {
    code := m.Code
    params := paramRegs(code)

    for _, e := range frontier {
        call := code.NewBlock()
        call.Append(ir.NewInvoke(ir.OpInvokeStatic, helper.Ref, params...))
        appendReturn(code, call, m.Ref.Proto.Ret)
        code.RedirectEdge(e, call)
    }
    code.RemoveUnreachable()
}

func paramRegs(code *ir.Code) []ir.Reg {
    var regs []ir.Reg
    for _, p := range code.Entry.Insns {
        if !p.Op.IsLoadParam() {
            break
        }
        regs = append(regs, p.Dst)
    }
    return regs
}

func appendReturn(code *ir.Code, bb *ir.Block, ret *ir.Type) {
    if ret == ir.TypeVoid {
        bb.Append(ir.NewInsn(ir.OpReturnVoid, ir.NoReg))
        return
    }

    r := code.AllocReg(ret.IsWide())
    switch {
        case ret.IsWide(): {
            bb.Append(ir.NewInsn(ir.OpMoveResultWide, r))
            bb.Append(ir.NewInsn(ir.OpReturnWide, ir.NoReg, r))
        }
        case ret.IsPrimitive(): {
            bb.Append(ir.NewInsn(ir.OpMoveResult, r))
            bb.Append(ir.NewInsn(ir.OpReturn, ir.NoReg, r))
        }
        default: {
            bb.Append(ir.NewInsn(ir.OpMoveResultObject, r))
            bb.Append(ir.NewInsn(ir.OpReturnObject, ir.NoReg, r))
        }
    }
}
