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
    `strings`

    `github.com/bytedance/gopkg/util/xxhash3`

    `github.com/dexopt/dexopt/internal/dataflow`
    `github.com/dexopt/dexopt/internal/ir`
)

// DedupBlocks merges blocks with identical block values. A block value is
// the ordered side-effecting operation sequence plus the binding of every
// live-out register to a local value id, so pure register renamings of
// intermediates do not prevent merging. Successor structure is part of
// the value, merged blocks must branch the same way.
func (self *Shrinker) DedupBlocks(m *ir.Method) bool {
    code := m.Code
    if len(code.Blocks) < 3 {
        return false
    }

    lv := dataflow.ComputeLiveness(code)
    dom := code.BuildDomTree()
    groups := make(map[uint64][]*ir.Block)
    values := make(map[int]string)

    for _, bb := range code.Blocks {
        if !dedupable(bb) {
            continue
        }
        v := blockValue(bb, lv)
        values[bb.Id] = v
        h := xxhash3.HashString(v)
        groups[h] = append(groups[h], bb)
    }

    var merged int64
    for _, g := range groups {
        if len(g) < 2 {
            continue
        }
        rep := g[0]
        for _, bb := range g[1:] {
            if values[bb.Id] != values[rep.Id] {
                continue
            }
            /* merging along a dominance chain folds a path onto its own
             * prefix and can manufacture a loop */
            if dom.Dominates(rep, bb) || dom.Dominates(bb, rep) {
                continue
            }
            for _, e := range append([]*ir.Edge(nil), bb.Preds...) {
                code.RedirectEdge(e, rep)
            }
            merged++
        }
    }

    if merged == 0 {
        return false
    }
    code.RemoveUnreachable()
    self.bump(&self.stats.BlocksMerged, merged)
    return true
}

/* exception-handler heads keep their identity, and blocks ending in an
 * allocation or constructor call feed later pairing passes */
func dedupable(bb *ir.Block) bool {
    if len(bb.Preds) == 0 || bb.StartsWithMoveException() {
        return false
    }
    n := len(bb.Insns)
    if n == 0 {
        return true
    }
    switch last := bb.Insns[n - 1]; {
        case last.Op == ir.OpMoveException                       : return false
        case last.Op == ir.OpNewInstance                         : return false
        case last.Op == ir.OpInvokeDirect && last.Method.IsInit(): return false
        default                                                  : return true
    }
}

func blockValue(bb *ir.Block, lv *dataflow.Liveness) string {
    var sb strings.Builder
    toks := make(map[ir.Reg]string)
    ndef := 0

    tok := func(r ir.Reg) string {
        if t, ok := toks[r]; ok {
            return t
        }
        t := fmt.Sprintf("in%d", r)
        toks[r] = t
        return t
    }

    for _, p := range bb.Insns {
        sb.WriteString(p.Op.String())
        writeExtras(&sb, p)
        for _, s := range p.Srcs {
            sb.WriteString(" ")
            sb.WriteString(tok(s))
        }
        sb.WriteString(";")
        if p.HasDst() {
            t := fmt.Sprintf("d%d", ndef)
            ndef++
            toks[p.Dst] = t
        }
    }

    /* live-out bindings, in register order */
    out := lv.LiveOut(bb)
    for r := 0; r < lv.Code.NumRegs; r++ {
        if out.Get(r) {
            fmt.Fprintf(&sb, " v%d=%s", r, tok(ir.Reg(r)))
        }
    }

    /* successor shape */
    for _, e := range bb.Succs {
        fmt.Fprintf(&sb, " ->%d/%d/%d", e.Dst.Id, e.Kind, e.CaseKey)
    }
    return sb.String()
}

func writeExtras(sb *strings.Builder, p *ir.Insn) {
    switch {
        case p.Field != nil   : fmt.Fprintf(sb, " %s", p.Field)
        case p.Method != nil  : fmt.Fprintf(sb, " %s", p.Method)
        case p.TypeRef != nil : fmt.Fprintf(sb, " %s", p.TypeRef)
        case p.Str != ""      : fmt.Fprintf(sb, " %q", p.Str)
    }
    switch p.Op {
        case ir.OpConst, ir.OpConstWide, ir.OpBinopLit : fmt.Fprintf(sb, " #%d", p.Lit)
        case ir.OpUnop                                 : fmt.Fprintf(sb, " u%d", p.Unary)
        case ir.OpBinop                                : fmt.Fprintf(sb, " b%d", p.Binary)
        case ir.OpSwitch                               : fmt.Fprintf(sb, " k%v", p.Keys)
    }
}
