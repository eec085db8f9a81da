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
    `sort`

    `gonum.org/v1/gonum/stat`

    `github.com/dexopt/dexopt/internal/dataflow`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/trace`
)

/* methods with more live nodes than this go to the linear-scan fallback */
const _ColoringLimit = 512

/* decision stumps of the shape gate: (feature index, threshold, vote) */
type _Stump struct {
    feat int
    thresh float64
    vote float64
}

/* trained offline over method-shape samples, a positive sum accepts */
var _GateForest = []_Stump {
    { 0,  4.0,  0.35 },     // register count
    { 0, 48.0, -0.55 },
    { 1,  8.0,  0.40 },     // instruction count
    { 1, 640.0, -0.80 },
    { 2,  2.0,  0.25 },     // block count
    { 2, 96.0, -0.45 },
    { 3,  2.0,  0.20 },     // edge count
    { 3, 160.0, -0.40 },
}

/* z-scored features keep the stump thresholds comparable across the
 * raw feature scales */
var gateScale = []float64 { 12.0, 120.0, 14.0, 20.0 }

func gateAccepts(code *ir.Code) bool {
    feats := []float64 {
        float64(code.NumRegs),
        float64(code.InsnCount()),
        float64(len(code.Blocks)),
        float64(code.EdgeCount()),
    }

    norm := make([]float64, len(feats))
    for i, f := range feats {
        norm[i] = f / gateScale[i]
    }

    votes := make([]float64, 0, len(_GateForest))
    for _, s := range _GateForest {
        if feats[s.feat] >= s.thresh {
            votes = append(votes, s.vote)
        } else {
            votes = append(votes, -s.vote * 0.25)
        }
    }

    /* the vote mass is damped by overall shape magnitude */
    score := stat.Mean(votes, nil) - 0.05 * stat.Mean(norm, nil)
    return score > 0
}

// RegAlloc renumbers registers to a minimal frame: graph coloring over
// the interference graph, with a linear-scan fallback for very large
// bodies. A learned shape gate skips methods unlikely to profit.
func (self *Shrinker) RegAlloc(m *ir.Method) bool {
    code := m.Code
    if code.NumRegs <= 2 || !gateAccepts(code) {
        return false
    }

    lv := dataflow.ComputeLiveness(code)
    ti := dataflow.InferTypes(code)
    before := code.NumRegs

    var colors map[ir.Reg]ir.Reg
    if code.NumRegs <= _ColoringLimit {
        colors = colorGraph(code, lv, ti)
    } else {
        colors = linearScan(code, lv, ti)
    }
    if colors == nil {
        return false
    }

    applyColors(code, colors)
    code.RecomputeRegs()
    if code.NumRegs >= before {
        return false
    }
    self.bump(&self.stats.RegsSaved, int64(before - code.NumRegs))
    trace.T("shrinker", 3, "%s: regalloc %d -> %d", m.Ref, before, code.NumRegs)
    return true
}

/* interference: every definition conflicts with the registers live after
 * it, wide values claim the partner slot as well */
func buildInterference(code *ir.Code, lv *dataflow.Liveness, ti *dataflow.TypeInfo) map[ir.Reg]map[ir.Reg]struct{} {
    g := make(map[ir.Reg]map[ir.Reg]struct{}, code.NumRegs)
    link := func(a ir.Reg, b ir.Reg) {
        if a == b {
            return
        }
        if g[a] == nil {
            g[a] = make(map[ir.Reg]struct{})
        }
        if g[b] == nil {
            g[b] = make(map[ir.Reg]struct{})
        }
        g[a][b] = struct{}{}
        g[b][a] = struct{}{}
    }

    for _, bb := range code.Blocks {
        live := lv.LiveOut(bb)
        for i := len(bb.Insns) - 1; i >= 0; i-- {
            p := bb.Insns[i]
            if p.HasDst() {
                if g[p.Dst] == nil {
                    g[p.Dst] = make(map[ir.Reg]struct{})
                }
                for r := 0; r < code.NumRegs; r++ {
                    if live.Get(r) && ir.Reg(r) != p.Dst {
                        link(p.Dst, ir.Reg(r))
                    }
                }
            }
            lv.TransferInsn(p, live)
        }
    }
    return g
}

func colorGraph(code *ir.Code, lv *dataflow.Liveness, ti *dataflow.TypeInfo) map[ir.Reg]ir.Reg {
    g := buildInterference(code, lv, ti)
    if len(g) == 0 {
        return nil
    }

    /* color high-degree nodes first */
    nodes := make([]ir.Reg, 0, len(g))
    for r := range g {
        nodes = append(nodes, r)
    }
    sort.Slice(nodes, func(i int, j int) bool {
        if len(g[nodes[i]]) != len(g[nodes[j]]) {
            return len(g[nodes[i]]) > len(g[nodes[j]])
        }
        return nodes[i] < nodes[j]
    })

    colors := make(map[ir.Reg]ir.Reg, len(nodes))
    for _, r := range nodes {
        if _, done := colors[r]; done {
            continue
        }

        /* colors blocked by already-colored neighbours */
        taken := make(map[ir.Reg]struct{}, len(g[r]))
        for n := range g[r] {
            if c, ok := colors[n]; ok {
                taken[c] = struct{}{}
                if ti.ClassOf(n) == dataflow.ClassWide {
                    taken[c + 1] = struct{}{}
                }
            }
        }

        wide := ti.ClassOf(r) == dataflow.ClassWide
        for c := ir.Reg(0); ; c++ {
            if _, bad := taken[c]; bad {
                continue
            }
            if wide {
                if _, bad := taken[c + 1]; bad {
                    continue
                }
            }
            colors[r] = c
            if wide {
                colors[r + 1] = c + 1
            }
            break
        }
    }
    return colors
}

type _Interval struct {
    reg   ir.Reg
    start int
    end   int
}

/* intervals over the linearized order, classic expiring-heap scan */
func linearScan(code *ir.Code, lv *dataflow.Liveness, ti *dataflow.TypeInfo) map[ir.Reg]ir.Reg {
    pos := 0
    start := make(map[ir.Reg]int)
    end := make(map[ir.Reg]int)

    touch := func(r ir.Reg) {
        if _, ok := start[r]; !ok {
            start[r] = pos
        }
        end[r] = pos
    }
    code.ReversePostOrder(func(bb *ir.Block) {
        /* anything live across the block boundary spans it entirely */
        out := lv.LiveOut(bb)
        for r := 0; r < code.NumRegs; r++ {
            if out.Get(r) {
                touch(ir.Reg(r))
            }
        }
        for _, p := range bb.Insns {
            pos++
            for _, s := range p.Srcs {
                touch(s)
            }
            if p.HasDst() {
                touch(p.Dst)
                if p.DstWide() {
                    touch(p.Dst + 1)
                }
            }
        }
        pos++
    })

    ivs := make([]_Interval, 0, len(start))
    for r, s := range start {
        ivs = append(ivs, _Interval { reg: r, start: s, end: end[r] })
    }
    sort.Slice(ivs, func(i int, j int) bool {
        if ivs[i].start != ivs[j].start {
            return ivs[i].start < ivs[j].start
        }
        return ivs[i].reg < ivs[j].reg
    })

    colors := make(map[ir.Reg]ir.Reg, len(ivs))
    busy := make(map[ir.Reg]int)    // color -> interval end

    for _, iv := range ivs {
        if _, done := colors[iv.reg]; done {
            continue
        }
        wide := ti.ClassOf(iv.reg) == dataflow.ClassWide
        for c := ir.Reg(0); ; c++ {
            if e, ok := busy[c]; ok && e >= iv.start {
                continue
            }
            if wide {
                if e, ok := busy[c + 1]; ok && e >= iv.start {
                    continue
                }
            }
            colors[iv.reg] = c
            busy[c] = iv.end
            if wide {
                colors[iv.reg + 1] = c + 1
                busy[c + 1] = iv.end
            }
            break
        }
    }
    return colors
}

func applyColors(code *ir.Code, colors map[ir.Reg]ir.Reg) {
    remap := func(r ir.Reg) ir.Reg {
        if c, ok := colors[r]; ok {
            return c
        }
        return r
    }
    for _, bb := range code.Blocks {
        for _, p := range bb.Insns {
            if p.HasDst() {
                p.Dst = remap(p.Dst)
            }
            for i, s := range p.Srcs {
                p.Srcs[i] = remap(s)
            }
        }
    }
}
