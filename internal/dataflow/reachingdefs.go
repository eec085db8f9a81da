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

package dataflow

import (
    `github.com/oleiade/lane`

    `github.com/dexopt/dexopt/internal/ir`
)

// Defs is the set of instructions that may define a register at some
// program point.
type Defs map[*ir.Insn]struct{}

func (self Defs) union(rhs Defs) bool {
    changed := false
    for p := range rhs {
        if _, ok := self[p]; !ok {
            self[p] = struct{}{}
            changed = true
        }
    }
    return changed
}

// ReachingDefs maps block id -> register -> defs reaching the block entry.
type ReachingDefs struct {
    Code *ir.Code
    In   map[int]map[ir.Reg]Defs
}

// ComputeReachingDefs runs the forward reaching-definitions analysis.
func ComputeReachingDefs(code *ir.Code) *ReachingDefs {
    rd := &ReachingDefs {
        Code : code,
        In   : make(map[int]map[ir.Reg]Defs, len(code.Blocks)),
    }

    /* all blocks start empty */
    for _, bb := range code.Blocks {
        rd.In[bb.Id] = make(map[ir.Reg]Defs)
    }

    /* forward worklist, reverse post-order seeded */
    wl := lane.NewQueue()
    inq := make(map[int]bool, len(code.Blocks))
    code.ReversePostOrder(func(bb *ir.Block) {
        wl.Enqueue(bb)
        inq[bb.Id] = true
    })

    /* drain the worklist */
    for !wl.Empty() {
        bb := wl.Dequeue().(*ir.Block)
        inq[bb.Id] = false

        /* transfer through the block */
        out := rd.transfer(bb, rd.In[bb.Id])

        /* merge into successors, requeue on change */
        for _, e := range bb.Succs {
            if mergedefs(rd.In[e.Dst.Id], out) && !inq[e.Dst.Id] {
                inq[e.Dst.Id] = true
                wl.Enqueue(e.Dst)
            }
        }
    }
    return rd
}

func (self *ReachingDefs) transfer(bb *ir.Block, in map[ir.Reg]Defs) map[ir.Reg]Defs {
    out := make(map[ir.Reg]Defs, len(in))
    for r, ds := range in {
        nd := make(Defs, len(ds))
        nd.union(ds)
        out[r] = nd
    }

    /* each definition kills, then gens itself */
    for _, p := range bb.Insns {
        if p.HasDst() {
            out[p.Dst] = Defs { p: {} }
        }
    }
    return out
}

func mergedefs(dst map[ir.Reg]Defs, src map[ir.Reg]Defs) bool {
    changed := false
    for r, ds := range src {
        if cur, ok := dst[r]; !ok {
            nd := make(Defs, len(ds))
            nd.union(ds)
            dst[r] = nd
            changed = true
        } else if cur.union(ds) {
            changed = true
        }
    }
    return changed
}

// DefsAt returns the defs of r that reach instruction index i in bb.
func (self *ReachingDefs) DefsAt(bb *ir.Block, i int, r ir.Reg) Defs {
    cur := self.In[bb.Id][r]

    /* walk forward through the block up to i */
    for j := 0; j < i && j < len(bb.Insns); j++ {
        if p := bb.Insns[j]; p.HasDst() && p.Dst == r {
            cur = Defs { p: {} }
        }
    }

    /* copy out so callers may mutate freely */
    ret := make(Defs, len(cur))
    ret.union(cur)
    return ret
}

// SoleDef returns the unique def of r at (bb, i), or nil when there are
// zero or several.
func (self *ReachingDefs) SoleDef(bb *ir.Block, i int, r ir.Reg) *ir.Insn {
    ds := self.DefsAt(bb, i, r)
    if len(ds) != 1 {
        return nil
    }
    for p := range ds {
        return p
    }
    return nil
}
