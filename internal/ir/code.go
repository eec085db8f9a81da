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

package ir

import (
    `fmt`
    `strings`

    `github.com/oleiade/lane`
)

// Code is a method body. It lives in editable CFG form during optimization
// and in linear form around serialization; analyses require the editable
// form.
type Code struct {
    Method   *Method
    Entry    *Block
    Blocks   []*Block
    NumRegs  int
    Linear   []*Insn
    editable bool
    nextId   int
}

// NewCode creates an empty editable body with the given register budget.
func NewCode(m *Method, nregs int) *Code {
    return &Code {
        Method   : m,
        NumRegs  : nregs,
        editable : true,
    }
}

// Editable reports whether the body is in CFG form.
func (self *Code) Editable() bool {
    return self.editable
}

// NewBlock allocates a fresh block registered with the body.
func (self *Code) NewBlock() *Block {
    bb := &Block { Id: self.nextId }
    self.nextId++
    self.Blocks = append(self.Blocks, bb)
    return bb
}

// SetEntry marks bb as the entry block.
func (self *Code) SetEntry(bb *Block) {
    self.Entry = bb
}

// AddEdge links src to dst with an edge of the given kind.
func (self *Code) AddEdge(src *Block, dst *Block, kind EdgeKind) *Edge {
    e := &Edge { Src: src, Dst: dst, Kind: kind }
    src.Succs = append(src.Succs, e)
    dst.Preds = append(dst.Preds, e)
    return e
}

// AddBranchEdge links src to dst with a branch edge carrying key.
func (self *Code) AddBranchEdge(src *Block, dst *Block, key int64) *Edge {
    e := self.AddEdge(src, dst, EdgeBranch)
    e.CaseKey = key
    return e
}

// AddThrowEdge links src to dst with a throw edge catching tp.
func (self *Code) AddThrowEdge(src *Block, dst *Block, tp *Type) *Edge {
    e := self.AddEdge(src, dst, EdgeThrow)
    e.CatchType = tp
    return e
}

// RemoveEdge unlinks e on both endpoints.
func (self *Code) RemoveEdge(e *Edge) {
    e.Src.Succs = removeedge(e.Src.Succs, e)
    e.Dst.Preds = removeedge(e.Dst.Preds, e)
}

// RedirectSrc re-hangs e off a new source block. Used when a block is
// split and its successor edges move to the tail half.
func (self *Code) RedirectSrc(e *Edge, src *Block) {
    e.Src.Succs = removeedge(e.Src.Succs, e)
    e.Src = src
    src.Succs = append(src.Succs, e)
}

// RedirectEdge points e at a new destination.
func (self *Code) RedirectEdge(e *Edge, dst *Block) {
    e.Dst.Preds = removeedge(e.Dst.Preds, e)
    e.Dst = dst
    dst.Preds = append(dst.Preds, e)
}

func removeedge(es []*Edge, e *Edge) []*Edge {
    for i, v := range es {
        if v == e {
            return append(es[:i], es[i + 1:]...)
        }
    }
    return es
}

// ReversePostOrder visits every reachable block in reverse post-order.
func (self *Code) ReversePostOrder(action func(bb *Block)) {
    po := self.PostOrder()
    for i := len(po) - 1; i >= 0; i-- {
        action(po[i])
    }
}

// PostOrder returns the reachable blocks in post-order.
func (self *Code) PostOrder() []*Block {
    var ret []*Block
    vis := make(map[int]struct{}, len(self.Blocks))
    stk := lane.NewStack()

    /* nothing to visit in an empty body */
    if self.Entry == nil {
        return nil
    }

    /* iterative DFS with an explicit edge cursor per block */
    type frame struct {
        bb *Block
        ei int
    }

    /* start from the entry block */
    stk.Push(&frame { bb: self.Entry })
    vis[self.Entry.Id] = struct{}{}

    /* walk until the stack drains */
    for !stk.Empty() {
        fp := stk.Head().(*frame)

        /* descend into the next unvisited successor */
        if fp.ei < len(fp.bb.Succs) {
            nb := fp.bb.Succs[fp.ei].Dst
            fp.ei++
            if _, ok := vis[nb.Id]; !ok {
                vis[nb.Id] = struct{}{}
                stk.Push(&frame { bb: nb })
            }
            continue
        }

        /* all successors done, emit the block */
        stk.Pop()
        ret = append(ret, fp.bb)
    }
    return ret
}

// ReachableBlocks returns the set of block ids reachable from the entry.
func (self *Code) ReachableBlocks() map[int]struct{} {
    ret := make(map[int]struct{}, len(self.Blocks))
    for _, bb := range self.PostOrder() {
        ret[bb.Id] = struct{}{}
    }
    return ret
}

// RemoveUnreachable drops every block not reachable from the entry and
// unlinks their edges. Returns the number of removed blocks.
func (self *Code) RemoveUnreachable() int {
    live := self.ReachableBlocks()
    keep := self.Blocks[:0]
    dead := 0

    /* partition the block list */
    for _, bb := range self.Blocks {
        if _, ok := live[bb.Id]; ok {
            keep = append(keep, bb)
            continue
        }

        /* unlink all edges of the dead block */
        dead++
        for _, e := range append([]*Edge(nil), bb.Succs...) { self.RemoveEdge(e) }
        for _, e := range append([]*Edge(nil), bb.Preds...) { self.RemoveEdge(e) }
    }

    self.Blocks = keep
    return dead
}

// AllocReg grows the register budget by width and returns the new register.
func (self *Code) AllocReg(wide bool) Reg {
    r := Reg(self.NumRegs)
    if self.NumRegs++; wide {
        self.NumRegs++
    }
    return r
}

// RecomputeRegs rescans every instruction and resets NumRegs to the
// smallest count covering all operands. Must be called after mutations that
// may have freed the highest registers.
func (self *Code) RecomputeRegs() {
    max := -1
    for _, bb := range self.Blocks {
        for _, p := range bb.Insns {
            if p.HasDst() {
                w := 0
                if p.DstWide() { w = 1 }
                if v := int(p.Dst) + w; v > max { max = v }
            }
            for _, r := range p.Srcs {
                if v := int(r); v > max { max = v }
            }
        }
    }
    self.NumRegs = max + 1
}

// InsnCount counts instructions over all blocks.
func (self *Code) InsnCount() int {
    n := 0
    for _, bb := range self.Blocks {
        n += len(bb.Insns)
    }
    return n
}

// EdgeCount counts all outgoing edges.
func (self *Code) EdgeCount() int {
    n := 0
    for _, bb := range self.Blocks {
        n += len(bb.Succs)
    }
    return n
}

// Clone deep-copies the body for m: fresh blocks, instructions and edges
// with the same ids and register numbering.
func (self *Code) Clone(m *Method) *Code {
    nc := &Code {
        Method   : m,
        NumRegs  : self.NumRegs,
        nextId   : self.nextId,
        editable : self.editable,
    }

    blocks := make(map[*Block]*Block, len(self.Blocks))
    for _, bb := range self.Blocks {
        nb := &Block { Id: bb.Id }
        for _, p := range bb.Insns {
            nb.Insns = append(nb.Insns, p.Clone())
        }
        for _, sb := range bb.SrcBlocks {
            nb.SrcBlocks = append(nb.SrcBlocks, sb)
        }
        blocks[bb] = nb
        nc.Blocks = append(nc.Blocks, nb)
    }

    for _, bb := range self.Blocks {
        for _, e := range bb.Succs {
            ne := &Edge {
                Src       : blocks[bb],
                Dst       : blocks[e.Dst],
                Kind      : e.Kind,
                CaseKey   : e.CaseKey,
                CatchType : e.CatchType,
            }
            ne.Src.Succs = append(ne.Src.Succs, ne)
            ne.Dst.Preds = append(ne.Dst.Preds, ne)
        }
    }

    nc.Entry = blocks[self.Entry]
    return nc
}

// Linearize flattens the CFG into Linear in reverse post-order and leaves
// the body in non-editable form. The register count is recomputed.
func (self *Code) Linearize() []*Insn {
    var ins []*Insn
    self.RecomputeRegs()
    self.ReversePostOrder(func(bb *Block) {
        ins = append(ins, bb.Insns...)
    })
    self.Linear = ins
    self.editable = false
    return ins
}

// BuildCFG returns the body to editable form after a Linearize round trip.
// The CFG structure is retained, only the mode flag flips; the external DEX
// reader rebuilds blocks from the byte stream on its own.
func (self *Code) BuildCFG() {
    self.editable = true
    self.Linear = nil
}

func (self *Code) String() string {
    ss := make([]string, 0, len(self.Blocks))
    self.ReversePostOrder(func(bb *Block) {
        ss = append(ss, bb.String())
    })
    return fmt.Sprintf("Code {\n%s\n}", strings.Join(ss, "\n"))
}
