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

// BitVec is a fixed-width bit vector. The liveness analysis reserves one
// extra slot past the register count for the pending return / invoke result
// value.
type BitVec []uint64

// NewBitVec allocates a vector covering n bits.
func NewBitVec(n int) BitVec {
    return make(BitVec, (n + 63) / 64)
}

func (self BitVec) Get(i int) bool {
    return self[i / 64] & (1 << uint(i % 64)) != 0
}

func (self BitVec) Set(i int) {
    self[i / 64] |= 1 << uint(i % 64)
}

func (self BitVec) Clear(i int) {
    self[i / 64] &^= 1 << uint(i % 64)
}

// Or merges rhs into self, reporting whether any bit changed.
func (self BitVec) Or(rhs BitVec) bool {
    changed := false
    for i, v := range rhs {
        if nv := self[i] | v; nv != self[i] {
            self[i] = nv
            changed = true
        }
    }
    return changed
}

// Clone copies the vector.
func (self BitVec) Clone() BitVec {
    return append(BitVec(nil), self...)
}

// Liveness holds per-block live-in sets plus the result-value slot index.
type Liveness struct {
    Code    *ir.Code
    LiveIn  map[int]BitVec
    ResBit  int
}

// ComputeLiveness runs the standard backward may-liveness over the CFG.
func ComputeLiveness(code *ir.Code) *Liveness {
    lv := &Liveness {
        Code   : code,
        ResBit : code.NumRegs,
        LiveIn : make(map[int]BitVec, len(code.Blocks)),
    }

    /* all blocks start empty */
    for _, bb := range code.Blocks {
        lv.LiveIn[bb.Id] = NewBitVec(code.NumRegs + 1)
    }

    /* classic worklist iteration, post-order seeded */
    wl := lane.NewQueue()
    inq := make(map[int]bool, len(code.Blocks))
    for _, bb := range code.PostOrder() {
        wl.Enqueue(bb)
        inq[bb.Id] = true
    }

    /* drain the worklist */
    for !wl.Empty() {
        bb := wl.Dequeue().(*ir.Block)
        inq[bb.Id] = false

        /* live-out is the union of successor live-ins */
        out := NewBitVec(code.NumRegs + 1)
        for _, e := range bb.Succs {
            out.Or(lv.LiveIn[e.Dst.Id])
        }

        /* transfer backwards through the block */
        in := lv.TransferBlock(bb, out)

        /* requeue predecessors on change */
        if lv.LiveIn[bb.Id].Or(in) {
            for _, e := range bb.Preds {
                if !inq[e.Src.Id] {
                    inq[e.Src.Id] = true
                    wl.Enqueue(e.Src)
                }
            }
        }
    }
    return lv
}

// TransferBlock applies the backward transfer of every instruction in bb to
// the live-out vector and returns the live-in vector.
func (self *Liveness) TransferBlock(bb *ir.Block, out BitVec) BitVec {
    live := out.Clone()
    for i := len(bb.Insns) - 1; i >= 0; i-- {
        self.TransferInsn(bb.Insns[i], live)
    }
    return live
}

// TransferInsn applies one instruction's kill-then-gen to live.
func (self *Liveness) TransferInsn(p *ir.Insn, live BitVec) {
    /* the result slot is produced by invokes and consumed by move-results,
     * so backwards a move-result gens it and an invoke kills it */
    switch {
        case p.Op.IsMoveResult()                               : live.Set(self.ResBit)
        case p.Op.IsInvoke() || p.Op == ir.OpFilledNewArray    : live.Clear(self.ResBit)
    }

    /* kill the destination */
    if p.HasDst() {
        live.Clear(int(p.Dst))
        if p.DstWide() {
            live.Clear(int(p.Dst) + 1)
        }
    }

    /* gen the sources */
    for _, r := range p.Srcs {
        live.Set(int(r))
    }
}

// LiveAt reports the live set immediately before instruction index i in bb.
func (self *Liveness) LiveAt(bb *ir.Block, i int) BitVec {
    out := NewBitVec(self.Code.NumRegs + 1)
    for _, e := range bb.Succs {
        out.Or(self.LiveIn[e.Dst.Id])
    }
    live := out.Clone()
    for j := len(bb.Insns) - 1; j >= i; j-- {
        self.TransferInsn(bb.Insns[j], live)
    }
    return live
}

// LiveOut returns the live set at the end of bb.
func (self *Liveness) LiveOut(bb *ir.Block) BitVec {
    out := NewBitVec(self.Code.NumRegs + 1)
    for _, e := range bb.Succs {
        out.Or(self.LiveIn[e.Dst.Id])
    }
    return out
}
