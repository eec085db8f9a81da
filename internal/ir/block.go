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
)

// EdgeKind classifies a CFG edge.
type EdgeKind uint8

const (
    EdgeGoto EdgeKind = iota
    EdgeBranch
    EdgeThrow
    EdgeGhost
)

func (self EdgeKind) String() string {
    switch self {
        case EdgeGoto   : return "goto"
        case EdgeBranch : return "branch"
        case EdgeThrow  : return "throw"
        case EdgeGhost  : return "ghost"
        default         : return "?"
    }
}

// Edge is a typed CFG edge. Branch edges carry the case key (1 for the
// taken side of an if); throw edges carry the caught exception type.
type Edge struct {
    Src       *Block
    Dst       *Block
    Kind      EdgeKind
    CaseKey   int64
    CatchType *Type
}

// ProbPair is one (hit-probability, appear-probability) sample of a source
// block for one profile interaction.
type ProbPair struct {
    Hit    float32
    Appear float32
}

// SourceBlock is a hotness marker carried on a block, one probability pair
// per interaction.
type SourceBlock struct {
    Origin *MethodRef
    Id     uint32
    Probs  []ProbPair
}

// Hot reports whether any interaction sample marks the block hot.
func (self *SourceBlock) Hot() bool {
    for _, p := range self.Probs {
        if p.Hit > 0 {
            return true
        }
    }
    return false
}

// Block is a CFG basic block: an instruction sequence ending in a
// terminator, plus typed predecessor / successor edges.
type Block struct {
    Id        int
    Insns     []*Insn
    Preds     []*Edge
    Succs     []*Edge
    SrcBlocks []SourceBlock
}

// Term returns the terminator instruction, or nil for an empty or
// unterminated block.
func (self *Block) Term() *Insn {
    if n := len(self.Insns); n == 0 {
        return nil
    } else if p := self.Insns[n - 1]; p.Op.IsTerminator() {
        return p
    } else {
        return nil
    }
}

// Append adds instructions to the end of the block.
func (self *Block) Append(ins ...*Insn) *Block {
    self.Insns = append(self.Insns, ins...)
    return self
}

// GotoSucc returns the single goto successor, or nil.
func (self *Block) GotoSucc() *Block {
    for _, e := range self.Succs {
        if e.Kind == EdgeGoto {
            return e.Dst
        }
    }
    return nil
}

// BranchSucc returns the branch successor carrying key, or nil.
func (self *Block) BranchSucc(key int64) *Block {
    for _, e := range self.Succs {
        if e.Kind == EdgeBranch && e.CaseKey == key {
            return e.Dst
        }
    }
    return nil
}

// NonGhostSuccs counts the real outgoing edges.
func (self *Block) NonGhostSuccs() int {
    n := 0
    for _, e := range self.Succs {
        if e.Kind != EdgeGhost {
            n++
        }
    }
    return n
}

// StartsWithMoveException reports whether the block is a catch handler
// entry.
func (self *Block) StartsWithMoveException() bool {
    return len(self.Insns) > 0 && self.Insns[0].Op == OpMoveException
}

// Hot reports whether any source block on this block is hot.
func (self *Block) Hot() bool {
    for i := range self.SrcBlocks {
        if self.SrcBlocks[i].Hot() {
            return true
        }
    }
    return false
}

func (self *Block) String() string {
    ss := make([]string, 0, len(self.Insns) + 1)
    ss = append(ss, fmt.Sprintf("bb_%d:", self.Id))
    for _, p := range self.Insns {
        ss = append(ss, "    " + p.String())
    }
    for _, e := range self.Succs {
        ss = append(ss, fmt.Sprintf("    # %s -> bb_%d", e.Kind, e.Dst.Id))
    }
    return strings.Join(ss, "\n")
}
