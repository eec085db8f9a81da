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

// Mutation batches instruction replacements and edge rewires against a
// body. Individual analyses stage their edits while walking a consistent
// CFG, then apply everything at once with Commit.
type Mutation struct {
    code      *Code
    removes   map[*Insn]struct{}
    replaces  map[*Insn][]*Insn
    inserts   map[*Insn][]*Insn   // inserted before the key instruction
    redirects []_Redirect
}

type _Redirect struct {
    edge *Edge
    dst  *Block
}

// NewMutation opens a mutation batch on code.
func NewMutation(code *Code) *Mutation {
    return &Mutation {
        code     : code,
        removes  : make(map[*Insn]struct{}),
        replaces : make(map[*Insn][]*Insn),
        inserts  : make(map[*Insn][]*Insn),
    }
}

// Remove stages the removal of p.
func (self *Mutation) Remove(p *Insn) {
    self.removes[p] = struct{}{}
}

// Replace stages the replacement of p with the given sequence.
func (self *Mutation) Replace(p *Insn, with ...*Insn) {
    self.replaces[p] = with
}

// InsertBefore stages an insertion immediately before p.
func (self *Mutation) InsertBefore(p *Insn, ins ...*Insn) {
    self.inserts[p] = append(self.inserts[p], ins...)
}

// Redirect stages an edge retarget.
func (self *Mutation) Redirect(e *Edge, dst *Block) {
    self.redirects = append(self.redirects, _Redirect { edge: e, dst: dst })
}

// Empty reports whether the batch stages no changes.
func (self *Mutation) Empty() bool {
    return len(self.removes) == 0 &&
           len(self.replaces) == 0 &&
           len(self.inserts) == 0 &&
           len(self.redirects) == 0
}

// Commit applies all staged edits and resets the batch. Returns the number
// of instructions changed.
func (self *Mutation) Commit() int {
    n := 0

    /* rebuild every touched block's instruction list */
    for _, bb := range self.code.Blocks {
        if self.touches(bb) {
            n += self.rewrite(bb)
        }
    }

    /* apply the edge redirects */
    for _, r := range self.redirects {
        n++
        self.code.RedirectEdge(r.edge, r.dst)
    }

    /* reset the batch */
    self.removes = make(map[*Insn]struct{})
    self.replaces = make(map[*Insn][]*Insn)
    self.inserts = make(map[*Insn][]*Insn)
    self.redirects = self.redirects[:0]
    return n
}

func (self *Mutation) touches(bb *Block) bool {
    for _, p := range bb.Insns {
        if _, ok := self.removes[p]; ok {
            return true
        }
        if _, ok := self.replaces[p]; ok {
            return true
        }
        if _, ok := self.inserts[p]; ok {
            return true
        }
    }
    return false
}

func (self *Mutation) rewrite(bb *Block) int {
    n := 0
    ins := make([]*Insn, 0, len(bb.Insns))

    /* apply inserts, replaces and removes in one sweep */
    for _, p := range bb.Insns {
        if pre, ok := self.inserts[p]; ok {
            n += len(pre)
            ins = append(ins, pre...)
        }
        if _, ok := self.removes[p]; ok {
            n++
            continue
        }
        if rep, ok := self.replaces[p]; ok {
            n++
            ins = append(ins, rep...)
            continue
        }
        ins = append(ins, p)
    }

    bb.Insns = ins
    return n
}
