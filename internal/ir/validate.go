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

    `github.com/davecgh/go-spew/spew`
)

// InvariantError is raised (via panic) on IR corruption. It carries enough
// context to produce the single-line fatal report.
type InvariantError struct {
    Method string
    Reason string
    Detail string
}

func (self *InvariantError) Error() string {
    return fmt.Sprintf("invariant violation in %s: %s", self.Method, self.Reason)
}

func (self *Code) fail(bb *Block, format string, args ...interface{}) {
    name := "<unknown>"
    if self.Method != nil {
        name = self.Method.Ref.String()
    }
    panic(&InvariantError {
        Method : name,
        Reason : fmt.Sprintf(format, args...),
        Detail : spew.Sdump(bb),
    })
}

// Validate checks the structural invariants of the body and panics with an
// *InvariantError on the first violation:
//
//   - every operand register is within NumRegs
//   - load-params occur only in the entry block prefix, in proto order
//   - every move-result immediately follows its producing invoke or
//     filled-new-array
//   - terminators carry exactly the edges their opcode demands, and only
//     terminators end a block with successors
//   - the entry block has no predecessors
func (self *Code) Validate() {
    if !self.editable {
        return
    }
    if self.Entry == nil {
        self.fail(nil, "no entry block")
    }
    if len(self.Entry.Preds) != 0 {
        self.fail(self.Entry, "entry block has %d predecessors", len(self.Entry.Preds))
    }

    /* per-block structural checks */
    for _, bb := range self.Blocks {
        self.checkregs(bb)
        self.checkedges(bb)
        self.checkresults(bb)
    }

    /* load-param prefix check on the entry */
    self.checkparams()
}

func (self *Code) checkregs(bb *Block) {
    for _, p := range bb.Insns {
        if p.HasDst() && int(p.Dst) >= self.NumRegs {
            self.fail(bb, "destination register %s out of range (%d regs): %s", p.Dst, self.NumRegs, p)
        }
        for _, r := range p.Srcs {
            if int(r) >= self.NumRegs {
                self.fail(bb, "source register %s out of range (%d regs): %s", r, self.NumRegs, p)
            }
        }
    }
}

func (self *Code) checkedges(bb *Block) {
    np := 0

    /* terminators must be last */
    for i, p := range bb.Insns {
        if p.Op.IsTerminator() && i != len(bb.Insns) - 1 {
            self.fail(bb, "terminator %s in the middle of a block", p)
        }
    }

    /* count the real outgoing edges */
    for _, e := range bb.Succs {
        if e.Kind == EdgeGoto || e.Kind == EdgeBranch {
            np++
        }
    }

    /* edges must match the terminator's demands */
    switch tm := bb.Term(); {
        case tm == nil: {
            if np != 1 && len(bb.Insns) != 0 {
                self.fail(bb, "fall-through block needs exactly one goto edge, has %d", np)
            }
        }
        case tm.Op.IsReturn() || tm.Op == OpThrow || tm.Op == OpUnreachable: {
            if np != 0 {
                self.fail(bb, "%s block carries %d normal edges", tm.Op, np)
            }
        }
        case tm.Op == OpGoto: {
            if np != 1 {
                self.fail(bb, "goto block needs exactly one edge, has %d", np)
            }
        }
        case tm.Op.IsConditionalBranch(): {
            if bb.GotoSucc() == nil || bb.BranchSucc(1) == nil {
                self.fail(bb, "branch block needs a goto and a branch edge")
            }
        }
        case tm.Op == OpSwitch: {
            for _, k := range tm.Keys {
                if bb.BranchSucc(k) == nil {
                    self.fail(bb, "switch block missing edge for case %d", k)
                }
            }
        }
    }
}

func (self *Code) checkresults(bb *Block) {
    for i, p := range bb.Insns {
        if !p.Op.IsMoveResult() {
            continue
        }

        /* the producer is the immediately preceding instruction, or the
         * terminator of the single predecessor for a block-leading move */
        var prev *Insn
        if i > 0 {
            prev = bb.Insns[i - 1]
        } else if len(bb.Preds) == 1 {
            pb := bb.Preds[0].Src
            if n := len(pb.Insns); n > 0 {
                prev = pb.Insns[n - 1]
            }
        }

        /* producer must be an invoke or filled-new-array */
        if prev == nil || (!prev.Op.IsInvoke() && prev.Op != OpFilledNewArray) {
            self.fail(bb, "%s has no producing invoke", p)
        }
    }
}

func (self *Code) checkparams() {
    var protoargs int
    if self.Method != nil {
        protoargs = len(self.Method.Ref.Proto.Args)
        if !self.Method.IsStatic() {
            protoargs++     // implicit this
        }
    }

    /* params must form the entry prefix, in proto order */
    seen := 0
    for i, p := range self.Entry.Insns {
        if p.Op.IsLoadParam() {
            if i != seen {
                self.fail(self.Entry, "load-param %s outside the entry prefix", p)
            }
            if p.Lit != int64(seen) {
                self.fail(self.Entry, "load-param order mismatch: slot %d at position %d", p.Lit, seen)
            }
            seen++
        }
    }

    /* no load-params allowed anywhere else */
    for _, bb := range self.Blocks {
        if bb == self.Entry {
            continue
        }
        for _, p := range bb.Insns {
            if p.Op.IsLoadParam() {
                self.fail(bb, "load-param %s outside the entry block", p)
            }
        }
    }

    /* count must match the proto when a method is attached */
    if self.Method != nil && seen != 0 && seen != protoargs {
        self.fail(self.Entry, "load-param count %d does not match proto arity %d", seen, protoargs)
    }
}
