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

// Reg is a virtual register index. Registers never alias: wide values take
// the pair (r, r+1) but the IR addresses the pair by its low index.
type Reg uint32

// NoReg marks an absent destination register.
const NoReg = ^Reg(0)

func (self Reg) String() string {
    if self == NoReg {
        return "-"
    } else {
        return fmt.Sprintf("v%d", uint32(self))
    }
}

// Insn is a single instruction: an opcode, an optional destination, source
// registers, and at most one payload (field, method, type, string, literal
// or inline data).
type Insn struct {
    Op      Opcode
    Dst     Reg
    Srcs    []Reg
    Lit     int64
    Str     string
    TypeRef *Type
    Field   *FieldRef
    Method  *MethodRef
    Data    []int64     // fill-array-data payload
    Keys    []int64     // switch case keys, parallel to branch edges
    Unary   UnaryOp
    Binary  BinaryOp
}

// NewInsn builds an instruction with no payload.
func NewInsn(op Opcode, dst Reg, srcs ...Reg) *Insn {
    return &Insn {
        Op   : op,
        Dst  : dst,
        Srcs : srcs,
    }
}

// NewConst builds an integer constant load.
func NewConst(dst Reg, v int64) *Insn {
    return &Insn { Op: OpConst, Dst: dst, Lit: v }
}

// NewConstWide builds a wide constant load.
func NewConstWide(dst Reg, v int64) *Insn {
    return &Insn { Op: OpConstWide, Dst: dst, Lit: v }
}

// NewConstString builds a string constant load.
func NewConstString(dst Reg, s string) *Insn {
    return &Insn { Op: OpConstString, Dst: dst, Str: s }
}

// NewInvoke builds an invoke of the given kind.
func NewInvoke(op Opcode, ref *MethodRef, args ...Reg) *Insn {
    if !op.IsInvoke() {
        panic("ir: not an invoke opcode: " + op.String())
    }
    return &Insn {
        Op     : op,
        Dst    : NoReg,
        Srcs   : args,
        Method : ref,
    }
}

// NewFieldOp builds a field access instruction.
func NewFieldOp(op Opcode, ref *FieldRef, dst Reg, srcs ...Reg) *Insn {
    return &Insn {
        Op    : op,
        Dst   : dst,
        Srcs  : srcs,
        Field : ref,
    }
}

// NewTypeOp builds a type-carrying instruction (new-instance, check-cast,
// instance-of, new-array, const-class, init-class).
func NewTypeOp(op Opcode, tp *Type, dst Reg, srcs ...Reg) *Insn {
    return &Insn {
        Op      : op,
        Dst     : dst,
        Srcs    : srcs,
        TypeRef : tp,
    }
}

// HasDst reports whether the instruction defines a register.
func (self *Insn) HasDst() bool {
    return self.Dst != NoReg
}

// Clone returns a deep copy with fresh register slices.
func (self *Insn) Clone() *Insn {
    p := *self
    p.Srcs = append([]Reg(nil), self.Srcs...)
    p.Data = append([]int64(nil), self.Data...)
    p.Keys = append([]int64(nil), self.Keys...)
    return &p
}

// DstWide reports whether the destination occupies a register pair.
func (self *Insn) DstWide() bool {
    switch self.Op {
        case OpConstWide, OpMoveWide, OpMoveResultWide, OpLoadParamWide : return true
        default                                                        : return false
    }
}

// SideEffectFree gives the base local classification: true when removing
// the instruction cannot change observable behavior, assuming its result is
// dead. Invokes and memory writes are never locally side-effect free.
func (self *Insn) SideEffectFree() bool {
    switch self.Op {
        case OpNop, OpConst, OpConstWide, OpConstString, OpConstClass : return true
        case OpMove, OpMoveWide, OpMoveObject                         : return true
        case OpCmp, OpUnop, OpBinopLit, OpInstanceOf                  : return true
        case OpBinop                                                  : return self.Binary != BinDiv && self.Binary != BinRem
        case OpAget, OpIget, OpSget, OpArrayLength                    : return false
        default                                                       : return false
    }
}

func (self *Insn) String() string {
    var ss []string

    /* destination register */
    if self.HasDst() {
        ss = append(ss, self.Dst.String())
    }

    /* source registers */
    for _, r := range self.Srcs {
        ss = append(ss, r.String())
    }

    /* payload */
    switch {
        case self.Field  != nil       : ss = append(ss, self.Field.String())
        case self.Method != nil       : ss = append(ss, self.Method.String())
        case self.TypeRef != nil      : ss = append(ss, self.TypeRef.String())
        case self.Op == OpConstString : ss = append(ss, fmt.Sprintf("%q", self.Str))
        case self.Op == OpConst       : ss = append(ss, fmt.Sprintf("%d", self.Lit))
        case self.Op == OpConstWide   : ss = append(ss, fmt.Sprintf("%d", self.Lit))
        case self.Op == OpBinopLit    : ss = append(ss, fmt.Sprintf("#%d", self.Lit))
        case self.Op == OpLoadParam,
             self.Op == OpLoadParamWide,
             self.Op == OpLoadParamObject : ss = append(ss, fmt.Sprintf("#%d", self.Lit))
    }
    return fmt.Sprintf("%s %s", self.Op, strings.Join(ss, ", "))
}
