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
    `github.com/dexopt/dexopt/internal/ir`
)

// RegClass is the width / interpretation class of a register value. Copy
// propagation must not merge registers of conflicting classes.
type RegClass uint8

const (
    ClassNone RegClass = iota
    ClassInt            // 32-bit integral, also booleans
    ClassFloat
    ClassWide           // long / double pair
    ClassObject
    ClassConflict
)

func (self RegClass) String() string {
    switch self {
        case ClassInt      : return "int"
        case ClassFloat    : return "float"
        case ClassWide     : return "wide"
        case ClassObject   : return "object"
        case ClassConflict : return "conflict"
        default            : return "none"
    }
}

// Merge joins two classes; distinct concrete classes conflict.
func (self RegClass) Merge(rhs RegClass) RegClass {
    switch {
        case self == ClassNone : return rhs
        case rhs == ClassNone  : return self
        case self == rhs       : return self
        default                : return ClassConflict
    }
}

// ClassOfType maps a declared type onto its register class.
func ClassOfType(tp *ir.Type) RegClass {
    switch tp.Descriptor[0] {
        case 'J', 'D'           : return ClassWide
        case 'F'                : return ClassFloat
        case 'L', '['           : return ClassObject
        case 'V'                : return ClassNone
        default                 : return ClassInt
    }
}

// DefClass infers the class of the value defined by p, or ClassNone when p
// defines nothing or the class depends on the source (plain moves).
func DefClass(p *ir.Insn) RegClass {
    switch p.Op {
        case ir.OpConst                     : return ClassInt
        case ir.OpConstWide                 : return ClassWide
        case ir.OpConstString               : return ClassObject
        case ir.OpConstClass                : return ClassObject
        case ir.OpMoveWide                  : return ClassWide
        case ir.OpMoveObject                : return ClassObject
        case ir.OpMoveResultWide            : return ClassWide
        case ir.OpMoveResultObject          : return ClassObject
        case ir.OpMoveResult                : return ClassInt
        case ir.OpMoveException             : return ClassObject
        case ir.OpLoadParamWide             : return ClassWide
        case ir.OpLoadParamObject           : return ClassObject
        case ir.OpLoadParam                 : return ClassInt
        case ir.OpCmp                       : return ClassInt
        case ir.OpArrayLength               : return ClassInt
        case ir.OpInstanceOf                : return ClassInt
        case ir.OpNewInstance               : return ClassObject
        case ir.OpNewArray                  : return ClassObject
        case ir.OpAget, ir.OpIget, ir.OpSget: return classofload(p)
        case ir.OpUnop                      : return unopclass(p.Unary)
        case ir.OpBinop, ir.OpBinopLit      : return ClassInt
        case ir.OpMove                      : return ClassNone
        default                             : return ClassNone
    }
}

func classofload(p *ir.Insn) RegClass {
    if p.Field != nil {
        return ClassOfType(p.Field.Type)
    }
    return ClassInt
}

func unopclass(op ir.UnaryOp) RegClass {
    switch op {
        case ir.UnNegLong, ir.UnNotLong, ir.UnIntToLong, ir.UnIntToDouble : return ClassWide
        case ir.UnNegDouble                                               : return ClassWide
        case ir.UnNegFloat, ir.UnIntToFloat                               : return ClassFloat
        default                                                           : return ClassInt
    }
}

// TypeInfo maps every register to its merged class over the whole body.
type TypeInfo struct {
    Classes []RegClass
}

// InferTypes computes per-register classes. Plain moves adopt the source
// register's class through a small fixpoint.
func InferTypes(code *ir.Code) *TypeInfo {
    ti := &TypeInfo { Classes: make([]RegClass, code.NumRegs) }

    /* direct classes first */
    for _, bb := range code.Blocks {
        for _, p := range bb.Insns {
            if p.HasDst() {
                if c := DefClass(p); c != ClassNone {
                    ti.Classes[p.Dst] = ti.Classes[p.Dst].Merge(c)
                }
            }
        }
    }

    /* propagate through plain moves until stable */
    for changed := true; changed; {
        changed = false
        for _, bb := range code.Blocks {
            for _, p := range bb.Insns {
                if p.Op == ir.OpMove && len(p.Srcs) == 1 {
                    if c := ti.Classes[p.Srcs[0]]; c != ClassNone {
                        if nc := ti.Classes[p.Dst].Merge(c); nc != ti.Classes[p.Dst] {
                            ti.Classes[p.Dst] = nc
                            changed = true
                        }
                    }
                }
            }
        }
    }
    return ti
}

// ClassOf returns the class of r.
func (self *TypeInfo) ClassOf(r ir.Reg) RegClass {
    if int(r) < len(self.Classes) {
        return self.Classes[r]
    }
    return ClassNone
}

// Compatible reports whether a value of class c may flow into uses typed b.
func Compatible(a RegClass, b RegClass) bool {
    return a == b || a == ClassNone || b == ClassNone
}
