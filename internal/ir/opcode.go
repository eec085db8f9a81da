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

// Opcode is the abstract opcode set the optimizer reasons about. It is a
// normalized view of the DEX instruction set: width variants are collapsed,
// arithmetic is factored into OpUnop / OpBinop with a sub-operation.
type Opcode uint8

const (
    OpNop Opcode = iota

    /* constants */
    OpConst          // Lit -> Dst
    OpConstWide      // Lit -> Dst (pair)
    OpConstString    // Str -> Dst
    OpConstClass     // TypeRef -> Dst

    /* register moves */
    OpMove           // Srcs[0] -> Dst
    OpMoveWide
    OpMoveObject
    OpMoveResult     // pseudo: result of previous invoke -> Dst
    OpMoveResultWide
    OpMoveResultObject
    OpMoveException  // pseudo: caught exception -> Dst

    /* parameter loads, entry block prefix only */
    OpLoadParam
    OpLoadParamWide
    OpLoadParamObject

    /* returns */
    OpReturnVoid
    OpReturn
    OpReturnWide
    OpReturnObject

    /* control flow */
    OpGoto
    OpIfEq           // Srcs[0] cmp Srcs[1]
    OpIfNe
    OpIfLt
    OpIfGe
    OpIfGt
    OpIfLe
    OpIfEqz          // Srcs[0] cmp 0
    OpIfNez
    OpIfLtz
    OpIfGez
    OpIfGtz
    OpIfLez
    OpSwitch         // Srcs[0], Keys -> branch edges
    OpThrow

    /* comparisons producing a value */
    OpCmp            // Srcs[0] <=> Srcs[1] -> Dst

    /* arrays */
    OpArrayLength
    OpNewArray       // TypeRef, Srcs[0]=len -> Dst
    OpFilledNewArray // TypeRef, Srcs -> result
    OpFillArrayData  // Srcs[0]=array, Data
    OpAget           // Srcs[0]=array, Srcs[1]=index -> Dst
    OpAput           // Srcs[0]=value, Srcs[1]=array, Srcs[2]=index

    /* fields */
    OpIget           // Field, Srcs[0]=object -> Dst
    OpIput           // Field, Srcs[0]=value, Srcs[1]=object
    OpSget           // Field -> Dst
    OpSput           // Field, Srcs[0]=value

    /* objects */
    OpNewInstance    // TypeRef -> Dst
    OpCheckCast      // TypeRef, Srcs[0]
    OpInstanceOf     // TypeRef, Srcs[0] -> Dst
    OpMonitorEnter
    OpMonitorExit

    /* invokes */
    OpInvokeStatic
    OpInvokeDirect
    OpInvokeVirtual
    OpInvokeInterface
    OpInvokeSuper

    /* arithmetic */
    OpUnop           // Unary(Srcs[0]) -> Dst
    OpBinop          // Binary(Srcs[0], Srcs[1]) -> Dst
    OpBinopLit       // Binary(Srcs[0], Lit) -> Dst

    /* pseudo instructions */
    OpInitClass      // TypeRef: explicit class-init trigger
    OpUnreachable    // lowered late to "const 0; throw"
)

// UnaryOp is the sub-operation of OpUnop.
type UnaryOp uint8

const (
    UnNegInt UnaryOp = iota
    UnNegLong
    UnNegFloat
    UnNegDouble
    UnNotInt
    UnNotLong
    UnIntToLong
    UnIntToFloat
    UnIntToDouble
    UnLongToInt
    UnFloatToInt
    UnDoubleToInt
    UnIntToByte
    UnIntToChar
    UnIntToShort
)

// BinaryOp is the sub-operation of OpBinop / OpBinopLit.
type BinaryOp uint8

const (
    BinAdd BinaryOp = iota
    BinSub
    BinMul
    BinDiv
    BinRem
    BinAnd
    BinOr
    BinXor
    BinShl
    BinShr
    BinUshr
)

var opNames = [...]string {
    OpNop              : "nop",
    OpConst            : "const",
    OpConstWide        : "const-wide",
    OpConstString      : "const-string",
    OpConstClass       : "const-class",
    OpMove             : "move",
    OpMoveWide         : "move-wide",
    OpMoveObject       : "move-object",
    OpMoveResult       : "move-result",
    OpMoveResultWide   : "move-result-wide",
    OpMoveResultObject : "move-result-object",
    OpMoveException    : "move-exception",
    OpLoadParam        : "load-param",
    OpLoadParamWide    : "load-param-wide",
    OpLoadParamObject  : "load-param-object",
    OpReturnVoid       : "return-void",
    OpReturn           : "return",
    OpReturnWide       : "return-wide",
    OpReturnObject     : "return-object",
    OpGoto             : "goto",
    OpIfEq             : "if-eq",
    OpIfNe             : "if-ne",
    OpIfLt             : "if-lt",
    OpIfGe             : "if-ge",
    OpIfGt             : "if-gt",
    OpIfLe             : "if-le",
    OpIfEqz            : "if-eqz",
    OpIfNez            : "if-nez",
    OpIfLtz            : "if-ltz",
    OpIfGez            : "if-gez",
    OpIfGtz            : "if-gtz",
    OpIfLez            : "if-lez",
    OpSwitch           : "switch",
    OpThrow            : "throw",
    OpCmp              : "cmp",
    OpArrayLength      : "array-length",
    OpNewArray         : "new-array",
    OpFilledNewArray   : "filled-new-array",
    OpFillArrayData    : "fill-array-data",
    OpAget             : "aget",
    OpAput             : "aput",
    OpIget             : "iget",
    OpIput             : "iput",
    OpSget             : "sget",
    OpSput             : "sput",
    OpNewInstance      : "new-instance",
    OpCheckCast        : "check-cast",
    OpInstanceOf       : "instance-of",
    OpMonitorEnter     : "monitor-enter",
    OpMonitorExit      : "monitor-exit",
    OpInvokeStatic     : "invoke-static",
    OpInvokeDirect     : "invoke-direct",
    OpInvokeVirtual    : "invoke-virtual",
    OpInvokeInterface  : "invoke-interface",
    OpInvokeSuper      : "invoke-super",
    OpUnop             : "unop",
    OpBinop            : "binop",
    OpBinopLit         : "binop-lit",
    OpInitClass        : "init-class",
    OpUnreachable      : "unreachable",
}

func (self Opcode) String() string {
    return opNames[self]
}

// IsTerminator reports whether the opcode must end its block.
func (self Opcode) IsTerminator() bool {
    switch self {
        case OpReturnVoid, OpReturn, OpReturnWide, OpReturnObject : return true
        case OpGoto, OpSwitch, OpThrow, OpUnreachable             : return true
        default                                                   : return self.IsConditionalBranch()
    }
}

// IsConditionalBranch reports whether the opcode is a two-way branch.
func (self Opcode) IsConditionalBranch() bool {
    return self >= OpIfEq && self <= OpIfLez
}

// IsBranchZero reports whether the opcode compares against zero.
func (self Opcode) IsBranchZero() bool {
    return self >= OpIfEqz && self <= OpIfLez
}

// IsInvoke reports whether the opcode calls a method.
func (self Opcode) IsInvoke() bool {
    return self >= OpInvokeStatic && self <= OpInvokeSuper
}

// IsMoveResult reports whether the opcode consumes the pending invoke or
// filled-new-array result.
func (self Opcode) IsMoveResult() bool {
    return self == OpMoveResult || self == OpMoveResultWide || self == OpMoveResultObject
}

// IsLoadParam reports whether the opcode is an entry parameter load.
func (self Opcode) IsLoadParam() bool {
    return self == OpLoadParam || self == OpLoadParamWide || self == OpLoadParamObject
}

// IsReturn reports whether the opcode leaves the method normally.
func (self Opcode) IsReturn() bool {
    return self >= OpReturnVoid && self <= OpReturnObject
}

// IsConst reports whether the opcode loads an immediate value.
func (self Opcode) IsConst() bool {
    return self == OpConst || self == OpConstWide || self == OpConstString || self == OpConstClass
}

// IsMove reports whether the opcode is a plain register copy.
func (self Opcode) IsMove() bool {
    return self == OpMove || self == OpMoveWide || self == OpMoveObject
}

// CanThrow gives a conservative may-throw classification.
func (self Opcode) CanThrow() bool {
    switch self {
        case OpThrow, OpCheckCast, OpNewInstance, OpNewArray, OpFilledNewArray : return true
        case OpAget, OpAput, OpIget, OpIput, OpSget, OpSput                    : return true
        case OpArrayLength, OpMonitorEnter, OpMonitorExit, OpInitClass         : return true
        case OpFillArrayData                                                   : return true
        default                                                                : return self.IsInvoke()
    }
}

// WritesMemory reports whether the opcode stores to the heap.
func (self Opcode) WritesMemory() bool {
    switch self {
        case OpAput, OpIput, OpSput, OpFillArrayData : return true
        default                                      : return false
    }
}

// ReadsMemory reports whether the opcode loads from the heap.
func (self Opcode) ReadsMemory() bool {
    switch self {
        case OpAget, OpIget, OpSget, OpArrayLength : return true
        default                                    : return false
    }
}
