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

package absint

import (
    `github.com/oleiade/lane`

    `github.com/dexopt/dexopt/internal/ir`
)

// FieldValues supplies whole-program static field constants, when the
// whole-program constant propagation state is available.
type FieldValues interface {
    StaticValue(f *ir.Field) (Value, bool)
}

// Env is an abstract machine state: registers, the pending result slot,
// and the static fields written so far (tracked for clinit lifting and
// dead-put detection).
type Env struct {
    Regs    map[ir.Reg]Value
    Res     Value
    Statics map[*ir.Field]Value
}

// NewEnv returns an empty environment.
func NewEnv() *Env {
    return &Env {
        Res     : BottomV(),
        Regs    : make(map[ir.Reg]Value),
        Statics : make(map[*ir.Field]Value),
    }
}

// Get returns the value of r, Top when untracked.
func (self *Env) Get(r ir.Reg) Value {
    if v, ok := self.Regs[r]; ok {
        return v
    }
    return TopV()
}

// Set binds r.
func (self *Env) Set(r ir.Reg, v Value) {
    self.Regs[r] = v
}

// Clone copies the environment.
func (self *Env) Clone() *Env {
    ne := NewEnv()
    ne.Res = self.Res
    for r, v := range self.Regs {
        ne.Regs[r] = v
    }
    for f, v := range self.Statics {
        ne.Statics[f] = v
    }
    return ne
}

// JoinWith merges rhs into self, reporting a change.
func (self *Env) JoinWith(rhs *Env) bool {
    changed := false

    /* registers present in either side */
    for r, v := range rhs.Regs {
        if cur, ok := self.Regs[r]; !ok {
            self.Regs[r] = v
            changed = true
        } else if nv := cur.Join(v); !nv.Eq(cur) {
            self.Regs[r] = nv
            changed = true
        }
    }

    /* the result slot */
    if nv := self.Res.Join(rhs.Res); !nv.Eq(self.Res) {
        self.Res = nv
        changed = true
    }

    /* statics: a field missing on one side joins to Top */
    for f, v := range rhs.Statics {
        if cur, ok := self.Statics[f]; !ok {
            self.Statics[f] = v
            changed = true
        } else if nv := cur.Join(v); !nv.Eq(cur) {
            self.Statics[f] = nv
            changed = true
        }
    }
    for f := range self.Statics {
        if _, ok := rhs.Statics[f]; !ok {
            if !self.Statics[f].Eq(TopV()) {
                self.Statics[f] = TopV()
                changed = true
            }
        }
    }
    return changed
}

// Interp is the intra-procedural abstract interpreter.
type Interp struct {
    Scope  *ir.Scope
    MinSdk int64
    Fields FieldValues
}

// Result carries per-block entry environments and edge feasibility after
// the forward fixpoint.
type Result struct {
    In       map[int]*Env
    Out      map[int]*Env
    Feasible map[*ir.Edge]bool
}

// Reachable reports whether the fixpoint ever entered bb.
func (self *Result) Reachable(bb *ir.Block) bool {
    _, ok := self.In[bb.Id]
    return ok
}

var sdkIntField = "Landroid/os/Build$VERSION;.SDK_INT:I"

// Run iterates the transfer to fixpoint from the entry block. seed, when
// non-nil, provides the entry environment (used by the whole-program
// clinit analysis to carry earlier classes' statics).
func (self *Interp) Run(code *ir.Code, seed *Env) *Result {
    res := &Result {
        In       : make(map[int]*Env),
        Out      : make(map[int]*Env),
        Feasible : make(map[*ir.Edge]bool),
    }

    /* seed the entry */
    if seed == nil {
        seed = NewEnv()
    }
    res.In[code.Entry.Id] = seed.Clone()

    /* classic forward worklist */
    wl := lane.NewQueue()
    inq := map[int]bool { code.Entry.Id: true }
    wl.Enqueue(code.Entry)

    for !wl.Empty() {
        bb := wl.Dequeue().(*ir.Block)
        inq[bb.Id] = false

        /* transfer through the block */
        env := res.In[bb.Id].Clone()
        for _, p := range bb.Insns {
            self.Eval(p, env)
        }
        res.Out[bb.Id] = env

        /* push along the feasible successors */
        for _, e := range bb.Succs {
            ee := env
            if !self.feasible(bb, e, env) {
                res.Feasible[e] = false
                continue
            }
            res.Feasible[e] = true

            /* branch refinement on zero-tests */
            ee = self.refine(bb, e, env)

            /* join into the successor */
            if cur, ok := res.In[e.Dst.Id]; !ok {
                res.In[e.Dst.Id] = ee.Clone()
            } else if !cur.JoinWith(ee) {
                continue
            }
            if !inq[e.Dst.Id] {
                inq[e.Dst.Id] = true
                wl.Enqueue(e.Dst)
            }
        }
    }
    return res
}

// Eval applies one instruction's transfer to env.
func (self *Interp) Eval(p *ir.Insn, env *Env) {
    switch p.Op {
        case ir.OpConst        : env.Set(p.Dst, IntV(p.Lit))
        case ir.OpConstWide    : env.Set(p.Dst, IntV(p.Lit))
        case ir.OpConstString  : env.Set(p.Dst, StrV(p.Str))
        case ir.OpConstClass   : env.Set(p.Dst, ClassV(p.TypeRef))

        case ir.OpMove, ir.OpMoveWide, ir.OpMoveObject: {
            env.Set(p.Dst, env.Get(p.Srcs[0]))
        }

        case ir.OpMoveResult, ir.OpMoveResultWide, ir.OpMoveResultObject: {
            env.Set(p.Dst, env.Res)
            env.Res = BottomV()
        }

        case ir.OpMoveException: {
            env.Set(p.Dst, NotNullV())
        }

        case ir.OpLoadParam, ir.OpLoadParamWide, ir.OpLoadParamObject: {
            env.Set(p.Dst, TopV())
        }

        case ir.OpNewInstance: {
            env.Set(p.Dst, SingletonV(p.TypeRef))
        }

        case ir.OpNewArray, ir.OpFilledNewArray: {
            if p.Op == ir.OpFilledNewArray {
                env.Res = NotNullV()
            } else {
                env.Set(p.Dst, NotNullV())
            }
        }

        case ir.OpCheckCast: {
            /* value identity survives the cast */
        }

        case ir.OpInstanceOf: {
            env.Set(p.Dst, self.instanceof(p, env))
        }

        case ir.OpArrayLength, ir.OpAget: {
            env.Set(p.Dst, TopV())
        }

        case ir.OpCmp: {
            env.Set(p.Dst, foldcmp(env.Get(p.Srcs[0]), env.Get(p.Srcs[1])))
        }

        case ir.OpUnop: {
            env.Set(p.Dst, foldunop(p.Unary, env.Get(p.Srcs[0])))
        }

        case ir.OpBinop: {
            env.Set(p.Dst, foldbinop(p.Binary, env.Get(p.Srcs[0]), env.Get(p.Srcs[1])))
        }

        case ir.OpBinopLit: {
            env.Set(p.Dst, foldbinop(p.Binary, env.Get(p.Srcs[0]), IntV(p.Lit)))
        }

        case ir.OpSget: {
            env.Set(p.Dst, self.sget(p, env))
        }

        case ir.OpSput: {
            if f := self.Scope.ResolveField(p.Field, true); f != nil {
                env.Statics[f] = env.Get(p.Srcs[0])
            }
        }

        case ir.OpIget: {
            env.Set(p.Dst, igetattr(p, env))
        }

        case ir.OpIput: {
            /* instance writes do not refine the register state */
        }

        case ir.OpInvokeStatic, ir.OpInvokeDirect, ir.OpInvokeVirtual, ir.OpInvokeInterface, ir.OpInvokeSuper: {
            env.Res = self.invoke(p, env)
        }
    }
}

/* model a few well-known value producers, everything else is Top */
func (self *Interp) invoke(p *ir.Insn, env *Env) Value {
    ref := p.Method
    switch {
        case ref.Owner.Descriptor == "Ljava/lang/Boolean;" && ref.Name == "valueOf": {
            if v := env.Get(p.Srcs[0]); v.IsConstInt() {
                return BoxedBoolV(v.I != 0)
            }
            return NotNullV()
        }

        case ref.Owner.Descriptor == "Ljava/lang/Boolean;" && ref.Name == "booleanValue": {
            if v := env.Get(p.Srcs[0]); v.Kind == BoxedBool {
                return IntV(v.I)
            }
            return TopV()
        }

        case ref.Owner == ir.TypeString && ref.Name == "length": {
            if v := env.Get(p.Srcs[0]); v.Kind == ConstStr {
                return IntV(int64(len(v.S)))
            }
            return TopV()
        }

        case ref.Owner == ir.TypeString && ref.Name == "isEmpty": {
            if v := env.Get(p.Srcs[0]); v.Kind == ConstStr {
                if len(v.S) == 0 {
                    return IntV(1)
                }
                return IntV(0)
            }
            return TopV()
        }

        case ref.IsInit(): {
            /* constructors of small value-like classes attach immutable
             * attributes when every argument is a known constant */
            recv := env.Get(p.Srcs[0])
            if recv.Kind == Singleton && len(p.Srcs) > 1 {
                attrs := make(map[string]int64, len(p.Srcs) - 1)
                for i, r := range p.Srcs[1:] {
                    v := env.Get(r)
                    if !v.IsConstInt() {
                        return BottomV()
                    }
                    attrs[attrname(i)] = v.I
                }
                env.Set(p.Srcs[0], ImmutableObjV(recv.T, attrs))
            }
            return BottomV()
        }
    }

    /* void targets produce nothing */
    if ref.Proto.Ret == ir.TypeVoid {
        return BottomV()
    }
    return TopV()
}

func attrname(i int) string {
    return string(rune('a' + i))
}

func (self *Interp) sget(p *ir.Insn, env *Env) Value {
    /* the SDK level is bounded below by the configured min API */
    if p.Field.String() == sdkIntField {
        return ApiLevelV(self.MinSdk)
    }

    f := self.Scope.ResolveField(p.Field, true)
    if f == nil {
        return TopV()
    }

    /* a static written earlier in this body wins */
    if v, ok := env.Statics[f]; ok {
        return v
    }

    /* enum constants are singletons of their own class */
    if f.IsStatic() && f.IsFinal() && f.Class != nil && f.Class.Access & ir.AccEnum != 0 && f.Ref.Type == f.Class.Type {
        return EnumV(f)
    }

    /* whole-program state */
    if self.Fields != nil {
        if v, ok := self.Fields.StaticValue(f); ok {
            return v
        }
    }
    return TopV()
}

func igetattr(p *ir.Insn, env *Env) Value {
    if v := env.Get(p.Srcs[0]); v.Kind == ImmutableObj {
        if av, ok := v.Attrs[p.Field.Name]; ok {
            return IntV(av)
        }
    }
    return TopV()
}

func (self *Interp) instanceof(p *ir.Insn, env *Env) Value {
    switch v := env.Get(p.Srcs[0]); v.Kind {
        case Null: {
            return IntV(0)
        }
        case Singleton: {
            if v.T == p.TypeRef || self.Scope.IsSubclassOf(v.T, p.TypeRef) || self.Scope.Implements(v.T, p.TypeRef) {
                return IntV(1)
            }
            if self.Scope.ClassOf(v.T) != nil && self.Scope.ClassOf(p.TypeRef) != nil {
                return IntV(0)
            }
            return TopV()
        }
        default: {
            return TopV()
        }
    }
}

/* constant folding helpers */

func foldcmp(x Value, y Value) Value {
    if !x.IsConstInt() || !y.IsConstInt() {
        return TopV()
    }
    switch {
        case x.I < y.I : return IntV(-1)
        case x.I > y.I : return IntV(1)
        default        : return IntV(0)
    }
}

func foldunop(op ir.UnaryOp, v Value) Value {
    if !v.IsConstInt() {
        return TopV()
    }
    switch op {
        case ir.UnNegInt, ir.UnNegLong   : return IntV(-v.I)
        case ir.UnNotInt, ir.UnNotLong   : return IntV(^v.I)
        case ir.UnIntToLong              : return IntV(v.I)
        case ir.UnLongToInt              : return IntV(int64(int32(v.I)))
        case ir.UnIntToByte              : return IntV(int64(int8(v.I)))
        case ir.UnIntToChar              : return IntV(int64(uint16(v.I)))
        case ir.UnIntToShort             : return IntV(int64(int16(v.I)))
        default                          : return TopV()
    }
}

func foldbinop(op ir.BinaryOp, x Value, y Value) Value {
    if !x.IsConstInt() || !y.IsConstInt() {
        return TopV()
    }
    switch op {
        case ir.BinAdd  : return IntV(x.I + y.I)
        case ir.BinSub  : return IntV(x.I - y.I)
        case ir.BinMul  : return IntV(x.I * y.I)
        case ir.BinAnd  : return IntV(x.I & y.I)
        case ir.BinOr   : return IntV(x.I | y.I)
        case ir.BinXor  : return IntV(x.I ^ y.I)
        case ir.BinShl  : return IntV(x.I << uint64(y.I & 63))
        case ir.BinShr  : return IntV(x.I >> uint64(y.I & 63))
        case ir.BinUshr : return IntV(int64(uint64(x.I) >> uint64(y.I & 63)))

        /* division by a constant zero throws at runtime, keep it */
        case ir.BinDiv: {
            if y.I == 0 {
                return TopV()
            }
            return IntV(x.I / y.I)
        }
        case ir.BinRem: {
            if y.I == 0 {
                return TopV()
            }
            return IntV(x.I % y.I)
        }
        default: {
            return TopV()
        }
    }
}

// BranchVerdict is the feasibility of a conditional branch.
type BranchVerdict uint8

const (
    BranchUnknown BranchVerdict = iota
    BranchAlwaysTaken
    BranchNeverTaken
)

// EvalBranch decides a conditional branch under env.
func (self *Interp) EvalBranch(p *ir.Insn, env *Env) BranchVerdict {
    if !p.Op.IsConditionalBranch() {
        return BranchUnknown
    }

    x := env.Get(p.Srcs[0])
    y := IntV(0)
    if !p.Op.IsBranchZero() {
        y = env.Get(p.Srcs[1])
    }

    /* reference null tests */
    if p.Op == ir.OpIfEqz || p.Op == ir.OpIfNez {
        if x.DefinitelyNull() {
            if p.Op == ir.OpIfEqz {
                return BranchAlwaysTaken
            }
            return BranchNeverTaken
        }
        if x.DefinitelyNotNull() {
            if p.Op == ir.OpIfEqz {
                return BranchNeverTaken
            }
            return BranchAlwaysTaken
        }
    }

    /* the API-level domain decides >= / < against known constants */
    if x.Kind == ApiLevel && y.IsConstInt() {
        switch p.Op {
            case ir.OpIfGe : if x.I >= y.I { return BranchAlwaysTaken }
            case ir.OpIfLt : if x.I >= y.I { return BranchNeverTaken }
        }
        return BranchUnknown
    }

    /* integer comparison */
    if !x.IsConstInt() || !y.IsConstInt() {
        return BranchUnknown
    }
    taken := false
    switch p.Op {
        case ir.OpIfEq, ir.OpIfEqz : taken = x.I == y.I
        case ir.OpIfNe, ir.OpIfNez : taken = x.I != y.I
        case ir.OpIfLt, ir.OpIfLtz : taken = x.I <  y.I
        case ir.OpIfGe, ir.OpIfGez : taken = x.I >= y.I
        case ir.OpIfGt, ir.OpIfGtz : taken = x.I >  y.I
        case ir.OpIfLe, ir.OpIfLez : taken = x.I <= y.I
    }
    if taken {
        return BranchAlwaysTaken
    }
    return BranchNeverTaken
}

func (self *Interp) feasible(bb *ir.Block, e *ir.Edge, env *Env) bool {
    tm := bb.Term()
    if tm == nil {
        return true
    }

    /* conditional branches */
    if tm.Op.IsConditionalBranch() {
        switch self.EvalBranch(tm, env) {
            case BranchAlwaysTaken : return e.Kind != ir.EdgeGoto
            case BranchNeverTaken  : return e.Kind != ir.EdgeBranch
            default                : return true
        }
    }

    /* switches on a known constant take exactly one edge */
    if tm.Op == ir.OpSwitch {
        v := env.Get(tm.Srcs[0])
        if !v.IsConstInt() {
            return true
        }
        for _, k := range tm.Keys {
            if k == v.I {
                return e.Kind == ir.EdgeBranch && e.CaseKey == v.I
            }
        }
        return e.Kind == ir.EdgeGoto    // default edge
    }
    return true
}

/* refine zero-test outcomes along the taken / fallthrough edges */
func (self *Interp) refine(bb *ir.Block, e *ir.Edge, env *Env) *Env {
    tm := bb.Term()
    if tm == nil || !tm.Op.IsBranchZero() {
        return env
    }

    r := tm.Srcs[0]
    v := env.Get(r)
    if v.Kind != Top {
        return env
    }

    /* on the taken edge of if-eqz the value is known zero/null, and the
     * other way round for if-nez */
    taken := e.Kind == ir.EdgeBranch
    ne := env.Clone()
    switch tm.Op {
        case ir.OpIfEqz: {
            if taken {
                ne.Set(r, IntV(0))
            }
        }
        case ir.OpIfNez: {
            if !taken {
                ne.Set(r, IntV(0))
            }
        }
        default: {
            return env
        }
    }
    return ne
}
