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

package shrinker

import (
    `testing`

    `github.com/dexopt/dexopt/internal/analysis/override`
    `github.com/dexopt/dexopt/internal/analysis/purity`
    `github.com/dexopt/dexopt/internal/config`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/opts`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func mkclass(desc string) *ir.Class {
    return &ir.Class {
        Type   : ir.MakeType(desc),
        Super  : ir.TypeObject,
        Access : ir.AccPublic,
    }
}

func addstatic(cls *ir.Class, name string, proto *ir.Proto) *ir.Method {
    m := &ir.Method {
        Ref    : ir.MakeMethodRef(cls.Type, name, proto),
        Class  : cls,
        Access : ir.AccPublic | ir.AccStatic,
    }
    cls.DMethods = append(cls.DMethods, m)
    return m
}

func allsteps() Config {
    return Config {
        RunConstProp       : true,
        RunCSE             : true,
        RunCopyProp        : true,
        RunLocalDCE        : true,
        RunRegAlloc        : true,
        RunDedupBlocks     : true,
        RunBranchHoisting  : true,
        ComputePureMethods : true,
    }
}

func TestShrink_ConstBranchCollapse(t *testing.T) {
    cls := mkclass("Lcom/test/Collapse;")
    m := addstatic(cls, "pick", ir.MakeProto(ir.TypeInt))
    code := ir.NewCode(m, 1)
    m.Code = code

    entry := code.NewBlock()
    zero := code.NewBlock()
    nonzero := code.NewBlock()
    code.SetEntry(entry)

    /* const 7 never takes the eqz side */
    entry.Append(
        ir.NewConst(0, 7),
        ir.NewInsn(ir.OpIfEqz, ir.NoReg, 0),
    )
    zero.Append(
        ir.NewConst(0, 0),
        ir.NewInsn(ir.OpReturn, ir.NoReg, 0),
    )
    nonzero.Append(ir.NewInsn(ir.OpReturn, ir.NoReg, 0))

    code.AddEdge(entry, nonzero, ir.EdgeGoto)
    code.AddBranchEdge(entry, zero, 1)

    scope := ir.NewScope([]*ir.Class { cls })
    sh := New(allsteps(), opts.GetDefaultOptions(), scope, 21, nil, purity.Config{}, nil)

    require.True(t, sh.Shrink(m))

    /* the decided branch and its arm are gone */
    require.Len(t, code.Blocks, 2)
    assert.Nil(t, code.Entry.Term())
    assert.Equal(t, nonzero, code.Entry.GotoSucc())
    assert.GreaterOrEqual(t, sh.Stats().BranchesRemoved, int64(1))
    assert.GreaterOrEqual(t, sh.Stats().BlocksRemoved, int64(1))
}

func TestShrink_ConstFoldsThroughArithmetic(t *testing.T) {
    cls := mkclass("Lcom/test/Fold;")
    m := addstatic(cls, "f", ir.MakeProto(ir.TypeInt))
    code := ir.NewCode(m, 3)
    m.Code = code

    bb := code.NewBlock()
    code.SetEntry(bb)

    mul := ir.NewInsn(ir.OpBinop, 2, 0, 1)
    mul.Binary = ir.BinMul
    bb.Append(
        ir.NewConst(0, 6),
        ir.NewConst(1, 7),
        mul,
        ir.NewInsn(ir.OpReturn, ir.NoReg, 2),
    )

    scope := ir.NewScope([]*ir.Class { cls })
    sh := New(allsteps(), opts.GetDefaultOptions(), scope, 21, nil, purity.Config{}, nil)
    require.True(t, sh.Shrink(m))

    /* the multiply became a const and its operands died */
    var ret *ir.Insn
    for _, p := range code.Entry.Insns {
        if p.Op == ir.OpReturn {
            ret = p
        } else {
            require.Equal(t, ir.OpConst, p.Op)
        }
    }
    require.NotNil(t, ret)

    /* exactly one const feeds the return, holding 42 */
    require.Len(t, code.Entry.Insns, 2)
    assert.EqualValues(t, 42, code.Entry.Insns[0].Lit)
    assert.GreaterOrEqual(t, sh.Stats().ConstsFolded, int64(1))
    assert.GreaterOrEqual(t, sh.Stats().InsnsRemoved, int64(2))
}

func TestShrink_CSEArithmetic(t *testing.T) {
    cls := mkclass("Lcom/test/Cse;")
    m := addstatic(cls, "g", ir.MakeProto(ir.TypeInt, ir.TypeInt))
    code := ir.NewCode(m, 4)
    m.Code = code

    bb := code.NewBlock()
    code.SetEntry(bb)

    a1 := ir.NewInsn(ir.OpBinop, 1, 0, 0)
    a1.Binary = ir.BinAdd
    a2 := ir.NewInsn(ir.OpBinop, 2, 0, 0)
    a2.Binary = ir.BinAdd
    sum := ir.NewInsn(ir.OpBinop, 3, 1, 2)
    sum.Binary = ir.BinAdd
    bb.Append(
        ir.NewInsn(ir.OpLoadParam, 0),
        a1,
        a2,
        sum,
        ir.NewInsn(ir.OpReturn, ir.NoReg, 3),
    )

    scope := ir.NewScope([]*ir.Class { cls })
    sh := New(allsteps(), opts.GetDefaultOptions(), scope, 21, nil, purity.Config{}, nil)
    require.True(t, sh.Shrink(m))

    /* one of the two identical adds of the parameter is gone */
    var param ir.Reg = ir.NoReg
    adds := 0
    for _, p := range code.Entry.Insns {
        if p.Op == ir.OpLoadParam {
            param = p.Dst
        }
        if p.Op == ir.OpBinop && len(p.Srcs) == 2 && p.Srcs[0] == param && p.Srcs[1] == param {
            adds++
        }
    }
    assert.Equal(t, 1, adds)
    assert.GreaterOrEqual(t, sh.Stats().CSEHits, int64(1))
}

func TestShrink_CSEOfPureCall(t *testing.T) {
    cls := mkclass("Lcom/test/PureHost;")

    /* a pure callee: doubles its argument */
    callee := addstatic(cls, "twice", ir.MakeProto(ir.TypeInt, ir.TypeInt))
    cc := ir.NewCode(callee, 2)
    callee.Code = cc
    cb := cc.NewBlock()
    cc.SetEntry(cb)
    dbl := ir.NewInsn(ir.OpBinop, 1, 0, 0)
    dbl.Binary = ir.BinAdd
    cb.Append(
        ir.NewInsn(ir.OpLoadParam, 0),
        dbl,
        ir.NewInsn(ir.OpReturn, ir.NoReg, 1),
    )

    /* the caller invokes it twice with the same argument */
    caller := addstatic(cls, "h", ir.MakeProto(ir.TypeInt, ir.TypeInt))
    code := ir.NewCode(caller, 4)
    caller.Code = code
    bb := code.NewBlock()
    code.SetEntry(bb)
    sum := ir.NewInsn(ir.OpBinop, 3, 1, 2)
    sum.Binary = ir.BinAdd
    bb.Append(
        ir.NewInsn(ir.OpLoadParam, 0),
        ir.NewInvoke(ir.OpInvokeStatic, callee.Ref, 0),
        ir.NewInsn(ir.OpMoveResult, 1),
        ir.NewInvoke(ir.OpInvokeStatic, callee.Ref, 0),
        ir.NewInsn(ir.OpMoveResult, 2),
        sum,
        ir.NewInsn(ir.OpReturn, ir.NoReg, 3),
    )

    scope := ir.NewScope([]*ir.Class { cls })
    og := override.Build(scope)
    sh := New(allsteps(), opts.GetDefaultOptions(), scope, 21, og, purity.Config{}, nil)
    require.NotNil(t, sh.Purity())

    require.True(t, sh.Shrink(caller))

    /* the second identical call to the pure callee is eliminated */
    calls := 0
    for _, p := range code.Entry.Insns {
        if p.Op == ir.OpInvokeStatic {
            calls++
        }
    }
    assert.Equal(t, 1, calls)
    assert.GreaterOrEqual(t, sh.Stats().CSEHits, int64(1))
}

func TestShrink_DeadCodeRemoved(t *testing.T) {
    cls := mkclass("Lcom/test/Dead;")
    m := addstatic(cls, "d", ir.MakeProto(ir.TypeVoid))
    code := ir.NewCode(m, 2)
    m.Code = code

    bb := code.NewBlock()
    code.SetEntry(bb)
    bb.Append(
        ir.NewConst(0, 1),
        ir.NewConstString(1, "unused"),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )

    scope := ir.NewScope([]*ir.Class { cls })
    sh := New(allsteps(), opts.GetDefaultOptions(), scope, 21, nil, purity.Config{}, nil)
    require.True(t, sh.Shrink(m))

    require.Len(t, code.Entry.Insns, 1)
    assert.Equal(t, ir.OpReturnVoid, code.Entry.Insns[0].Op)
}

func TestShrink_NoChangeReportsFalse(t *testing.T) {
    cls := mkclass("Lcom/test/Stable;")
    m := addstatic(cls, "s", ir.MakeProto(ir.TypeInt, ir.TypeInt))
    code := ir.NewCode(m, 1)
    m.Code = code

    bb := code.NewBlock()
    code.SetEntry(bb)
    bb.Append(
        ir.NewInsn(ir.OpLoadParam, 0),
        ir.NewInsn(ir.OpReturn, ir.NoReg, 0),
    )

    scope := ir.NewScope([]*ir.Class { cls })
    sh := New(allsteps(), opts.GetDefaultOptions(), scope, 21, nil, purity.Config{}, nil)
    assert.False(t, sh.Shrink(m))
    assert.False(t, sh.Shrink(&ir.Method { Ref: m.Ref, Access: m.Access }))
}

func TestConfigFrom(t *testing.T) {
    cfg := config.Wrap([]byte(`{ "shrinker": { "run_cse": false, "run_reg_alloc": false } }`))
    c := ConfigFrom(cfg)
    assert.False(t, c.RunCSE)
    assert.False(t, c.RunRegAlloc)
    assert.True(t, c.RunConstProp)
    assert.True(t, c.RunLocalDCE)
    assert.True(t, c.ComputePureMethods)
}

func TestDedupBlocks_MergesIdenticalReturns(t *testing.T) {
    cls := mkclass("Lcom/test/Dedup;")
    m := addstatic(cls, "d", ir.MakeProto(ir.TypeInt, ir.TypeInt))
    code := ir.NewCode(m, 2)
    m.Code = code

    entry := code.NewBlock()
    t1 := code.NewBlock()
    t2 := code.NewBlock()
    code.SetEntry(entry)

    entry.Append(
        ir.NewInsn(ir.OpLoadParam, 0),
        ir.NewInsn(ir.OpIfEqz, ir.NoReg, 0),
    )
    t1.Append(
        ir.NewConst(1, 5),
        ir.NewInsn(ir.OpReturn, ir.NoReg, 1),
    )
    t2.Append(
        ir.NewConst(1, 5),
        ir.NewInsn(ir.OpReturn, ir.NoReg, 1),
    )

    code.AddBranchEdge(entry, t1, 1)
    code.AddEdge(entry, t2, ir.EdgeGoto)
    code.Validate()

    scope := ir.NewScope([]*ir.Class { cls })
    sh := New(allsteps(), opts.GetDefaultOptions(), scope, 21, nil, purity.Config{}, nil)

    require.True(t, sh.DedupBlocks(m))
    assert.Len(t, code.Blocks, 2)
    assert.Equal(t, int64(1), sh.Stats().BlocksMerged)
    require.NotPanics(t, func() { code.Validate() })
}

func addsfield(cls *ir.Class, name string) *ir.Field {
    f := &ir.Field {
        Ref    : ir.MakeFieldRef(cls.Type, name, ir.TypeInt),
        Class  : cls,
        Access : ir.AccPublic | ir.AccStatic,
    }
    cls.SFields = append(cls.SFields, f)
    return f
}

func TestCSE_FieldReadSurvivesUnrelatedStore(t *testing.T) {
    cls := mkclass("Lcom/test/Loc;")
    f := addsfield(cls, "f")
    g := addsfield(cls, "g")

    m := addstatic(cls, "k", ir.MakeProto(ir.TypeInt))
    code := ir.NewCode(m, 3)
    m.Code = code
    bb := code.NewBlock()
    code.SetEntry(bb)

    /* the store in between touches a different field */
    bb.Append(
        ir.NewFieldOp(ir.OpSget, f.Ref, 0),
        ir.NewConst(1, 1),
        ir.NewFieldOp(ir.OpSput, g.Ref, ir.NoReg, 1),
        ir.NewFieldOp(ir.OpSget, f.Ref, 2),
        ir.NewInsn(ir.OpReturn, ir.NoReg, 2),
    )

    scope := ir.NewScope([]*ir.Class { cls })
    sh := New(Config { RunCSE: true }, opts.GetDefaultOptions(), scope, 21, nil, purity.Config{}, nil)

    require.True(t, sh.CSE(m))
    gets := 0
    for _, p := range bb.Insns {
        if p.Op == ir.OpSget {
            gets++
        }
    }
    assert.Equal(t, 1, gets)
    assert.Equal(t, int64(1), sh.Stats().CSEHits)
    require.NotPanics(t, func() { code.Validate() })
}

func TestCSE_FieldReadKilledBySameFieldStore(t *testing.T) {
    cls := mkclass("Lcom/test/LocKill;")
    f := addsfield(cls, "f")

    m := addstatic(cls, "k", ir.MakeProto(ir.TypeInt))
    code := ir.NewCode(m, 3)
    m.Code = code
    bb := code.NewBlock()
    code.SetEntry(bb)

    bb.Append(
        ir.NewFieldOp(ir.OpSget, f.Ref, 0),
        ir.NewConst(1, 1),
        ir.NewFieldOp(ir.OpSput, f.Ref, ir.NoReg, 1),
        ir.NewFieldOp(ir.OpSget, f.Ref, 2),
        ir.NewInsn(ir.OpReturn, ir.NoReg, 2),
    )

    scope := ir.NewScope([]*ir.Class { cls })
    sh := New(Config { RunCSE: true }, opts.GetDefaultOptions(), scope, 21, nil, purity.Config{}, nil)

    /* both reads stay, the second observes the new value */
    assert.False(t, sh.CSE(m))
    assert.Equal(t, int64(0), sh.Stats().CSEHits)
}

/* a diamond whose arms only become identical after the shared tails merge
 * and the common prefix hoists, so full cleanup needs a second round */
func twoRoundShape() (*ir.Method, *ir.Code) {
    cls := mkclass("Lcom/test/Rounds;")
    m := addstatic(cls, "r", ir.MakeProto(ir.TypeInt, ir.TypeInt))
    code := ir.NewCode(m, 2)
    m.Code = code

    entry := code.NewBlock()
    left := code.NewBlock()
    right := code.NewBlock()
    tl := code.NewBlock()
    tr := code.NewBlock()
    code.SetEntry(entry)

    entry.Append(
        ir.NewInsn(ir.OpLoadParam, 0),
        ir.NewInsn(ir.OpIfEqz, ir.NoReg, 0),
    )
    code.AddBranchEdge(entry, left, 1)
    code.AddEdge(entry, right, ir.EdgeGoto)

    left.Append(ir.NewConst(1, 7))
    code.AddEdge(left, tl, ir.EdgeGoto)
    right.Append(ir.NewConst(1, 7))
    code.AddEdge(right, tr, ir.EdgeGoto)

    tl.Append(ir.NewInsn(ir.OpReturn, ir.NoReg, 1))
    tr.Append(ir.NewInsn(ir.OpReturn, ir.NoReg, 1))
    return m, code
}

func TestShrink_MaxRoundsBoundsFixpoint(t *testing.T) {
    cfg := Config { RunDedupBlocks: true, RunBranchHoisting: true }

    /* one round: the tails merge and the consts hoist, the emptied arms
     * stay split */
    m1, c1 := twoRoundShape()
    capped := opts.GetDefaultOptions()
    capped.MaxShrinkRounds = 1
    sh1 := New(cfg, capped, ir.NewScope([]*ir.Class { m1.Class }), 21, nil, purity.Config{}, nil)
    require.True(t, sh1.Shrink(m1))
    assert.Len(t, c1.Blocks, 4)
    assert.Equal(t, int64(1), sh1.Stats().BlocksMerged)

    /* unrestricted: the second round folds the arms too */
    m2, c2 := twoRoundShape()
    sh2 := New(cfg, opts.GetDefaultOptions(), ir.NewScope([]*ir.Class { m2.Class }), 21, nil, purity.Config{}, nil)
    require.True(t, sh2.Shrink(m2))
    assert.Len(t, c2.Blocks, 3)
    assert.Equal(t, int64(2), sh2.Stats().BlocksMerged)
    require.NotPanics(t, func() { c2.Validate() })
}
