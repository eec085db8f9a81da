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

package passes

import (
    `testing`

    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`

    `github.com/dexopt/dexopt/internal/ir`
)

func onebb(m *ir.Method, nregs int, insns ...*ir.Insn) *ir.Code {
    code := ir.NewCode(m, nregs)
    bb := code.NewBlock()
    code.SetEntry(bb)
    bb.Append(insns...)
    m.Code = code
    return code
}

func loadparam(dst ir.Reg, slot int64) *ir.Insn {
    p := ir.NewInsn(ir.OpLoadParam, dst)
    p.Lit = slot
    return p
}

func TestRemoveUnusedArgs_DropsDeadStaticArg(t *testing.T) {
    cls := testclass("Lcom/test/uva/A;")

    callee := teststatic(cls, "f", ir.MakeProto(ir.TypeInt, ir.TypeInt, ir.TypeInt))
    onebb(callee, 2,
        loadparam(0, 0),
        loadparam(1, 1),
        ir.NewInsn(ir.OpReturn, ir.NoReg, 0),
    )

    caller := teststatic(cls, "main", ir.MakeProto(ir.TypeVoid))
    onebb(caller, 3,
        ir.NewConst(0, 1),
        ir.NewConst(1, 2),
        ir.NewInvoke(ir.OpInvokeStatic, callee.Ref, 0, 1),
        ir.NewInsn(ir.OpMoveResult, 2),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )

    ctx := testctx("", cls)
    pass := &RemoveUnusedArgs{}
    pass.RunPass(ctx)

    /* the dead second argument disappears from the proto and the name
     * records the rewrite */
    assert.Equal(t, "f$uva$0$0", callee.Ref.Name)
    assert.Equal(t, "(I)I", callee.Ref.Proto.String())

    params := 0
    for _, p := range callee.Code.Entry.Insns {
        if p.Op.IsLoadParam() {
            assert.Equal(t, int64(params), p.Lit)
            params++
        }
    }
    assert.Equal(t, 1, params)

    /* the call site follows */
    var inv *ir.Insn
    for _, p := range caller.Code.Entry.Insns {
        if p.Op == ir.OpInvokeStatic {
            inv = p
        }
    }
    require.NotNil(t, inv)
    assert.Same(t, callee.Ref, inv.Method)
    assert.Equal(t, []ir.Reg { 0 }, inv.Srcs)

    /* the result is still consumed, so the move-result survives */
    found := false
    for _, p := range caller.Code.Entry.Insns {
        if p.Op == ir.OpMoveResult {
            found = true
        }
    }
    assert.True(t, found)

    assert.Equal(t, int64(1), ctx.Metrics.Get("remove_unused_args/groups"))
    assert.Equal(t, int64(1), ctx.Metrics.Get("remove_unused_args/call_sites"))

    require.NotPanics(t, func() { callee.Code.Validate() })
    require.NotPanics(t, func() { caller.Code.Validate() })
}

func TestRemoveUnusedArgs_UnreadResultBecomesVoid(t *testing.T) {
    cls := testclass("Lcom/test/uva/B;")

    callee := teststatic(cls, "g", ir.MakeProto(ir.TypeInt))
    onebb(callee, 1,
        ir.NewConst(0, 7),
        ir.NewInsn(ir.OpReturn, ir.NoReg, 0),
    )

    caller := teststatic(cls, "main", ir.MakeProto(ir.TypeVoid))
    onebb(caller, 1,
        ir.NewInvoke(ir.OpInvokeStatic, callee.Ref),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )

    ctx := testctx("", cls)
    pass := &RemoveUnusedArgs{}
    pass.RunPass(ctx)

    assert.Equal(t, "g$rvp$0$0", callee.Ref.Name)
    assert.Same(t, ir.TypeVoid, callee.Ref.Proto.Ret)
    require.NotNil(t, callee.Code.Entry.Term())
    assert.Equal(t, ir.OpReturnVoid, callee.Code.Entry.Term().Op)

    var inv *ir.Insn
    for _, p := range caller.Code.Entry.Insns {
        if p.Op == ir.OpInvokeStatic {
            inv = p
        }
    }
    require.NotNil(t, inv)
    assert.Same(t, callee.Ref, inv.Method)

    require.NotPanics(t, func() { callee.Code.Validate() })
}

func TestRemoveUnusedArgs_PrivateKeepsReceiver(t *testing.T) {
    cls := testclass("Lcom/test/uva/C;")

    callee := &ir.Method {
        Ref    : ir.MakeMethodRef(cls.Type, "p", ir.MakeProto(ir.TypeVoid, ir.TypeInt)),
        Class  : cls,
        Access : ir.AccPrivate,
    }
    cls.DMethods = append(cls.DMethods, callee)
    onebb(callee, 2,
        loadparam(0, 0),
        loadparam(1, 1),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )

    caller := testvirtual(cls, "call", ir.MakeProto(ir.TypeVoid))
    onebb(caller, 2,
        loadparam(0, 0),
        ir.NewConst(1, 5),
        ir.NewInvoke(ir.OpInvokeDirect, callee.Ref, 0, 1),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )

    ctx := testctx("", cls)
    pass := &RemoveUnusedArgs{}
    pass.RunPass(ctx)

    /* arg 0 is dead but the receiver stays */
    assert.Equal(t, "p$uva$0$0", callee.Ref.Name)
    assert.Equal(t, "()V", callee.Ref.Proto.String())

    var inv *ir.Insn
    for _, p := range caller.Code.Entry.Insns {
        if p.Op == ir.OpInvokeDirect {
            inv = p
        }
    }
    require.NotNil(t, inv)
    assert.Equal(t, []ir.Reg { 0 }, inv.Srcs)

    require.NotPanics(t, func() { callee.Code.Validate() })
    require.NotPanics(t, func() { caller.Code.Validate() })
}

func TestRemoveUnusedArgs_ExternalOverridesFreeze(t *testing.T) {
    cls := testclass("Lcom/test/uva/D;")

    /* super chain leaves the scope, so the signature is pinned */
    m := testvirtual(cls, "v", ir.MakeProto(ir.TypeVoid, ir.TypeInt))
    onebb(m, 2,
        loadparam(0, 0),
        loadparam(1, 1),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )

    ctx := testctx("", cls)
    pass := &RemoveUnusedArgs{}
    pass.RunPass(ctx)

    assert.Equal(t, "v", m.Ref.Name)
    assert.Equal(t, "(I)V", m.Ref.Proto.String())
    assert.Equal(t, int64(0), ctx.Metrics.Get("remove_unused_args/groups"))
}

func TestRemoveUnusedArgs_ConstructorsUntouched(t *testing.T) {
    cls := testclass("Lcom/test/uva/E;")

    init := &ir.Method {
        Ref    : ir.MakeMethodRef(cls.Type, "<init>", ir.MakeProto(ir.TypeVoid, ir.TypeInt)),
        Class  : cls,
        Access : ir.AccPublic | ir.AccConstructor,
    }
    cls.DMethods = append(cls.DMethods, init)
    onebb(init, 2,
        loadparam(0, 0),
        loadparam(1, 1),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )

    ctx := testctx("", cls)
    pass := &RemoveUnusedArgs{}
    pass.RunPass(ctx)

    assert.Equal(t, "<init>", init.Ref.Name)
    assert.Equal(t, "(I)V", init.Ref.Proto.String())
}
