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

/* a leaf static with no outside references, safe to move anywhere */
func relocand(cls *ir.Class, name string) *ir.Method {
    m := teststatic(cls, name, ir.MakeProto(ir.TypeInt))
    onebb(m, 1,
        ir.NewConst(0, 3),
        ir.NewInsn(ir.OpReturn, ir.NoReg, 0),
    )
    return m
}

func callsite(cls *ir.Class, name string, callee *ir.MethodRef) *ir.Method {
    m := teststatic(cls, name, ir.MakeProto(ir.TypeVoid))
    onebb(m, 1,
        ir.NewInvoke(ir.OpInvokeStatic, callee),
        ir.NewInsn(ir.OpMoveResult, 0),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )
    return m
}

func TestStaticRelo_MovesSingleCallerStatic(t *testing.T) {
    a := testclass("Lcom/test/relo/A;")
    b := testclass("Lcom/test/relo/B;")
    util := relocand(a, "util")
    caller := callsite(b, "main", util.Ref)

    ctx := testctx("", a, b)
    pass := &StaticRelo{}
    pass.RunPass(ctx)

    assert.Equal(t, int64(1), ctx.Metrics.Get("static_relo/methods_relocated"))
    assert.Same(t, b, util.Class)
    assert.Same(t, b.Type, util.Ref.Owner)
    assert.Equal(t, "util", util.Ref.Name)
    assert.NotZero(t, util.Access & ir.AccPublic)
    assert.Zero(t, util.Access & ir.AccPrivate)

    assert.NotContains(t, a.DMethods, util)
    assert.Contains(t, b.DMethods, util)

    /* the call site tracks the new owner */
    var inv *ir.Insn
    for _, p := range caller.Code.Entry.Insns {
        if p.Op == ir.OpInvokeStatic {
            inv = p
        }
    }
    require.NotNil(t, inv)
    assert.Same(t, util.Ref, inv.Method)
}

func TestStaticRelo_RenamesOnCollision(t *testing.T) {
    a := testclass("Lcom/test/relo/C;")
    b := testclass("Lcom/test/relo/D;")
    util := relocand(a, "util")
    relocand(b, "util")     // same name and proto already lives in b
    callsite(b, "main", util.Ref)

    /* keep the resident b.util alive so it is not itself a candidate */
    callsite(a, "keep", ir.MakeMethodRef(b.Type, "util", util.Ref.Proto))
    callsite(b, "keep2", ir.MakeMethodRef(b.Type, "util", util.Ref.Proto))

    ctx := testctx("", a, b)
    pass := &StaticRelo{}
    pass.RunPass(ctx)

    assert.Same(t, b, util.Class)
    assert.Equal(t, "util$relo0", util.Ref.Name)
}

func TestStaticRelo_TwoCallingClassesPin(t *testing.T) {
    a := testclass("Lcom/test/relo/E;")
    b := testclass("Lcom/test/relo/F;")
    c := testclass("Lcom/test/relo/G;")
    util := relocand(a, "util")
    callsite(b, "main", util.Ref)
    callsite(c, "main", util.Ref)

    ctx := testctx("", a, b, c)
    pass := &StaticRelo{}
    pass.RunPass(ctx)

    assert.Equal(t, int64(0), ctx.Metrics.Get("static_relo/methods_relocated"))
    assert.Same(t, a, util.Class)
}

func TestStaticRelo_PrivateFieldTouchPins(t *testing.T) {
    a := testclass("Lcom/test/relo/H;")
    b := testclass("Lcom/test/relo/I;")

    a.SFields = append(a.SFields, &ir.Field {
        Ref    : ir.MakeFieldRef(a.Type, "secret", ir.TypeInt),
        Class  : a,
        Access : ir.AccPrivate | ir.AccStatic,
    })

    m := teststatic(a, "peek", ir.MakeProto(ir.TypeInt))
    onebb(m, 1,
        ir.NewFieldOp(ir.OpSget, a.SFields[0].Ref, 0),
        ir.NewInsn(ir.OpReturn, ir.NoReg, 0),
    )
    callsite(b, "main", m.Ref)

    ctx := testctx("", a, b)
    pass := &StaticRelo{}
    pass.RunPass(ctx)

    assert.Equal(t, int64(0), ctx.Metrics.Get("static_relo/methods_relocated"))
    assert.Same(t, a, m.Class)
}
