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
    `fmt`
    `testing`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

var (
    sbInit     = ir.MakeMethodRef(sbType, "<init>", ir.MakeProto(ir.TypeVoid))
    sbAppend   = ir.MakeMethodRef(sbType, "append", ir.MakeProto(sbType, ir.TypeString))
    sbToString = ir.MakeMethodRef(sbType, "toString", ir.MakeProto(ir.TypeString))
)

/* str(s) { return new StringBuilder().append(s).toString() } */
func builderchain(cls *ir.Class, name string) *ir.Method {
    m := teststatic(cls, name, ir.MakeProto(ir.TypeString, ir.TypeString))
    code := ir.NewCode(m, 3)
    bb := code.NewBlock()
    code.SetEntry(bb)
    bb.Append(
        &ir.Insn { Op: ir.OpLoadParamObject, Dst: 0 },
        ir.NewTypeOp(ir.OpNewInstance, sbType, 1),
        ir.NewInvoke(ir.OpInvokeDirect, sbInit, 1),
        ir.NewInvoke(ir.OpInvokeVirtual, sbAppend, 1, 0),
        ir.NewInvoke(ir.OpInvokeVirtual, sbToString, 1),
        ir.NewInsn(ir.OpMoveResultObject, 2),
        ir.NewInsn(ir.OpReturnObject, ir.NoReg, 2),
    )
    m.Code = code
    return m
}

func TestStringBuilderOutliner_ReplacesFrequentShape(t *testing.T) {
    cls := testclass("Lsb/Busy;")
    var ms []*ir.Method
    for i := 0; i < 5; i++ {
        ms = append(ms, builderchain(cls, fmt.Sprintf("str%d", i)))
    }

    ctx := testctx("", cls)
    pass := &StringBuilderOutliner{}
    pass.RunPass(ctx)

    require.Equal(t, int64(5), ctx.Metrics.Get("stringbuilder_outliner/chains_outlined"))
    require.Equal(t, int64(1), ctx.Metrics.Get("stringbuilder_outliner/helpers_emitted"))

    /* the helper landed in the generated class */
    helpers := ctx.Scope.ClassOf(concatType)
    require.NotNil(t, helpers)
    require.True(t, helpers.Rstate.Generated)
    helper := helpers.FindDMethod("concat$0", ir.MakeProto(ir.TypeString, ir.TypeString))
    require.NotNil(t, helper)
    require.NotNil(t, helper.Code)

    /* every toString became a static call passing the captured argument */
    for _, m := range ms {
        calls := 0
        for _, bb := range m.Code.Blocks {
            for _, p := range bb.Insns {
                require.False(t, p.Op == ir.OpInvokeVirtual && p.Method == sbToString)
                if p.Op == ir.OpInvokeStatic && p.Method == helper.Ref {
                    calls++
                    assert.Equal(t, []ir.Reg { 0 }, p.Srcs)
                }
            }
        }
        assert.Equal(t, 1, calls)
    }
}

func TestStringBuilderOutliner_RareShapeUntouched(t *testing.T) {
    cls := testclass("Lsb/Rare;")
    m := builderchain(cls, "once")

    ctx := testctx("", cls)
    pass := &StringBuilderOutliner{}
    pass.RunPass(ctx)

    assert.Equal(t, int64(0), ctx.Metrics.Get("stringbuilder_outliner/chains_outlined"))
    assert.Nil(t, ctx.Scope.ClassOf(concatType))

    found := false
    for _, p := range m.Code.Entry.Insns {
        if p.Op == ir.OpInvokeVirtual && p.Method == sbToString {
            found = true
        }
    }
    assert.True(t, found)
}

func TestStringBuilderOutliner_EscapedBuilderIgnored(t *testing.T) {
    cls := testclass("Lsb/Escape;")
    var ms []*ir.Method
    for i := 0; i < 5; i++ {
        m := builderchain(cls, fmt.Sprintf("esc%d", i))
        /* an unrelated use of the builder register in between */
        ins := m.Code.Entry.Insns
        clobbered := append([]*ir.Insn(nil), ins[:4]...)
        clobbered = append(clobbered, ir.NewInsn(ir.OpMoveObject, 2, 1))
        clobbered = append(clobbered, ins[4:]...)
        m.Code.Entry.Insns = clobbered
        ms = append(ms, m)
    }

    ctx := testctx("", cls)
    pass := &StringBuilderOutliner{}
    pass.RunPass(ctx)
    assert.Equal(t, int64(0), ctx.Metrics.Get("stringbuilder_outliner/chains_outlined"))
}
