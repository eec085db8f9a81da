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
    `strings`
    `testing`

    `github.com/dexopt/dexopt/internal/dexstore`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/profile`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func callerbody(m *ir.Method, callee *ir.MethodRef) {
    code := ir.NewCode(m, 0)
    bb := code.NewBlock()
    code.SetEntry(bb)
    bb.Append(
        ir.NewInvoke(ir.OpInvokeStatic, callee),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )
    m.Code = code
}

func TestDexReshuffle_CoLocatesSoleUser(t *testing.T) {
    /* B calls its own helper, A in another DEX calls the same helper */
    b := testclass("Lshuf/B;")
    helper := teststatic(b, "work", ir.MakeProto(ir.TypeVoid))
    entry := teststatic(b, "entry", ir.MakeProto(ir.TypeVoid))
    code := ir.NewCode(helper, 0)
    bb := code.NewBlock()
    code.SetEntry(bb)
    bb.Append(ir.NewInsn(ir.OpReturnVoid, ir.NoReg))
    helper.Code = code
    callerbody(entry, helper.Ref)

    a := testclass("Lshuf/A;")
    callerbody(teststatic(a, "use", ir.MakeProto(ir.TypeVoid)), helper.Ref)

    p := testclass("Lshuf/Primary;")
    ctx := testctx("", p, a, b)
    ctx.World = dexstore.NewWorld([][]*ir.Class {
        { p },
        { a },
        { b },
    })
    require.Equal(t, 1, ctx.World.CrossDexRefs())

    pass := &DexReshuffle{}
    pass.RunPass(ctx)

    assert.Equal(t, 0, ctx.World.CrossDexRefs())
    assert.Same(t, ctx.World.FileOf(a), ctx.World.FileOf(b))
    assert.GreaterOrEqual(t, ctx.Metrics.Get("dex_reshuffle/moves"), int64(1))

    /* the emptied secondary is compacted away */
    assert.Len(t, ctx.World.Root().Files, 2)
}

/* A in one secondary calls B's helper in another, nothing else */
func crossworld() (*Context, *ir.Class, *ir.Class) {
    b := testclass("Lshuf/B;")
    work := teststatic(b, "work", ir.MakeProto(ir.TypeVoid))
    code := ir.NewCode(work, 0)
    bb := code.NewBlock()
    code.SetEntry(bb)
    bb.Append(ir.NewInsn(ir.OpReturnVoid, ir.NoReg))
    work.Code = code

    a := testclass("Lshuf/A;")
    callerbody(teststatic(a, "use", ir.MakeProto(ir.TypeVoid)), work.Ref)

    p := testclass("Lshuf/Primary;")
    ctx := testctx("", p, a, b)
    ctx.World = dexstore.NewWorld([][]*ir.Class {
        { p },
        { a },
        { b },
    })
    return ctx, a, b
}

func TestDexReshuffle_MovesDefinitionOnlyClass(t *testing.T) {
    /* B's helper has no caller inside B's own DEX; the definition alone
     * must anchor the symbol so the cross-DEX call site attracts it */
    ctx, a, b := crossworld()
    require.Equal(t, 1, ctx.World.CrossDexRefs())

    pass := &DexReshuffle{}
    pass.RunPass(ctx)

    assert.GreaterOrEqual(t, ctx.Metrics.Get("dex_reshuffle/moves"), int64(1))
    assert.Equal(t, 0, ctx.World.CrossDexRefs())
    assert.Same(t, ctx.World.FileOf(a), ctx.World.FileOf(b))
    assert.Len(t, ctx.World.Root().Files, 2)
}

func TestDexReshuffle_StartupClassesStay(t *testing.T) {
    ctx, a, b := crossworld()
    cb, err := profile.ParseClassBands(strings.NewReader("Lshuf/A;\nLshuf/B;\n"), ctx.Scope)
    require.NoError(t, err)
    ctx.Bands = cb

    pass := &DexReshuffle{}
    pass.RunPass(ctx)

    assert.Equal(t, int64(0), ctx.Metrics.Get("dex_reshuffle/moves"))
    assert.Equal(t, 1, ctx.World.CrossDexRefs())
    assert.Same(t, ctx.World.Root().Files[1], ctx.World.FileOf(a))
    assert.Same(t, ctx.World.Root().Files[2], ctx.World.FileOf(b))
}

func TestDexReshuffle_HotSampledClassesStay(t *testing.T) {
    /* both classes land in the top appear quartile of the samples */
    ctx, a, b := crossworld()
    ctx.ProfileData = profile.Data {
        "cold_start": {
            "Lshuf/A;.use:()V"  : { AppearPercent: 95 },
            "Lshuf/B;.work:()V" : { AppearPercent: 95 },
        },
    }

    pass := &DexReshuffle{}
    pass.RunPass(ctx)

    assert.Equal(t, int64(0), ctx.Metrics.Get("dex_reshuffle/moves"))
    assert.Same(t, ctx.World.Root().Files[1], ctx.World.FileOf(a))
    assert.Same(t, ctx.World.Root().Files[2], ctx.World.FileOf(b))
}

func TestDexReshuffle_NoMoveWithoutGain(t *testing.T) {
    /* self-contained classes have nothing to gain from moving */
    a := testclass("Lshuf/Alone;")
    b := testclass("Lshuf/AlsoAlone;")
    p := testclass("Lshuf/Main;")

    ctx := testctx("", p, a, b)
    ctx.World = dexstore.NewWorld([][]*ir.Class {
        { p },
        { a },
        { b },
    })

    pass := &DexReshuffle{}
    pass.RunPass(ctx)

    assert.Equal(t, int64(0), ctx.Metrics.Get("dex_reshuffle/moves"))
    assert.Same(t, ctx.World.Root().Files[1], ctx.World.FileOf(a))
    assert.Same(t, ctx.World.Root().Files[2], ctx.World.FileOf(b))
}
