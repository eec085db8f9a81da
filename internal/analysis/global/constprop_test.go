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

package global

import (
    `testing`

    `github.com/dexopt/dexopt/internal/analysis/absint`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func classWithStatic(desc string, field string, init int64) (*ir.Class, *ir.Field) {
    cls := &ir.Class {
        Type   : ir.MakeType(desc),
        Super  : ir.TypeObject,
        Access : ir.AccPublic,
    }
    f := &ir.Field {
        Ref    : ir.MakeFieldRef(cls.Type, field, ir.TypeInt),
        Class  : cls,
        Access : ir.AccPublic | ir.AccStatic | ir.AccFinal,
    }
    cls.SFields = append(cls.SFields, f)

    /* <clinit> stores the constant */
    m := &ir.Method {
        Ref    : ir.MakeMethodRef(cls.Type, "<clinit>", ir.MakeProto(ir.TypeVoid)),
        Class  : cls,
        Access : ir.AccStatic | ir.AccConstructor,
    }
    code := ir.NewCode(m, 1)
    m.Code = code
    bb := code.NewBlock()
    code.SetEntry(bb)
    bb.Append(
        ir.NewConst(0, init),
        ir.NewFieldOp(ir.OpSput, f.Ref, ir.NoReg, 0),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )
    cls.DMethods = append(cls.DMethods, m)
    return cls, f
}

func TestCompute_LiftsClinitConstant(t *testing.T) {
    cls, f := classWithStatic("Lcom/test/gl/Consts;", "LIMIT", 42)
    scope := ir.NewScope([]*ir.Class { cls })

    st := Compute(scope, 21)
    require.NotNil(t, st)

    v, ok := st.StaticValue(f)
    require.True(t, ok)
    require.True(t, v.IsConstInt())
    assert.EqualValues(t, 42, v.I)
    assert.GreaterOrEqual(t, st.StaticCount(), 1)
}

func TestCompute_EscapedStaticNotLifted(t *testing.T) {
    cls, f := classWithStatic("Lcom/test/gl/Mutable;", "state", 1)

    /* a second method reassigns the field, so its value is not stable */
    m := &ir.Method {
        Ref    : ir.MakeMethodRef(cls.Type, "poke", ir.MakeProto(ir.TypeVoid)),
        Class  : cls,
        Access : ir.AccPublic | ir.AccStatic,
    }
    code := ir.NewCode(m, 1)
    m.Code = code
    bb := code.NewBlock()
    code.SetEntry(bb)
    bb.Append(
        ir.NewConst(0, 99),
        ir.NewFieldOp(ir.OpSput, f.Ref, ir.NoReg, 0),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )
    cls.DMethods = append(cls.DMethods, m)

    scope := ir.NewScope([]*ir.Class { cls })
    st := Compute(scope, 21)

    _, ok := st.StaticValue(f)
    assert.False(t, ok)
}

func TestCompute_CrossClassDependency(t *testing.T) {
    /* B's initializer reads A's constant */
    a, fa := classWithStatic("Lcom/test/gl/A;", "BASE", 10)

    b := &ir.Class {
        Type   : ir.MakeType("Lcom/test/gl/B;"),
        Super  : ir.TypeObject,
        Access : ir.AccPublic,
    }
    fb := &ir.Field {
        Ref    : ir.MakeFieldRef(b.Type, "DERIVED", ir.TypeInt),
        Class  : b,
        Access : ir.AccPublic | ir.AccStatic | ir.AccFinal,
    }
    b.SFields = append(b.SFields, fb)

    m := &ir.Method {
        Ref    : ir.MakeMethodRef(b.Type, "<clinit>", ir.MakeProto(ir.TypeVoid)),
        Class  : b,
        Access : ir.AccStatic | ir.AccConstructor,
    }
    code := ir.NewCode(m, 2)
    m.Code = code
    bb := code.NewBlock()
    code.SetEntry(bb)
    add := ir.NewInsn(ir.OpBinopLit, 1, 0)
    add.Binary = ir.BinAdd
    add.Lit = 5
    bb.Append(
        ir.NewFieldOp(ir.OpSget, fa.Ref, 0),
        add,
        ir.NewFieldOp(ir.OpSput, fb.Ref, ir.NoReg, 1),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )
    b.DMethods = append(b.DMethods, m)

    scope := ir.NewScope([]*ir.Class { a, b })
    st := Compute(scope, 21)

    v, ok := st.StaticValue(fb)
    require.True(t, ok)
    assert.EqualValues(t, 15, v.I)
}

func TestState_ImplementsFieldValues(t *testing.T) {
    var _ absint.FieldValues = (*State)(nil)
}
