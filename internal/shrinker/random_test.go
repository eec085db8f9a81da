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
    `fmt`
    `testing`

    `github.com/brianvoe/gofakeit/v6`
    `github.com/dexopt/dexopt/internal/analysis/purity`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/opts`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

// Randomized constant chains: whatever the shape, the shrinker must fold
// the whole method down to a single constant load.
func TestShrink_RandomConstantChains(t *testing.T) {
    gofakeit.Seed(1234)
    cls := mkclass("Lcom/test/RandomChains;")

    type expect struct {
        m   *ir.Method
        sum int64
    }
    var cases []expect

    for i := 0; i < 25; i++ {
        m := addstatic(cls, fmt.Sprintf("chain%d", i), ir.MakeProto(ir.TypeInt))
        steps := gofakeit.Number(1, 10)
        sum := int64(gofakeit.Number(0, 100))

        code := ir.NewCode(m, 1)
        bb := code.NewBlock()
        code.SetEntry(bb)
        bb.Append(ir.NewConst(0, sum))

        for j := 0; j < steps; j++ {
            n := int64(gofakeit.Number(0, 100))
            add := ir.NewInsn(ir.OpBinopLit, 0, 0)
            add.Binary = ir.BinAdd
            add.Lit = n
            bb.Append(add)
            sum += n
        }

        bb.Append(ir.NewInsn(ir.OpReturn, ir.NoReg, 0))
        m.Code = code
        code.Validate()
        cases = append(cases, expect { m: m, sum: sum })
    }

    scope := ir.NewScope([]*ir.Class { cls })
    sh := New(allsteps(), opts.GetDefaultOptions(), scope, 21, nil, purity.Config{}, nil)

    for _, c := range cases {
        require.True(t, sh.Shrink(c.m), "method %s", c.m.Ref)
        insns := c.m.Code.Entry.Insns
        require.Len(t, insns, 2, "method %s", c.m.Ref)
        assert.Equal(t, ir.OpConst, insns[0].Op)
        assert.Equal(t, c.sum, insns[0].Lit)
        require.NotPanics(t, func() { c.m.Code.Validate() })
    }
}
