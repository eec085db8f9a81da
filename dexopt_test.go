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

package dexopt

import (
    `fmt`
    `strings`
    `testing`

    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`

    `github.com/dexopt/dexopt/internal/dexstore`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/opts`
    `github.com/dexopt/dexopt/internal/passes`
    `github.com/dexopt/dexopt/internal/profile`
    `github.com/dexopt/dexopt/internal/wq`
)

/* one class with a static method whose branch folds on a constant, with
 * a field store in each arm so dead code elimination keeps the survivor */
func foldableClass(desc string) *ir.Class {
    cls := &ir.Class {
        Type   : ir.MakeType(desc),
        Super  : ir.TypeObject,
        Access : ir.AccPublic,
    }
    out := &ir.Field {
        Ref    : ir.MakeFieldRef(cls.Type, "out", ir.TypeInt),
        Class  : cls,
        Access : ir.AccPublic | ir.AccStatic,
    }
    cls.SFields = append(cls.SFields, out)

    m := &ir.Method {
        Ref    : ir.MakeMethodRef(cls.Type, "run", ir.MakeProto(ir.TypeVoid)),
        Class  : cls,
        Access : ir.AccPublic | ir.AccStatic,
    }
    cls.DMethods = append(cls.DMethods, m)

    code := ir.NewCode(m, 1)
    entry := code.NewBlock()
    zero := code.NewBlock()
    nonzero := code.NewBlock()
    code.SetEntry(entry)

    entry.Append(
        ir.NewConst(0, 7),
        ir.NewInsn(ir.OpIfEqz, ir.NoReg, 0),
    )
    zero.Append(
        ir.NewFieldOp(ir.OpSput, out.Ref, ir.NoReg, 0),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )
    nonzero.Append(
        ir.NewFieldOp(ir.OpSput, out.Ref, ir.NoReg, 0),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )

    code.AddBranchEdge(entry, zero, 1)
    code.AddEdge(entry, nonzero, ir.EdgeGoto)

    m.Code = code
    code.Validate()
    return cls
}

func branchCount(cls *ir.Class) int {
    n := 0
    for _, m := range cls.AllMethods() {
        if m.Code == nil {
            continue
        }
        for _, bb := range m.Code.Blocks {
            if tm := bb.Term(); tm != nil && tm.Op.IsConditionalBranch() {
                n++
            }
        }
    }
    return n
}

func TestOptimize_DefaultSchedule(t *testing.T) {
    cls := foldableClass("Lapp/Main;")
    world := dexstore.NewWorld([][]*ir.Class { { cls } })

    ms, err := Optimize(&Job { World: world })
    require.NoError(t, err)
    require.NotNil(t, ms)

    /* the constant branch folds away somewhere in the pipeline */
    assert.Zero(t, branchCount(cls))
    for _, m := range cls.AllMethods() {
        if m.Code != nil {
            require.NotPanics(t, func() { m.Code.Validate() })
        }
    }
}

func TestOptimize_CustomSchedule(t *testing.T) {
    cls := foldableClass("Lapp/Custom;")
    world := dexstore.NewWorld([][]*ir.Class { { cls } })

    ms, err := Optimize(&Job {
        World  : world,
        Passes : []passes.Pass { &passes.ShrinkPass{} },
    })
    require.NoError(t, err)
    assert.Zero(t, branchCount(cls))
    assert.NotZero(t, ms.Get("shrinker/methods_changed"))
}

func TestOptimize_WithProfiles(t *testing.T) {
    cls := foldableClass("Lapp/Profiled;")
    world := dexstore.NewWorld([][]*ir.Class { { cls } })

    _, err := Optimize(&Job {
        World    : world,
        Profiles : profile.Data{},
    })
    require.NoError(t, err)
}

func TestOptimize_UnmetPropertySurfaces(t *testing.T) {
    cls := foldableClass("Lapp/Unmet;")
    world := dexstore.NewWorld([][]*ir.Class { { cls } })

    /* the splitter needs source blocks, which no profile provides here */
    _, err := Optimize(&Job {
        World  : world,
        Passes : []passes.Pass { &passes.HotColdSplit{} },
    })
    require.Error(t, err)
    assert.True(t, IsPropertyError(err))
    _, ok := IsPassError(err)
    assert.False(t, ok)
}

func TestOptimize_WorkerOptionApplies(t *testing.T) {
    defer wq.SetNumWorkers(0)

    cls := foldableClass("Lapp/Workers;")
    world := dexstore.NewWorld([][]*ir.Class { { cls } })

    _, err := Optimize(&Job { World: world }, WithNumWorkers(3))
    require.NoError(t, err)
    assert.Equal(t, 3, wq.NumWorkers())
}

func TestOptimize_StartupListAccepted(t *testing.T) {
    cls := foldableClass("Lapp/Startup;")
    world := dexstore.NewWorld([][]*ir.Class { { cls } })

    _, err := Optimize(&Job {
        World       : world,
        StartupList : strings.NewReader("Lapp/Startup;\nColdStart1PctEnd\n"),
    })
    require.NoError(t, err)
}

func TestOptions_Setters(t *testing.T) {
    o := opts.GetDefaultOptions()
    WithNumWorkers(4)(&o)
    WithMaxShrinkRounds(9)(&o)
    WithReshuffleBatch(50)(&o)
    WithHotColdFactor(3)(&o)
    WithMinSdk(30)(&o)

    assert.Equal(t, 4, o.NumWorkers)
    assert.Equal(t, 9, o.MaxShrinkRounds)
    assert.Equal(t, 50, o.ReshuffleBatch)
    assert.Equal(t, 3, o.HotColdFactor)
    assert.Equal(t, 30, o.MinSdk)

    assert.Panics(t, func() { WithNumWorkers(-1) })
    assert.Panics(t, func() { WithReshuffleBatch(0) })
}

func TestErrors_Helpers(t *testing.T) {
    ce := ConfigError { Key: "passes/Bogus", Reason: "no such pass" }
    assert.Contains(t, ce.Error(), "passes/Bogus")

    wrapped := fmt.Errorf("running: %w", &passes.PassError { Pass: "Shrink", Detail: "boom" })
    name, ok := IsPassError(wrapped)
    assert.True(t, ok)
    assert.Equal(t, "Shrink", name)

    _, ok = IsPassError(nil)
    assert.False(t, ok)
    assert.False(t, IsPropertyError(nil))
}
