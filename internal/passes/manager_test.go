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

type fakePass struct {
    name  string
    table Table
    run   func(ctx *Context)
    runs  int
    evals int
}

func (self *fakePass) Name() string {
    return self.name
}

func (self *fakePass) Properties() Table {
    return self.table
}

func (self *fakePass) RunPass(ctx *Context) {
    self.runs++
    if self.run != nil {
        self.run(ctx)
    }
}

type fakeEvalPass struct {
    fakePass
}

func (self *fakeEvalPass) EvalPass(ctx *Context) {
    self.evals++
}

func TestManager_RunsInOrder(t *testing.T) {
    var order []string
    mk := func(name string) *fakePass {
        return &fakePass {
            name : name,
            run  : func(*Context) { order = append(order, name) },
        }
    }

    a, b, c := mk("A"), mk("B"), mk("C")
    mgr := NewManager(a, b, c)
    ctx := testctx("")

    require.NoError(t, mgr.Run(ctx))
    assert.Equal(t, []string { "A", "B", "C" }, order)
    assert.Equal(t, 1, a.runs)
}

func TestManager_EvalSweepPrecedesRuns(t *testing.T) {
    ep := &fakeEvalPass { fakePass: fakePass { name: "E" } }
    ep.run = func(*Context) {
        assert.Equal(t, 1, ep.evals)
    }

    mgr := NewManager(ep)
    require.NoError(t, mgr.Run(testctx("")))
    assert.Equal(t, 1, ep.runs)
}

func TestManager_UnmetRequirement(t *testing.T) {
    needy := &fakePass {
        name  : "Needy",
        table : Table{}.With(NoUnreachableInstructions, Requires),
    }

    err := NewManager(needy).Run(testctx(""))
    var pe *PropertyError
    require.ErrorAs(t, err, &pe)
    assert.Equal(t, "Needy", pe.Pass)
    assert.Equal(t, NoUnreachableInstructions, pe.Property)
    assert.Equal(t, 0, needy.runs)
}

func TestManager_EstablishFeedsRequirement(t *testing.T) {
    maker := &fakePass {
        name  : "Maker",
        table : Table{}.With(NoUnreachableInstructions, Establishes),
    }
    needy := &fakePass {
        name  : "Needy",
        table : Table{}.With(NoUnreachableInstructions, Requires),
    }

    require.NoError(t, NewManager(maker, needy).Run(testctx("")))
    assert.Equal(t, 1, needy.runs)
}

func TestManager_UnmentionedPropertyResets(t *testing.T) {
    maker := &fakePass {
        name  : "Maker",
        table : Table{}.With(NoUnreachableInstructions, Establishes),
    }
    /* Mute never mentions the property, so it does not survive */
    mute := &fakePass { name: "Mute" }
    needy := &fakePass {
        name  : "Needy",
        table : Table{}.With(NoUnreachableInstructions, Requires),
    }

    err := NewManager(maker, mute, needy).Run(testctx(""))
    var pe *PropertyError
    require.ErrorAs(t, err, &pe)
    assert.Equal(t, "Needy", pe.Pass)
}

func TestManager_PreservesCarriesProperty(t *testing.T) {
    maker := &fakePass {
        name  : "Maker",
        table : Table{}.With(HasSourceBlocks, Establishes),
    }
    keeper := &fakePass {
        name  : "Keeper",
        table : Table{}.With(HasSourceBlocks, Preserves),
    }
    needy := &fakePass {
        name  : "Needy",
        table : Table{}.With(HasSourceBlocks, Requires),
    }

    require.NoError(t, NewManager(maker, keeper, needy).Run(testctx("")))
}

func TestManager_DestroysClearsProperty(t *testing.T) {
    maker := &fakePass {
        name  : "Maker",
        table : Table{}.With(HasSourceBlocks, Establishes),
    }
    wrecker := &fakePass {
        name  : "Wrecker",
        table : Table{}.With(HasSourceBlocks, Destroys),
    }
    needy := &fakePass {
        name  : "Needy",
        table : Table{}.With(HasSourceBlocks, Requires),
    }

    err := NewManager(maker, wrecker, needy).Run(testctx(""))
    var pe *PropertyError
    require.ErrorAs(t, err, &pe)
}

func TestManager_EstablishSeedsInitialState(t *testing.T) {
    needy := &fakePass {
        name  : "Needy",
        table : Table{}.With(DexLimitsObeyed, RequiresAndEstablishes),
    }

    mgr := NewManager(needy)
    mgr.Establish(DexLimitsObeyed)
    require.NoError(t, mgr.Run(testctx("")))
}

func TestManager_PanicBecomesPassError(t *testing.T) {
    boom := &fakePass {
        name : "Boom",
        run  : func(*Context) { panic("invariant broken") },
    }
    after := &fakePass { name: "After" }

    err := NewManager(boom, after).Run(testctx(""))
    var pe *PassError
    require.ErrorAs(t, err, &pe)
    assert.Equal(t, "Boom", pe.Pass)
    assert.Contains(t, pe.Error(), "invariant broken")
    assert.Equal(t, 0, after.runs)
}

func TestManager_FindPass(t *testing.T) {
    a := &fakePass { name: "A" }
    mgr := NewManager(a)
    assert.Equal(t, Pass(a), mgr.FindPass("A"))
    assert.Nil(t, mgr.FindPass("B"))

    /* passes can look each other up through the context */
    probe := &fakePass { name: "Probe" }
    probe.run = func(ctx *Context) {
        assert.NotNil(t, ctx.FindPass("Probe"))
        assert.Nil(t, ctx.FindPass("Absent"))
    }
    require.NoError(t, NewManager(probe).Run(testctx("")))
    assert.Equal(t, 1, probe.runs)
}

func TestManager_ValidatorRejectsCorruptBody(t *testing.T) {
    cls := testclass("Lcom/test/mgr/Corrupt;")
    m := teststatic(cls, "bad", ir.MakeProto(ir.TypeVoid))
    code := ir.NewCode(m, 1)
    m.Code = code
    bb := code.NewBlock()
    code.SetEntry(bb)

    /* destination register out of range */
    bb.Append(
        ir.NewConst(5, 0),
        ir.NewInsn(ir.OpReturnVoid, ir.NoReg),
    )

    noop := &fakePass { name: "Noop" }
    err := NewManager(noop).Run(testctx("", cls))
    var pe *PassError
    require.ErrorAs(t, err, &pe)
    assert.Equal(t, "Noop", pe.Pass)
}
