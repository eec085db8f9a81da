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

package dataflow

import (
    `testing`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func testmethod(name string, nargs int) *ir.Method {
    args := make([]*ir.Type, nargs)
    for i := range args {
        args[i] = ir.TypeInt
    }
    return &ir.Method {
        Ref    : ir.MakeMethodRef(ir.MakeType("Lcom/test/Flow;"), name, ir.MakeProto(ir.TypeInt, args...)),
        Access : ir.AccPublic | ir.AccStatic,
    }
}

/* entry branches on v0; both arms define v1, the exit returns it */
func branchy(name string) *ir.Code {
    m := testmethod(name, 1)
    code := ir.NewCode(m, 2)
    m.Code = code

    entry := code.NewBlock()
    left := code.NewBlock()
    right := code.NewBlock()
    exit := code.NewBlock()
    code.SetEntry(entry)

    entry.Append(
        ir.NewInsn(ir.OpLoadParam, 0),
        ir.NewInsn(ir.OpIfEqz, ir.NoReg, 0),
    )
    left.Append(ir.NewConst(1, 10))
    right.Append(ir.NewConst(1, 20))
    exit.Append(ir.NewInsn(ir.OpReturn, ir.NoReg, 1))

    code.AddEdge(entry, left, ir.EdgeGoto)
    code.AddBranchEdge(entry, right, 1)
    code.AddEdge(left, exit, ir.EdgeGoto)
    code.AddEdge(right, exit, ir.EdgeGoto)
    return code
}

func TestReachingDefs_SoleDef(t *testing.T) {
    code := branchy("soledef")
    rd := ComputeReachingDefs(code)

    entry := code.Entry
    left := entry.GotoSucc()
    exit := left.GotoSucc()

    /* inside an arm the def of v1 is unique */
    assert.Same(t, left.Insns[0], rd.SoleDef(left, 1, 1))

    /* at the join both defs reach, so there is no sole def */
    assert.Nil(t, rd.SoleDef(exit, 0, 1))

    /* v0 has its load-param as the unique def everywhere */
    assert.Same(t, entry.Insns[0], rd.SoleDef(exit, 0, 0))
}

func TestReachingDefs_DefsAt(t *testing.T) {
    code := branchy("defsat")
    rd := ComputeReachingDefs(code)
    exit := code.Entry.GotoSucc().GotoSucc()

    defs := rd.DefsAt(exit, 0, 1)
    assert.Len(t, defs, 2)
}

func TestLiveness(t *testing.T) {
    code := branchy("liveness")
    lv := ComputeLiveness(code)

    entry := code.Entry
    left := entry.GotoSucc()
    exit := left.GotoSucc()

    /* v1 is live into the exit, v0 is not */
    assert.True(t, lv.LiveIn[exit.Id].Get(1))
    assert.False(t, lv.LiveIn[exit.Id].Get(0))

    /* nothing is live into the entry: v0 is defined by its load-param */
    assert.False(t, lv.LiveIn[entry.Id].Get(0))
    assert.False(t, lv.LiveIn[entry.Id].Get(1))

    /* before the branch v0 is live, after the arm's def v1 flows out */
    assert.True(t, lv.LiveAt(entry, 1).Get(0))
    assert.True(t, lv.LiveOut(left).Get(1))
}

func TestBitVec(t *testing.T) {
    v := NewBitVec(130)
    v.Set(0)
    v.Set(129)
    assert.True(t, v.Get(0))
    assert.True(t, v.Get(129))
    assert.False(t, v.Get(64))

    w := NewBitVec(130)
    w.Set(64)
    assert.True(t, v.Or(w))
    assert.True(t, v.Get(64))
    assert.False(t, v.Or(w))

    v.Clear(129)
    assert.False(t, v.Get(129))
}

func TestInferTypes(t *testing.T) {
    m := testmethod("infer", 1)
    code := ir.NewCode(m, 5)
    m.Code = code

    bb := code.NewBlock()
    code.SetEntry(bb)
    bb.Append(
        ir.NewInsn(ir.OpLoadParam, 0),
        ir.NewConstWide(1, 1),
        ir.NewConstString(3, "s"),
        ir.NewInsn(ir.OpMove, 4, 0),            // move adopts the source class
        ir.NewInsn(ir.OpReturn, ir.NoReg, 0),
    )

    ti := InferTypes(code)
    assert.Equal(t, ClassInt, ti.ClassOf(0))
    assert.Equal(t, ClassWide, ti.ClassOf(1))
    assert.Equal(t, ClassObject, ti.ClassOf(3))
    assert.Equal(t, ClassInt, ti.ClassOf(4))
}

func TestRegClass_Merge(t *testing.T) {
    assert.Equal(t, ClassInt, ClassNone.Merge(ClassInt))
    assert.Equal(t, ClassWide, ClassWide.Merge(ClassNone))
    assert.Equal(t, ClassObject, ClassObject.Merge(ClassObject))
    assert.Equal(t, ClassConflict, ClassInt.Merge(ClassObject))
}

func TestWTO_Loop(t *testing.T) {
    /* 0 -> 1 -> 2 -> 1, 2 -> 3 */
    g := &Graph {
        Succs: [][]int {
            { 1 },
            { 2 },
            { 1, 3 },
            {},
        },
    }
    wto := BuildWTO(g, []int { 0 })

    flat := wto.Flatten()
    require.Equal(t, []int { 0, 1, 2, 3 }, flat)

    /* the loop head opens a component containing its body */
    require.Len(t, wto.Seq, 3)
    assert.Equal(t, 0, wto.Seq[0].Node)
    assert.Equal(t, 1, wto.Seq[1].Node)
    require.Len(t, wto.Seq[1].Comp, 1)
    assert.Equal(t, 2, wto.Seq[1].Comp[0].Node)
    assert.Equal(t, 3, wto.Seq[2].Node)
}

func TestWTO_Iterate(t *testing.T) {
    g := &Graph {
        Succs: [][]int {
            { 1 },
            { 1, 2 },     // self loop on 1
            {},
        },
    }
    wto := BuildWTO(g, []int { 0 })

    /* request one re-pass over the component then stabilize */
    seen := make(map[int]int)
    wto.Iterate(func(node int) bool {
        seen[node]++
        return node == 1 && seen[1] < 2
    })
    assert.Equal(t, 1, seen[0])
    assert.Equal(t, 2, seen[1])
    assert.Equal(t, 1, seen[2])
}
