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
    `github.com/dexopt/dexopt/internal/analysis/absint`
    `github.com/dexopt/dexopt/internal/ir`
)

// ConstProp runs the abstract interpreter over the body, rewrites
// constant producers into const loads, eliminates decided branches and
// the blocks they strand, and drops redundant static puts.
func (self *Shrinker) ConstProp(m *ir.Method) bool {
    code := m.Code
    it := self.interp()
    res := it.Run(code, nil)
    mut := ir.NewMutation(code)

    var folded, puts int64
    for _, bb := range code.Blocks {
        in, ok := res.In[bb.Id]
        if !ok {
            continue
        }

        env := in.Clone()
        for _, p := range bb.Insns {
            if p.Op == ir.OpSput {
                if self.redundantPut(p, env) {
                    mut.Remove(p)
                    puts++
                }
            }
            it.Eval(p, env)
            if np := foldInsn(p, env); np != nil {
                mut.Replace(p, np)
                folded++
            }
        }
    }

    branches := self.pruneBranches(code, res, mut)
    if mut.Empty() && branches == 0 {
        return false
    }

    mut.Commit()
    dead := code.RemoveUnreachable()
    self.bump(&self.stats.ConstsFolded, folded)
    self.bump(&self.stats.BranchesRemoved, branches)
    self.bump(&self.stats.BlocksRemoved, int64(dead))
    self.bump(&self.stats.InsnsRemoved, puts)
    return true
}

/* a const producer is replaced when the interpreter proved its output,
 * load-param and move-exception define external values and stay */
func foldInsn(p *ir.Insn, env *absint.Env) *ir.Insn {
    if !p.HasDst() || !p.SideEffectFree() {
        return nil
    }
    switch p.Op {
        case ir.OpConst, ir.OpConstWide, ir.OpConstString, ir.OpConstClass: {
            return nil
        }
        case ir.OpLoadParam, ir.OpLoadParamWide, ir.OpLoadParamObject, ir.OpMoveException: {
            return nil
        }
    }

    switch v := env.Get(p.Dst); v.Kind {
        case absint.ConstInt: {
            if p.DstWide() {
                return ir.NewConstWide(p.Dst, v.I)
            }
            return ir.NewConst(p.Dst, v.I)
        }
        case absint.ConstStr: {
            return ir.NewConstString(p.Dst, v.S)
        }
        default: {
            return nil
        }
    }
}

/* a sput whose value the field provably already holds is a no-op */
func (self *Shrinker) redundantPut(p *ir.Insn, env *absint.Env) bool {
    f := self.scope.ResolveField(p.Field, true)
    if f == nil {
        return false
    }
    cur, ok := env.Statics[f]
    if !ok {
        return false
    }
    v := env.Get(p.Srcs[0])
    return v.Kind == absint.ConstInt && v.Eq(cur)
}

/* drop infeasible branch edges, terminators with a single surviving
 * normal successor degrade to plain gotos */
func (self *Shrinker) pruneBranches(code *ir.Code, res *absint.Result, mut *ir.Mutation) int64 {
    var removed int64
    for _, bb := range code.Blocks {
        if !res.Reachable(bb) {
            continue
        }
        tm := bb.Term()
        if tm == nil || (!tm.Op.IsConditionalBranch() && tm.Op != ir.OpSwitch) {
            continue
        }

        /* collect the infeasible normal edges */
        var dead []*ir.Edge
        live := 0
        for _, e := range bb.Succs {
            if e.Kind == ir.EdgeThrow || e.Kind == ir.EdgeGhost {
                continue
            }
            if ok, seen := res.Feasible[e]; seen && !ok {
                dead = append(dead, e)
            } else {
                live++
            }
        }
        if len(dead) == 0 || live != 1 {
            continue
        }

        for _, e := range dead {
            code.RemoveEdge(e)
        }
        for _, e := range bb.Succs {
            if e.Kind == ir.EdgeBranch {
                e.Kind = ir.EdgeGoto
                e.CaseKey = 0
            }
        }
        mut.Remove(tm)
        removed++
    }
    return removed
}
