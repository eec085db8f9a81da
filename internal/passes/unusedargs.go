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
    `sort`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/trace`
)

// RemoveUnusedArgs shrinks method protos: parameters dead across a whole
// group of signature-connected methods are dropped, and return values no
// call-site consumes become void. Renamed methods carry a kind tag plus a
// per-group uniquifier so siblings cannot collide.
type RemoveUnusedArgs struct {
    iter int
}

func (*RemoveUnusedArgs) Name() string {
    return "RemoveUnusedArgs"
}

func (*RemoveUnusedArgs) Properties() Table {
    return Table{}.
        With(NoUnreachableInstructions, Preserves).
        With(HasSourceBlocks, Preserves)
}

type _Rewrite struct {
    ref     *ir.MethodRef
    drop    []int       // dead proto argument indices
    dropRet bool
}

func (self *RemoveUnusedArgs) RunPass(ctx *Context) {
    groups := methodGroups(ctx)
    resultUsed := usedResults(ctx.Scope)

    rewrites := make(map[*ir.MethodRef]*_Rewrite)
    idx := 0
    for _, g := range groups {
        if rw := self.planGroup(ctx, g, resultUsed, idx); rw != nil {
            for _, m := range g {
                rewrites[m.Ref] = rw
            }
            idx++
        }
    }
    if len(rewrites) == 0 {
        return
    }

    applyDefs(ctx.Scope, rewrites)
    rewritten := applyCallSites(ctx.Scope, rewrites)
    ctx.Metrics.Add("remove_unused_args/groups", int64(idx))
    ctx.Metrics.Add("remove_unused_args/call_sites", rewritten)
    self.iter++
}

/* virtual methods travel with their whole signature-connected group,
 * statics and privates stand alone */
func methodGroups(ctx *Context) [][]*ir.Method {
    var groups [][]*ir.Method
    seen := make(map[*ir.Method]struct{})

    ctx.Scope.EachMethod(func(m *ir.Method) {
        if _, ok := seen[m]; ok || m.Code == nil {
            return
        }
        if m.Ref.IsInit() || m.Ref.IsClinit() {
            seen[m] = struct{}{}
            return
        }

        if !m.IsVirtual() {
            seen[m] = struct{}{}
            groups = append(groups, []*ir.Method { m })
            return
        }

        g := ctx.Overrides.GatherConnectedMethods(m)
        for _, gm := range g {
            seen[gm] = struct{}{}
        }
        groups = append(groups, g)
    })
    return groups
}

func (self *RemoveUnusedArgs) planGroup(ctx *Context, g []*ir.Method, resultUsed map[*ir.MethodRef]struct{}, idx int) *_Rewrite {
    rep := g[0]

    /* signatures visible outside the scope are frozen */
    for _, m := range g {
        if m.Code == nil || ctx.Overrides.AnyExternalParents(m) {
            return nil
        }
    }

    /* intersect the dead argument indices */
    dead := deadArgs(rep)
    for _, m := range g[1:] {
        dead = intersect(dead, deadArgs(m))
    }

    /* a return value nobody reads anywhere goes too */
    dropRet := rep.Ref.Proto.Ret != ir.TypeVoid
    for _, m := range g {
        if _, used := resultUsed[m.Ref]; used {
            dropRet = false
        }
    }
    if len(dead) == 0 && !dropRet {
        return nil
    }

    drop := make([]int, 0, len(dead))
    for i := range dead {
        drop = append(drop, i)
    }
    sort.Ints(drop)

    /* the new name tags what changed, with a group uniquifier */
    name := rep.Ref.Name
    if len(drop) > 0 {
        name = fmt.Sprintf("%s$uva$%d$%d", name, self.iter, idx)
    }
    if dropRet {
        name = fmt.Sprintf("%s$rvp$%d$%d", name, self.iter, idx)
    }

    proto := rep.Ref.Proto.WithoutArgs(drop)
    if dropRet {
        proto = proto.WithReturn(ir.TypeVoid)
    }
    trace.T("passes", 3, "unused args: %s -> %s%s", rep.Ref, name, proto)
    return &_Rewrite { ref: ir.MakeMethodRef(rep.Ref.Owner, name, proto), drop: drop, dropRet: dropRet }
}

/* proto argument indices whose parameter register is never read */
func deadArgs(m *ir.Method) map[int]struct{} {
    used := make(map[ir.Reg]struct{})
    for _, bb := range m.Code.Blocks {
        for _, p := range bb.Insns {
            for _, s := range p.Srcs {
                used[s] = struct{}{}
            }
        }
    }

    dead := make(map[int]struct{})
    arg := 0
    for _, p := range m.Code.Entry.Insns {
        if !p.Op.IsLoadParam() {
            break
        }
        /* the receiver slot has no proto index */
        if !m.IsStatic() && arg == 0 {
            arg++
            continue
        }
        i := arg
        if !m.IsStatic() {
            i--
        }
        if _, ok := used[p.Dst]; !ok {
            dead[i] = struct{}{}
        }
        arg++
    }
    return dead
}

func intersect(a map[int]struct{}, b map[int]struct{}) map[int]struct{} {
    out := make(map[int]struct{})
    for i := range a {
        if _, ok := b[i]; ok {
            out[i] = struct{}{}
        }
    }
    return out
}

/* method refs whose result some call-site consumes */
func usedResults(scope *ir.Scope) map[*ir.MethodRef]struct{} {
    used := make(map[*ir.MethodRef]struct{})
    scope.EachMethod(func(m *ir.Method) {
        if m.Code == nil {
            return
        }
        for _, bb := range m.Code.Blocks {
            var last *ir.MethodRef
            for _, p := range bb.Insns {
                switch {
                    case p.Op.IsInvoke()     : last = p.Method
                    case p.Op.IsMoveResult() : if last != nil { used[last] = struct{}{} }
                    default                  : last = nil
                }
            }
        }
    })
    return used
}

func applyDefs(scope *ir.Scope, rewrites map[*ir.MethodRef]*_Rewrite) {
    scope.EachMethod(func(m *ir.Method) {
        rw, ok := rewrites[m.Ref]
        if !ok || m.Code == nil {
            return
        }

        /* drop the dead load-params */
        mut := ir.NewMutation(m.Code)
        arg := 0
        for _, p := range m.Code.Entry.Insns {
            if !p.Op.IsLoadParam() {
                break
            }
            i := arg
            if !m.IsStatic() {
                i--
            }
            if i >= 0 && contains(rw.drop, i) {
                mut.Remove(p)
            }
            arg++
        }

        /* value returns become bare returns */
        if rw.dropRet {
            for _, bb := range m.Code.Blocks {
                if tm := bb.Term(); tm != nil && tm.Op.IsReturn() && tm.Op != ir.OpReturnVoid {
                    mut.Replace(tm, ir.NewInsn(ir.OpReturnVoid, ir.NoReg))
                }
            }
        }
        mut.Commit()
        m.Ref = rw.ref

        /* surviving load-params renumber into a dense prefix */
        slot := int64(0)
        for _, p := range m.Code.Entry.Insns {
            if !p.Op.IsLoadParam() {
                break
            }
            p.Lit = slot
            slot++
        }
    })
}

func applyCallSites(scope *ir.Scope, rewrites map[*ir.MethodRef]*_Rewrite) int64 {
    var n int64
    scope.EachMethod(func(m *ir.Method) {
        if m.Code == nil {
            return
        }

        mut := ir.NewMutation(m.Code)
        for _, bb := range m.Code.Blocks {
            var rewrote *_Rewrite
            for _, p := range bb.Insns {
                if p.Op.IsMoveResult() && rewrote != nil && rewrote.dropRet {
                    mut.Remove(p)
                    rewrote = nil
                    continue
                }
                rewrote = nil

                if !p.Op.IsInvoke() {
                    continue
                }
                rw, ok := rewrites[p.Method]
                if !ok {
                    continue
                }

                np := p.Clone()
                np.Method = rw.ref
                np.Srcs = dropArgs(p, rw.drop)
                mut.Replace(p, np)
                rewrote = rw
                n++
            }
        }
        mut.Commit()
    })
    return n
}

/* receiver stays in front for instance invokes */
func dropArgs(p *ir.Insn, drop []int) []ir.Reg {
    off := 0
    if p.Op != ir.OpInvokeStatic {
        off = 1
    }

    out := make([]ir.Reg, 0, len(p.Srcs))
    for i, r := range p.Srcs {
        if i >= off && contains(drop, i - off) {
            continue
        }
        out = append(out, r)
    }
    return out
}

func contains(xs []int, v int) bool {
    for _, x := range xs {
        if x == v {
            return true
        }
    }
    return false
}
