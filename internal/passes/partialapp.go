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
    `math`
    `sort`
    `strings`

    `github.com/oleiade/lane`

    `github.com/dexopt/dexopt/internal/analysis/absint`
    `github.com/dexopt/dexopt/internal/dataflow`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/trace`
)

// PartialApplication binds proven-constant arguments at their call-sites.
// Call-sites of the same callee with the same constant subset share one
// synthesized helper that loads the constants and forwards; when a subset
// does not pay for its helper, its weakest argument is stripped and the
// summary merges with the wider one.
type PartialApplication struct {
    seq int
}

func (*PartialApplication) Name() string {
    return "PartialApplication"
}

func (*PartialApplication) Properties() Table {
    return Table{}.
        With(NoUnreachableInstructions, Preserves).
        With(HasSourceBlocks, Preserves)
}

type _PaSite struct {
    caller *ir.Method
    insn   *ir.Insn
    excl   map[int]bool    // const producers used only here, by arg index
}

type _PaSummary struct {
    callee *ir.Method
    consts map[int]int64
    sites  []*_PaSite
}

func (self *_PaSummary) key() string {
    idx := make([]int, 0, len(self.consts))
    for i := range self.consts {
        idx = append(idx, i)
    }
    sort.Ints(idx)

    var sb strings.Builder
    sb.WriteString(self.callee.Ref.String())
    for _, i := range idx {
        fmt.Fprintf(&sb, "|%d=%d", i, self.consts[i])
    }
    return sb.String()
}

func (self *PartialApplication) RunPass(ctx *Context) {
    cfg := ctx.Config.Sub("partial_application")
    perf := cfg.Float("perf_sensitivity", 1.0)
    hits := cfg.Float("block_profiles_hits", 0.6)
    skipHot := cfg.Bool("method_profiles_skip_hot", true)

    summaries := collectSummaries(ctx, hits, skipHot)
    if len(summaries) == 0 {
        return
    }

    accepted := self.selectSummaries(summaries, perf)
    if len(accepted) == 0 {
        return
    }

    changed := make(map[*ir.Method]struct{})
    var n int64
    for _, s := range accepted {
        helper := self.emitHelper(s)
        for _, site := range s.sites {
            rewriteSite(site, s, helper)
            changed[site.caller] = struct{}{}
            n++
        }
        trace.T("passes", 2, "partial application: %s binds %d args at %d sites", helper.Ref, len(s.consts), len(s.sites))
    }

    ctx.Metrics.Add("partial_application/helpers_emitted", int64(len(accepted)))
    ctx.Metrics.Add("partial_application/call_sites_rewritten", n)

    if ctx.Shrinker != nil {
        for m := range changed {
            ctx.Shrinker.Shrink(m)
        }
    }
}

func collectSummaries(ctx *Context, hits float64, skipHot bool) map[string]*_PaSummary {
    summaries := make(map[string]*_PaSummary)
    itp := &absint.Interp { Scope: ctx.Scope, MinSdk: int64(ctx.Options.MinSdk), Fields: absFields(ctx) }

    for _, caller := range ctx.Scope.MethodsWithCode() {
        res := itp.Run(caller.Code, nil)
        rd := dataflow.ComputeReachingDefs(caller.Code)

        for _, bb := range caller.Code.Blocks {
            if !res.Reachable(bb) || (skipHot && hotBlock(bb, hits)) {
                continue
            }

            env := res.In[bb.Id].Clone()
            for i, p := range bb.Insns {
                if site := summarizeSite(ctx, caller, rd, bb, i, p, env); site != nil {
                    s := site
                    k := s.key()
                    if prev, ok := summaries[k]; ok {
                        prev.sites = append(prev.sites, s.sites...)
                    } else {
                        summaries[k] = s
                    }
                }
                itp.Eval(p, env)
            }
        }
    }
    return summaries
}

func absFields(ctx *Context) absint.FieldValues {
    if ctx.Globals == nil {
        return nil
    }
    return ctx.Globals
}

func hotBlock(bb *ir.Block, hits float64) bool {
    for _, sb := range bb.SrcBlocks {
        for _, pp := range sb.Probs {
            if float64(pp.Hit) >= hits {
                return true
            }
        }
    }
    return false
}

/* a call-site summary: the callee plus every argument the environment
 * proves constant here */
func summarizeSite(ctx *Context, caller *ir.Method, rd *dataflow.ReachingDefs, bb *ir.Block, i int, p *ir.Insn, env *absint.Env) *_PaSummary {
    if p.Op != ir.OpInvokeStatic && p.Op != ir.OpInvokeDirect {
        return nil
    }
    if p.Method.IsInit() || p.Method.IsClinit() {
        return nil
    }

    callee := ctx.Scope.ResolveMethod(p.Method)
    if callee == nil || callee.Code == nil || callee.Class.Rstate.NoOptimizations {
        return nil
    }

    off := 0
    if p.Op == ir.OpInvokeDirect {
        off = 1
    }

    consts := make(map[int]int64)
    excl := make(map[int]bool)
    for ai, t := range p.Method.Proto.Args {
        if v := env.Get(p.Srcs[ai + off]); v.IsConstInt() && !t.IsWide() {
            consts[ai] = v.I
            excl[ai] = soleUse(caller.Code, rd, bb, i, p.Srcs[ai + off])
        }
    }
    if len(consts) == 0 {
        return nil
    }

    site := &_PaSite {
        caller : caller,
        insn   : p,
        excl   : excl,
    }
    return &_PaSummary { callee: callee, consts: consts, sites: []*_PaSite { site } }
}

/* whether the sole producer of r feeds only this invoke */
func soleUse(code *ir.Code, rd *dataflow.ReachingDefs, bb *ir.Block, i int, r ir.Reg) bool {
    def := rd.SoleDef(bb, i, r)
    if def == nil {
        return false
    }

    uses := 0
    for _, b := range code.Blocks {
        for _, p := range b.Insns {
            for _, s := range p.Srcs {
                if s == def.Dst {
                    uses++
                }
            }
        }
    }
    return uses == 1
}

/* pops the best summary; a non-paying one loses its weakest argument and
 * merges with the equivalent wider summary */
func (self *PartialApplication) selectSummaries(summaries map[string]*_PaSummary, perf float64) []*_PaSummary {
    pq := lane.NewPQueue(lane.MAXPQ)
    for _, s := range summaries {
        pq.Push(s, scoreOf(s, perf))
    }

    var accepted []*_PaSummary
    for !pq.Empty() {
        v, prio := pq.Pop()
        s, ok := v.(*_PaSummary)

        /* merged-away or already accepted entries go stale in the queue */
        if !ok || summaries[s.key()] != s {
            continue
        }
        if prio > 0 {
            delete(summaries, s.key())
            accepted = append(accepted, s)
            continue
        }
        if len(s.consts) <= 1 {
            continue
        }

        delete(summaries, s.key())
        stripWeakest(s)

        k := s.key()
        if prev, ok := summaries[k]; ok {
            prev.sites = append(prev.sites, s.sites...)
            s = prev
        } else {
            summaries[k] = s
        }
        pq.Push(s, scoreOf(s, perf))
    }
    return accepted
}

/* net size savings in insn-count units, scaled for the priority queue */
func scoreOf(s *_PaSummary, perf float64) int {
    perSite := 0.0
    for _, site := range s.sites {
        for i := range s.consts {
            if site.excl[i] {
                perSite += 2
            } else {
                perSite += 1
            }
        }
    }
    helperCost := float64(len(s.callee.Ref.Proto.Args) - len(s.consts) + 4) * perf
    return int(math.Round((perSite - helperCost) * 100))
}

/* contribution of an argument is how often its producer is exclusive to
 * the call-site; ties break toward the higher index for determinism */
func stripWeakest(s *_PaSummary) {
    weak, score := -1, math.MaxInt
    for i := range s.consts {
        c := 0
        for _, site := range s.sites {
            if site.excl[i] {
                c++
            }
        }
        if c < score || (c == score && i > weak) {
            weak, score = i, c
        }
    }
    delete(s.consts, weak)
}

/* the helper loads the bound constants and forwards to the callee */
func (self *PartialApplication) emitHelper(s *_PaSummary) *ir.Method {
    callee := s.callee
    this := 0
    if !callee.IsStatic() {
        this = 1
    }

    var args []*ir.Type
    if this == 1 {
        args = append(args, callee.Class.Type)
    }
    for ai, t := range callee.Ref.Proto.Args {
        if _, ok := s.consts[ai]; !ok {
            args = append(args, t)
        }
    }

    ref := ir.MakeMethodRef(callee.Class.Type, fmt.Sprintf("%s$pa$%d", callee.Ref.Name, self.seq), ir.MakeProto(callee.Ref.Proto.Ret, args...))
    self.seq++

    m := &ir.Method {
        Ref    : ref,
        Class  : callee.Class,
        Access : ir.AccPublic | ir.AccStatic | ir.AccFinal,
    }
    code := ir.NewCode(m, 0)
    bb := code.NewBlock()
    code.SetEntry(bb)

    params := make([]ir.Reg, len(args))
    for i, t := range args {
        params[i] = code.AllocReg(t.IsWide())
        bb.Append(&ir.Insn { Op: loadParamOp(t), Dst: params[i] })
    }

    /* full argument vector in callee order */
    full := make([]ir.Reg, 0, this + len(callee.Ref.Proto.Args))
    next := 0
    if this == 1 {
        full = append(full, params[0])
        next = 1
    }
    for ai := range callee.Ref.Proto.Args {
        if v, ok := s.consts[ai]; ok {
            r := code.AllocReg(false)
            bb.Append(ir.NewConst(r, v))
            full = append(full, r)
        } else {
            full = append(full, params[next])
            next++
        }
    }

    op := ir.OpInvokeStatic
    if this == 1 {
        op = ir.OpInvokeDirect
    }
    bb.Append(ir.NewInvoke(op, callee.Ref, full...))
    appendReturn(code, bb, callee.Ref.Proto.Ret)

    m.Code = code
    callee.Class.DMethods = append(callee.Class.DMethods, m)
    return m
}

func rewriteSite(site *_PaSite, s *_PaSummary, helper *ir.Method) {
    p := site.insn
    off := 0
    if p.Op == ir.OpInvokeDirect {
        off = 1
    }

    var srcs []ir.Reg
    if off == 1 {
        srcs = append(srcs, p.Srcs[0])
    }
    for ai := range p.Method.Proto.Args {
        if _, ok := s.consts[ai]; !ok {
            srcs = append(srcs, p.Srcs[ai + off])
        }
    }

    mut := ir.NewMutation(site.caller.Code)
    mut.Replace(p, ir.NewInvoke(ir.OpInvokeStatic, helper.Ref, srcs...))
    mut.Commit()
}
