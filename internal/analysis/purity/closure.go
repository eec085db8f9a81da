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

package purity

import (
    `github.com/bytedance/gopkg/collection/skipmap`

    `github.com/dexopt/dexopt/internal/analysis/override`
    `github.com/dexopt/dexopt/internal/concur`
    `github.com/dexopt/dexopt/internal/dataflow`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/trace`
    `github.com/dexopt/dexopt/internal/wq`
)

// Config carries the external oracles of the closure.
type Config struct {
    PureMethods        map[string]struct{}      // configured observationally pure methods
    FinalishFields     map[string]struct{}      // field names treated as immutable
    InitHasSideEffects func(tp *ir.Type) bool   // nil means "assume side effects"
}

// Closure is the whole-scope purity fixpoint. Summaries are keyed by the
// method reference descriptor in a lock-free skip list so the parallel scan
// phase can publish them without coordination.
type Closure struct {
    scope   *ir.Scope
    og      *override.Graph
    cfg     Config
    sums    *skipmap.StringMap
    methods []*ir.Method
    index   map[*ir.Method]int
}

// Compute scans every method in parallel, then iterates the read-location
// closure over a weak topological ordering of the call dependency graph.
func Compute(scope *ir.Scope, og *override.Graph, cfg Config) *Closure {
    self := &Closure {
        cfg     : cfg,
        og      : og,
        scope   : scope,
        sums    : concur.NewStringMap(),
        methods : scope.MethodsWithCode(),
    }

    /* dense method ids for the dependency graph */
    self.index = make(map[*ir.Method]int, len(self.methods))
    for i, m := range self.methods {
        self.index[m] = i
    }

    /* phase 1: per-method direct scan, in parallel */
    wq.ForEachLabeled(len(self.methods),
        func(i int) string { return self.methods[i].Ref.String() },
        func(i int) { self.scan(self.methods[i]) })

    /* phase 2: dependency closure over the WTO */
    g := self.depgraph()
    roots := make([]int, len(self.methods))
    for i := range roots {
        roots[i] = i
    }
    wto := dataflow.BuildWTO(g, roots)
    wto.Iterate(func(i int) bool { return self.propagate(self.methods[i]) })

    trace.T("purity", 2, "purity closure over %d methods done", len(self.methods))
    return self
}

// SummaryOf returns the summary of m, or an unknown summary for external
// methods.
func (self *Closure) SummaryOf(m *ir.Method) *Summary {
    if s, ok := self.sums.Load(m.Ref.String()); ok {
        return s.(*Summary)
    }
    s := NewSummary()
    s.Poison()
    return s
}

// SummaryOfRef resolves and summarizes an invoke target. Unresolvable
// references yield unknown.
func (self *Closure) SummaryOfRef(ref *ir.MethodRef) *Summary {
    if _, ok := self.cfg.PureMethods[ref.String()]; ok {
        return NewSummary()
    }
    if m := self.scope.ResolveMethod(ref); m != nil && m.Code != nil {
        return self.SummaryOf(m)
    }
    s := NewSummary()
    s.Poison()
    return s
}

/* initial per-method scan: direct reads, effects, poisoning; the finished
 * summary is published to the shared skip list at the end */
func (self *Closure) scan(m *ir.Method) {
    s := NewSummary()
    defer self.sums.Store(m.Ref.String(), s)

    /* configured-pure methods keep their empty summary */
    if _, ok := self.cfg.PureMethods[m.Ref.String()]; ok {
        return
    }

    /* classes marked no-optimizations poison their methods */
    if m.Class != nil && m.Class.Rstate.NoOptimizations {
        s.Effects |= EffNoOptimizations
        s.Poison()
        return
    }

    /* parameter register mapping for mutation tracking */
    params := paramregs(m.Code)

    /* walk every instruction */
    for _, bb := range m.Code.Blocks {
        for _, p := range bb.Insns {
            self.scaninsn(m, s, p, params)
        }
    }
}

func (self *Closure) scaninsn(m *ir.Method, s *Summary, p *ir.Insn, params map[ir.Reg]int) {
    switch p.Op {
        case ir.OpMonitorEnter, ir.OpMonitorExit: {
            s.Effects |= EffLocks
            s.Poison()
        }

        case ir.OpThrow: {
            s.Effects |= EffThrows
            s.Poison()
        }

        case ir.OpFillArrayData: {
            s.Effects |= EffWritesEscaping
            s.Poison()
        }

        case ir.OpInitClass: {
            s.Effects |= EffMayInitClass
            if self.initeffects(p.TypeRef) {
                s.Poison()
            }
        }

        case ir.OpInvokeSuper: {
            s.Effects |= EffUnknownInvoke
            s.Poison()
        }

        case ir.OpNewInstance: {
            if self.scope.ClassOf(p.TypeRef) == nil {
                s.Effects |= EffUnknownInvoke
                s.Poison()
            }
        }

        case ir.OpAput: {
            s.Effects |= EffWritesEscaping
            if idx, ok := params[p.Srcs[1]]; ok {
                s.MutatesParams[idx] = struct{}{}
            }
            s.Poison()
        }

        case ir.OpIput: {
            s.Effects |= EffWritesEscaping
            if idx, ok := params[p.Srcs[1]]; ok {
                s.MutatesParams[idx] = struct{}{}
            }
            s.Poison()
        }

        case ir.OpSput: {
            s.Effects |= EffWritesEscaping
            s.Poison()
        }

        case ir.OpAget: {
            s.Reads.Add(ArrayLoc(arraykindofinsn(p)))
        }

        case ir.OpIget, ir.OpSget: {
            self.scanfieldread(s, p)
        }

        case ir.OpInvokeStatic, ir.OpInvokeDirect, ir.OpInvokeVirtual, ir.OpInvokeInterface: {
            self.scaninvoke(s, p)
        }
    }
}

func (self *Closure) scanfieldread(s *Summary, p *ir.Insn) {
    f := self.scope.ResolveField(p.Field, p.Op == ir.OpSget)

    /* finalish fields read a stable location, track it precisely */
    if f != nil {
        s.Reads.Add(FieldLoc(f))
        return
    }

    /* unresolved fields read external memory */
    if _, ok := self.cfg.FinalishFields[p.Field.Name]; ok {
        s.ReadsExternal = true
        return
    }
    s.Reads.Add(Barrier)
    s.ReadsExternal = true
    s.Poison()
}

func (self *Closure) scaninvoke(s *Summary, p *ir.Insn) {
    /* configured-pure targets contribute nothing */
    if _, ok := self.cfg.PureMethods[p.Method.String()]; ok {
        return
    }

    /* unresolved or native targets poison; abstract declarations defer
     * to the overrider fan during propagation */
    m := self.scope.ResolveMethod(p.Method)
    if m == nil || (m.Code == nil && !m.IsAbstract()) {
        s.Effects |= EffUnknownInvoke
        s.Poison()
        return
    }

    /* virtual dispatch with unhandled overriders poisons too: the precise
     * combination happens during propagation; here only the dependency
     * shape matters */
}

func (self *Closure) initeffects(tp *ir.Type) bool {
    if self.cfg.InitHasSideEffects == nil {
        return true
    }
    return self.cfg.InitHasSideEffects(tp)
}

/* dependency graph: method -> resolved callees (virtual fan-out included) */
func (self *Closure) depgraph() *dataflow.Graph {
    g := &dataflow.Graph { Succs: make([][]int, len(self.methods)) }
    for i, m := range self.methods {
        seen := make(map[int]struct{})
        for _, bb := range m.Code.Blocks {
            for _, p := range bb.Insns {
                if !p.Op.IsInvoke() || p.Op == ir.OpInvokeSuper {
                    continue
                }
                for _, callee := range self.targets(p) {
                    if j, ok := self.index[callee]; ok {
                        if _, dup := seen[j]; !dup {
                            seen[j] = struct{}{}
                            g.Succs[i] = append(g.Succs[i], j)
                        }
                    }
                }
            }
        }
    }
    return g
}

// targets enumerates the possible concrete targets of an invoke.
func (self *Closure) targets(p *ir.Insn) []*ir.Method {
    m := self.scope.ResolveMethod(p.Method)
    if m == nil {
        return nil
    }

    /* static / direct binds exactly */
    if p.Op == ir.OpInvokeStatic || p.Op == ir.OpInvokeDirect {
        return []*ir.Method { m }
    }

    /* virtual / interface fans out over the overriders */
    ret := append([]*ir.Method { m }, self.og.AllOverriders(m)...)
    return ret
}

/* one propagation step: union the callees' summaries into m */
func (self *Closure) propagate(m *ir.Method) bool {
    s := self.SummaryOf(m)
    if s.Unknown {
        return false
    }

    changed := false
    for _, bb := range m.Code.Blocks {
        for _, p := range bb.Insns {
            if !p.Op.IsInvoke() || p.Op == ir.OpInvokeSuper {
                continue
            }
            if _, ok := self.cfg.PureMethods[p.Method.String()]; ok {
                continue
            }

            /* classify the dispatch first: an unresolved leg, a native
             * body or a hierarchy open to external overriders makes the
             * whole fan unknowable */
            if self.ActionFor(p, DispatchQuery{}) == Unknown {
                s.Effects |= EffUnknownInvoke
                s.Poison()
                return true
            }

            /* combine over every concrete target, abstract declarations
             * contribute nothing */
            for _, callee := range self.targets(p) {
                if callee.Code == nil {
                    continue
                }
                cs := self.SummaryOf(callee)
                if cs.Unknown {
                    if !s.Unknown {
                        s.Effects |= EffUnknownInvoke
                        s.Poison()
                        return true
                    }
                    continue
                }
                if s.Reads.Union(cs.Reads) {
                    changed = true
                }
                if ne := s.Effects | cs.Effects; ne != s.Effects {
                    s.Effects = ne
                    changed = true
                }
                if cs.ReadsExternal && !s.ReadsExternal {
                    s.ReadsExternal = true
                    changed = true
                }
            }
        }
    }
    return changed
}

func paramregs(code *ir.Code) map[ir.Reg]int {
    ret := make(map[ir.Reg]int)
    if code == nil || code.Entry == nil {
        return ret
    }
    for _, p := range code.Entry.Insns {
        if p.Op.IsLoadParam() {
            ret[p.Dst] = int(p.Lit)
        } else {
            break
        }
    }
    return ret
}

func arraykindofinsn(p *ir.Insn) ArrayKind {
    if p.TypeRef != nil && p.TypeRef.IsArray() {
        return ArrayKindOf(p.TypeRef.Elem())
    }
    return ArrObject
}
