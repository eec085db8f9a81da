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
    `sync`

    `github.com/oleiade/lane`

    `github.com/dexopt/dexopt/internal/analysis/absint`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/trace`
    `github.com/dexopt/dexopt/internal/wq`
)

// State is the whole-program field-value environment: static fields bound
// by initializer analysis and effectively-final constant instance fields.
type State struct {
    scope   *ir.Scope
    statics map[*ir.Field]absint.Value
    finals  map[*ir.FieldRef]absint.Value
}

// StaticValue implements absint.FieldValues.
func (self *State) StaticValue(f *ir.Field) (absint.Value, bool) {
    v, ok := self.statics[f]
    return v, ok
}

// InstanceValue returns the constant bound to an effectively-final
// instance field, if the constructor scan proved one.
func (self *State) InstanceValue(ref *ir.FieldRef) (absint.Value, bool) {
    v, ok := self.finals[ref]
    return v, ok
}

// StaticCount returns the number of bound static fields.
func (self *State) StaticCount() int {
    return len(self.statics)
}

// Compute builds the whole-program state: initializers are analyzed in
// dependency order, then constructors are scanned for constant instance
// fields.
func Compute(scope *ir.Scope, minSdk int64) *State {
    st := &State {
        scope   : scope,
        statics : make(map[*ir.Field]absint.Value),
        finals  : make(map[*ir.FieldRef]absint.Value),
    }
    escaped := findEscapedStatics(scope)
    order, skipped := clinitOrder(scope)
    st.liftStatics(order, skipped, escaped, minSdk)
    st.scanConstructors()
    return st
}

/* statics written outside their owner's initializer can never be lifted */
func findEscapedStatics(scope *ir.Scope) map[*ir.Field]struct{} {
    var mu sync.Mutex
    escaped := make(map[*ir.Field]struct{})

    wq.ForEach(len(scope.Classes), func(i int) {
        var local []*ir.Field
        cls := scope.Classes[i]

        for _, m := range cls.AllMethods() {
            if m.Code == nil || m.Ref.IsClinit() {
                continue
            }
            for _, bb := range m.Code.Blocks {
                for _, p := range bb.Insns {
                    if p.Op != ir.OpSput {
                        continue
                    }
                    if f := scope.ResolveField(p.Field, true); f != nil {
                        local = append(local, f)
                    }
                }
            }
        }

        if len(local) == 0 {
            return
        }
        mu.Lock()
        for _, f := range local {
            escaped[f] = struct{}{}
        }
        mu.Unlock()
    })
    return escaped
}

/* dependency edges of a class initializer: statics it reads or writes,
 * static methods it calls, classes it instantiates */
func clinitDeps(scope *ir.Scope, m *ir.Method) map[*ir.Class]struct{} {
    deps := make(map[*ir.Class]struct{})
    add := func(tp *ir.Type) {
        if cls := scope.ClassOf(tp); cls != nil && cls != m.Class {
            deps[cls] = struct{}{}
        }
    }

    for _, bb := range m.Code.Blocks {
        for _, p := range bb.Insns {
            switch p.Op {
                case ir.OpSget, ir.OpSput         : add(p.Field.Owner)
                case ir.OpInvokeStatic            : add(p.Method.Owner)
                case ir.OpNewInstance, ir.OpInitClass : add(p.TypeRef)
            }
        }
    }
    return deps
}

/* Kahn topological sort over initializer dependencies, classes inside
 * dependency cycles are reported back as skipped */
func clinitOrder(scope *ir.Scope) ([]*ir.Class, map[*ir.Class]struct{}) {
    deps := make(map[*ir.Class]map[*ir.Class]struct{})
    for _, cls := range scope.Classes {
        if m := cls.Clinit(); m != nil && m.Code != nil {
            deps[cls] = clinitDeps(scope, m)
        } else {
            deps[cls] = nil
        }
    }

    /* count only edges into classes that are themselves under analysis */
    indeg := make(map[*ir.Class]int, len(deps))
    rdeps := make(map[*ir.Class][]*ir.Class)
    for cls, dd := range deps {
        for d := range dd {
            if _, ok := deps[d]; ok {
                indeg[cls]++
                rdeps[d] = append(rdeps[d], cls)
            }
        }
    }

    wl := lane.NewQueue()
    for _, cls := range scope.Classes {
        if indeg[cls] == 0 {
            wl.Enqueue(cls)
        }
    }

    var order []*ir.Class
    for !wl.Empty() {
        cls := wl.Dequeue().(*ir.Class)
        order = append(order, cls)
        for _, u := range rdeps[cls] {
            if indeg[u]--; indeg[u] == 0 {
                wl.Enqueue(u)
            }
        }
    }

    /* whatever never reached zero in-degree sits on a cycle */
    skipped := make(map[*ir.Class]struct{})
    if len(order) != len(scope.Classes) {
        for _, cls := range scope.Classes {
            if indeg[cls] > 0 {
                skipped[cls] = struct{}{}
                trace.T("global", 2, "clinit cycle, skipping %s", cls.Type)
            }
        }
    }
    return order, skipped
}

func (self *State) liftStatics(order []*ir.Class, skipped map[*ir.Class]struct{}, escaped map[*ir.Field]struct{}, minSdk int64) {
    it := absint.Interp {
        Scope  : self.scope,
        MinSdk : minSdk,
        Fields : self,
    }

    for _, cls := range order {
        if _, ok := skipped[cls]; ok {
            continue
        }

        /* no initializer: final statics keep their zero/null defaults */
        m := cls.Clinit()
        if m == nil || m.Code == nil {
            for _, f := range cls.SFields {
                if _, esc := escaped[f]; !esc && f.IsFinal() {
                    self.statics[f] = defaultValue(f.Ref.Type)
                }
            }
            continue
        }

        /* interpret the initializer and lift its exit bindings */
        res := it.Run(m.Code, nil)
        exit := exitEnv(m.Code, res)
        if exit == nil {
            continue
        }
        for _, f := range cls.SFields {
            if _, esc := escaped[f]; esc {
                continue
            }
            if v, ok := exit.Statics[f]; ok {
                if v.Kind != absint.Top && v.Kind != absint.Bottom {
                    self.statics[f] = v
                }
            } else if f.IsFinal() {
                self.statics[f] = defaultValue(f.Ref.Type)
            }
        }
        trace.T("global", 3, "lifted %s: %d statics bound", cls.Type, len(self.statics))
    }
}

/* join of all environments flowing out of returning blocks */
func exitEnv(code *ir.Code, res *absint.Result) *absint.Env {
    var exit *absint.Env
    for _, bb := range code.Blocks {
        tm := bb.Term()
        if tm == nil || !tm.Op.IsReturn() {
            continue
        }
        env, ok := res.Out[bb.Id]
        if !ok {
            continue
        }
        if exit == nil {
            exit = env.Clone()
        } else {
            exit.JoinWith(env)
        }
    }
    return exit
}

func defaultValue(tp *ir.Type) absint.Value {
    if tp.IsPrimitive() {
        return absint.IntV(0)
    }
    return absint.NullV()
}

/* proved when every constructor writes the same constant before any call
 * leaks the receiver, and nothing outside the constructors writes it */
func (self *State) scanConstructors() {
    var mu sync.Mutex

    wq.ForEach(len(self.scope.Classes), func(i int) {
        cls := self.scope.Classes[i]
        cands := constCtorWrites(self.scope, cls)
        if len(cands) == 0 {
            return
        }
        mu.Lock()
        for ref, v := range cands {
            self.finals[ref] = v
        }
        mu.Unlock()
    })
}

func constCtorWrites(scope *ir.Scope, cls *ir.Class) map[*ir.FieldRef]absint.Value {
    ctors := cls.Ctors()
    if len(ctors) == 0 {
        return nil
    }

    /* fields written by non-constructor code are out */
    unsafe := make(map[*ir.FieldRef]struct{})
    for _, m := range cls.AllMethods() {
        if m.Code == nil || (m.Ref.IsInit() && m.Class == cls) {
            continue
        }
        for _, bb := range m.Code.Blocks {
            for _, p := range bb.Insns {
                if p.Op == ir.OpIput && p.Field.Owner == cls.Type {
                    unsafe[p.Field] = struct{}{}
                }
            }
        }
    }

    /* intersect constant writes across every constructor */
    var agreed map[*ir.FieldRef]absint.Value
    for _, m := range ctors {
        if m.Code == nil {
            return nil
        }
        writes := ctorFieldConsts(m, cls)
        if agreed == nil {
            agreed = writes
            continue
        }
        for ref, v := range agreed {
            if w, ok := writes[ref]; !ok || !w.Eq(v) {
                delete(agreed, ref)
            }
        }
    }

    for ref := range unsafe {
        delete(agreed, ref)
    }
    for _, f := range cls.IFields {
        if !f.IsFinal() {
            delete(agreed, f.Ref)
        }
    }
    return agreed
}

/* the constant iputs of one constructor, a field written twice or with a
 * non-constant value does not qualify */
func ctorFieldConsts(m *ir.Method, cls *ir.Class) map[*ir.FieldRef]absint.Value {
    consts := make(map[ir.Reg]int64)
    writes := make(map[*ir.FieldRef]absint.Value)

    /* single straight-line scan of the entry block covers the common
     * constructor shape, branching constructors stay unproven */
    if len(m.Code.Blocks) != 1 {
        return nil
    }
    for _, p := range m.Code.Entry.Insns {
        switch p.Op {
            case ir.OpConst, ir.OpConstWide: {
                consts[p.Dst] = p.Lit
            }
            case ir.OpIput: {
                if p.Field.Owner != cls.Type {
                    continue
                }
                if v, ok := consts[p.Srcs[0]]; ok {
                    if _, dup := writes[p.Field]; dup {
                        delete(writes, p.Field)
                    } else {
                        writes[p.Field] = absint.IntV(v)
                    }
                } else {
                    delete(writes, p.Field)
                }
            }
            default: {
                if p.HasDst() {
                    delete(consts, p.Dst)
                }
            }
        }
    }
    return writes
}
