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

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/trace`
)

// StaticRelo moves static methods into the single class that calls them.
// A relocated method no longer pins its old owner into the caller's DEX
// file, which shrinks the cross-file reference tallies the reshuffler
// works against.
type StaticRelo struct{}

func (*StaticRelo) Name() string {
    return "StaticRelo"
}

func (*StaticRelo) Properties() Table {
    return Table{}.
        With(NoUnreachableInstructions, Preserves).
        With(HasSourceBlocks, Preserves)
}

type _CallerInfo struct {
    classes map[*ir.Class]struct{}
    sites   []*ir.Insn
    foreign bool        // referenced by something other than invoke-static
}

func (self *StaticRelo) RunPass(ctx *Context) {
    infos := collectCallers(ctx.Scope)
    var n int64

    /* relocation edits the method lists, so pick candidates first */
    var moves []*ir.Method
    for _, cls := range ctx.Scope.Classes {
        for _, m := range cls.DMethods {
            if relocatable(ctx.Scope, m, infos[m.Ref]) != nil {
                moves = append(moves, m)
            }
        }
    }
    for _, m := range moves {
        if dst := relocatable(ctx.Scope, m, infos[m.Ref]); dst != nil {
            relocate(m, dst, infos[m.Ref])
            n++
        }
    }
    ctx.Metrics.Add("static_relo/methods_relocated", n)
}

func collectCallers(scope *ir.Scope) map[*ir.MethodRef]*_CallerInfo {
    infos := make(map[*ir.MethodRef]*_CallerInfo)
    at := func(ref *ir.MethodRef) *_CallerInfo {
        ci, ok := infos[ref]
        if !ok {
            ci = &_CallerInfo { classes: make(map[*ir.Class]struct{}) }
            infos[ref] = ci
        }
        return ci
    }

    scope.EachMethod(func(m *ir.Method) {
        if m.Code == nil {
            return
        }
        for _, bb := range m.Code.Blocks {
            for _, p := range bb.Insns {
                if p.Method == nil {
                    continue
                }
                ci := at(p.Method)
                if p.Op == ir.OpInvokeStatic {
                    ci.classes[m.Class] = struct{}{}
                    ci.sites = append(ci.sites, p)
                } else {
                    ci.foreign = true
                }
            }
        }
    })
    return infos
}

/* the single calling class, or nil when the method must stay put */
func relocatable(scope *ir.Scope, m *ir.Method, ci *_CallerInfo) *ir.Class {
    if ci == nil || ci.foreign || len(ci.classes) != 1 {
        return nil
    }
    if !m.IsStatic() || m.Code == nil || m.Ref.IsClinit() {
        return nil
    }
    if m.Class.Rstate.Root || m.Class.Rstate.NoOptimizations {
        return nil
    }

    var dst *ir.Class
    for c := range ci.classes {
        dst = c
    }
    if dst == m.Class || dst.IsInterface() || dst.Rstate.NoOptimizations {
        return nil
    }
    if touchesOwnPrivates(scope, m) {
        return nil
    }
    return dst
}

/* a method reading its owner's private members cannot leave the class */
func touchesOwnPrivates(scope *ir.Scope, m *ir.Method) bool {
    own := m.Class.Type
    for _, bb := range m.Code.Blocks {
        for _, p := range bb.Insns {
            if p.Field != nil && p.Field.Owner == own {
                f := scope.ResolveField(p.Field, p.Op == ir.OpSget || p.Op == ir.OpSput)
                if f == nil || f.Access & ir.AccPrivate != 0 {
                    return true
                }
            }
            if p.Method != nil && p.Method.Owner == own && p.Op != ir.OpInvokeStatic {
                return true
            }
            if p.Method != nil && p.Method.Owner == own && p.Op == ir.OpInvokeStatic {
                t := scope.ResolveMethod(p.Method)
                if t == nil || t.IsPrivate() {
                    return true
                }
            }
        }
    }
    return false
}

func relocate(m *ir.Method, dst *ir.Class, ci *_CallerInfo) {
    name := m.Ref.Name
    for i := 0; taken(dst, name, m.Ref.Proto); i++ {
        name = fmt.Sprintf("%s$relo%d", m.Ref.Name, i)
    }

    trace.T("passes", 3, "static relo: %s -> %s", m.Ref, dst.Type)
    m.Class.RemoveMethod(m)
    ref := ir.MakeMethodRef(dst.Type, name, m.Ref.Proto)
    m.Ref = ref
    m.Class = dst
    m.Access |= ir.AccPublic
    m.Access &^= ir.AccPrivate
    dst.DMethods = append(dst.DMethods, m)

    for _, p := range ci.sites {
        p.Method = ref
    }
}

func taken(cls *ir.Class, name string, proto *ir.Proto) bool {
    for _, m := range cls.DMethods {
        if m.Ref.Name == name && m.Ref.Proto == proto {
            return true
        }
    }
    for _, m := range cls.VMethods {
        if m.Ref.Name == name && m.Ref.Proto == proto {
            return true
        }
    }
    return false
}
