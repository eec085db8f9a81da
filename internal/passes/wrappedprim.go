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
    `github.com/dexopt/dexopt/internal/analysis/absint`
    `github.com/dexopt/dexopt/internal/dataflow`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/trace`
)

// WrappedPrimitives unwraps value-class style wrappers at allow-listed
// call-sites. A wrapper field whose wrapped primitive the whole-program
// analysis proved constant is replaced with a const of the primitive, and
// the invoke retargets to the primitive-typed form of the method.
//
// Configured under "wrapped_primitives": each key is a wrapper descriptor
// mapping to { "primitive": "J", "allowed_invokes": [...], "cast_receivers_to": "..." }.
type WrappedPrimitives struct{}

func (*WrappedPrimitives) Name() string {
    return "WrappedPrimitives"
}

func (*WrappedPrimitives) Properties() Table {
    return Table{}.
        With(NoUnreachableInstructions, Preserves).
        With(HasSourceBlocks, Preserves)
}

type _WrapperSpec struct {
    wrapper *ir.Type
    prim    *ir.Type
    castTo  *ir.Type
    allowed map[string]struct{}
}

func (self *WrappedPrimitives) RunPass(ctx *Context) {
    specs := parseWrapperSpecs(ctx)
    if len(specs) == 0 || ctx.Globals == nil {
        return
    }

    consts := constantWrapperFields(ctx, specs)
    if len(consts) == 0 {
        return
    }

    var n int64
    for _, m := range ctx.Scope.MethodsWithCode() {
        n += unwrapMethod(m.Code, specs, consts)
    }
    ctx.Metrics.Add("wrapped_primitives/invokes_rewritten", n)
}

func parseWrapperSpecs(ctx *Context) map[*ir.Type]*_WrapperSpec {
    cfg := ctx.Config.Sub("wrapped_primitives")
    specs := make(map[*ir.Type]*_WrapperSpec)

    for _, desc := range cfg.Keys() {
        sub := cfg.Sub(desc)
        prim := sub.Str("primitive", "")
        if prim == "" {
            trace.T("passes", 1, "wrapped primitives: %s has no primitive type, skipped", desc)
            continue
        }

        sp := &_WrapperSpec {
            wrapper : ir.MakeType(desc),
            prim    : ir.MakeType(prim),
            allowed : sub.StrSet("allowed_invokes"),
        }
        if cast := sub.Str("cast_receivers_to", ""); cast != "" {
            sp.castTo = ir.MakeType(cast)
        }
        specs[sp.wrapper] = sp
    }
    return specs
}

/* static final wrapper fields whose wrapped primitive is a known constant */
func constantWrapperFields(ctx *Context, specs map[*ir.Type]*_WrapperSpec) map[*ir.FieldRef]int64 {
    consts := make(map[*ir.FieldRef]int64)

    for _, cls := range ctx.Scope.Classes {
        for _, f := range cls.SFields {
            if f.Access & ir.AccFinal == 0 {
                continue
            }
            if _, ok := specs[f.Ref.Type]; !ok {
                continue
            }
            v, ok := ctx.Globals.StaticValue(f)
            if !ok || v.Kind != absint.ImmutableObj {
                continue
            }
            if w, ok := v.Attrs["a"]; ok {
                consts[f.Ref] = w
            }
        }
    }
    return consts
}

func unwrapMethod(code *ir.Code, specs map[*ir.Type]*_WrapperSpec, consts map[*ir.FieldRef]int64) int64 {
    var n int64
    rd := dataflow.ComputeReachingDefs(code)
    mut := ir.NewMutation(code)

    for _, bb := range code.Blocks {
        for i, p := range bb.Insns {
            if !p.Op.IsInvoke() || !allowedSite(p.Method, specs) {
                continue
            }
            if rw := unwrapSite(code, rd, bb, i, p, specs, consts); rw != nil {
                mut.Replace(p, rw...)
                n++
            }
        }
    }

    if n > 0 {
        mut.Commit()
    }
    return n
}

func allowedSite(ref *ir.MethodRef, specs map[*ir.Type]*_WrapperSpec) bool {
    for _, t := range ref.Proto.Args {
        if sp, ok := specs[t]; ok {
            if _, ok := sp.allowed[ref.String()]; ok {
                return true
            }
        }
    }
    return false
}

/* rewrites one allowed invoke, or returns nil when any wrapper argument
 * cannot be proven constant */
func unwrapSite(code *ir.Code, rd *dataflow.ReachingDefs, bb *ir.Block, i int, p *ir.Insn, specs map[*ir.Type]*_WrapperSpec, consts map[*ir.FieldRef]int64) []*ir.Insn {
    off := 0
    if p.Op != ir.OpInvokeStatic {
        off = 1
    }

    var lead []*ir.Insn
    var castTo *ir.Type

    np := p.Clone()
    args := make([]*ir.Type, len(p.Method.Proto.Args))
    copy(args, p.Method.Proto.Args)

    for ai, t := range p.Method.Proto.Args {
        sp, ok := specs[t]
        if !ok {
            continue
        }

        def := rd.SoleDef(bb, i, p.Srcs[ai + off])
        if def == nil || def.Op != ir.OpSget {
            return nil
        }
        w, ok := consts[def.Field]
        if !ok {
            return nil
        }

        r := code.AllocReg(sp.prim.IsWide())
        if sp.prim.IsWide() {
            lead = append(lead, ir.NewConstWide(r, w))
        } else {
            lead = append(lead, ir.NewConst(r, w))
        }
        np.Srcs[ai + off] = r
        args[ai] = sp.prim
        castTo = sp.castTo
    }

    owner := p.Method.Owner
    if castTo != nil && off == 1 && castTo != owner {
        lead = append(lead, ir.NewTypeOp(ir.OpCheckCast, castTo, ir.NoReg, p.Srcs[0]))
        owner = castTo
    }

    np.Method = ir.MakeMethodRef(owner, p.Method.Name, ir.MakeProto(p.Method.Proto.Ret, args...))
    return append(lead, np)
}
