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
    `strings`

    `github.com/dexopt/dexopt/internal/concur`
    `github.com/dexopt/dexopt/internal/config`
    `github.com/dexopt/dexopt/internal/dexstore`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/trace`
    `github.com/dexopt/dexopt/internal/wq`
)

// ClassMerging collapses sets of sibling leaf classes under a configured
// root into one merger class. Merged instances carry an integer type-tag
// field; constructors gain a trailing tag argument, and instance-of on a
// source type becomes an instance-of on the merger guarded by a tag
// compare, so the distinct source types stay observable.
//
// Configured under "class_merging": each key names a model with a "root"
// descriptor and a "mergeables" descriptor list.
type ClassMerging struct{}

func (*ClassMerging) Name() string {
    return "ClassMerging"
}

func (*ClassMerging) Properties() Table {
    return Table{}.
        With(NoUnreachableInstructions, Preserves).
        With(HasSourceBlocks, Preserves)
}

/* one merge model after validation */
type _Model struct {
    name   string
    root   *ir.Type
    merger *ir.Class
    tagRef *ir.FieldRef
    tags   map[*ir.Type]int64
    ctors  map[*ir.MethodRef]*ir.MethodRef
    pads   map[*ir.MethodRef]int
    calls  map[*ir.MethodRef]*ir.MethodRef
    fields map[*ir.FieldRef]*ir.FieldRef
}

func (self *ClassMerging) RunPass(ctx *Context) {
    cfg := ctx.Config.Sub("class_merging")
    keys := cfg.Keys()
    if len(keys) == 0 {
        return
    }

    esc := escapingTypes(ctx.Scope, candidateTypes(cfg, keys))
    var models []*_Model

    for _, name := range keys {
        if mm := buildModel(ctx, name, cfg.Sub(name), esc); mm != nil {
            models = append(models, mm)
        }
    }

    for _, mm := range models {
        rewriteUses(ctx, mm)
        for tp := range mm.tags {
            cls := ctx.Scope.ClassOf(tp)
            if df := fileOf(ctx, cls); df != nil {
                df.Remove(cls)
            }
            ctx.Scope.RemoveClass(cls)
        }
        ctx.Metrics.Add("class_merging/classes_merged", int64(len(mm.tags)))
        trace.T("passes", 2, "model %q: merged %d classes into %s", mm.name, len(mm.tags), mm.merger.Type)
    }
}

func fileOf(ctx *Context, cls *ir.Class) *dexstore.DexFile {
    if ctx.World == nil {
        return nil
    }
    return ctx.World.FileOf(cls)
}

func buildModel(ctx *Context, name string, cfg *config.JsonWrapper, esc *concur.Set[*ir.Type]) *_Model {
    root := ir.MakeType(cfg.Str("root", ""))
    descs := cfg.StrList("mergeables")

    var kept []*ir.Class
    for _, d := range descs {
        cls := ctx.Scope.ClassOf(ir.MakeType(d))
        if cls == nil || !mergeable(ctx, cls, root, esc) {
            trace.T("passes", 2, "model %q: %s not mergeable, skipped", name, d)
            continue
        }
        kept = append(kept, cls)
    }
    if len(kept) < 2 {
        return nil
    }
    sort.Slice(kept, func(i int, j int) bool { return kept[i].Type.Descriptor < kept[j].Type.Descriptor })

    mm := &_Model {
        name   : name,
        root   : root,
        tags   : make(map[*ir.Type]int64),
        ctors  : make(map[*ir.MethodRef]*ir.MethodRef),
        pads   : make(map[*ir.MethodRef]int),
        calls  : make(map[*ir.MethodRef]*ir.MethodRef),
        fields : make(map[*ir.FieldRef]*ir.FieldRef),
    }
    mm.merger = makeMerger(ctx, root)
    mm.tagRef = ir.MakeFieldRef(mm.merger.Type, "$t", ir.TypeInt)
    mm.merger.IFields = append(mm.merger.IFields, &ir.Field {
        Ref    : mm.tagRef,
        Class  : mm.merger,
        Access : ir.AccPublic,
    })

    for i, cls := range kept {
        absorb(mm, cls, int64(i))
    }

    /* self and sibling references resolve only after every class moved */
    for _, m := range mm.merger.DMethods {
        remapBody(mm, m.Code)
    }
    for _, m := range mm.merger.VMethods {
        remapBody(mm, m.Code)
    }
    return mm
}

/* leaves only: a direct subclass of the root with nothing hanging off it
 * and no behavior the merger cannot carry */
func mergeable(ctx *Context, cls *ir.Class, root *ir.Type, esc *concur.Set[*ir.Type]) bool {
    if cls.Super != root || cls.IsInterface() || len(cls.Interfaces) != 0 {
        return false
    }
    if cls.Rstate.Root || cls.Rstate.NoOptimizations || len(cls.SFields) != 0 {
        return false
    }

    for _, m := range cls.DMethods {
        if m.Ref.IsClinit() || m.Code == nil {
            return false
        }
    }
    for _, m := range cls.VMethods {
        if m.Code == nil {
            return false
        }
        /* overriding a root method would need tag dispatch */
        if ctx.Scope.ResolveMethod(ir.MakeMethodRef(root, m.Ref.Name, m.Ref.Proto)) != nil {
            return false
        }
    }

    return !esc.Has(cls.Type)
}

/* every type any model wants to merge */
func candidateTypes(cfg *config.JsonWrapper, keys []string) map[*ir.Type]struct{} {
    cand := make(map[*ir.Type]struct{})
    for _, name := range keys {
        for _, d := range cfg.Sub(name).StrList("mergeables") {
            cand[ir.MakeType(d)] = struct{}{}
        }
    }
    return cand
}

/* a type woven into signatures, arrays, const-class, catch handlers or a
 * subclass relation cannot lose its identity; one parallel sweep over the
 * scope marks every escaping candidate at once */
func escapingTypes(scope *ir.Scope, cand map[*ir.Type]struct{}) *concur.Set[*ir.Type] {
    esc := concur.NewSet[*ir.Type](concur.PtrHash[ir.Type])
    classes := scope.Classes

    mark := func(tp *ir.Type) {
        if tp != nil {
            if _, ok := cand[tp]; ok {
                esc.Add(tp)
            }
        }
    }
    markProto := func(proto *ir.Proto) {
        mark(proto.Ret)
        for _, a := range proto.Args {
            mark(a)
        }
    }

    wq.ForEach(len(classes), func(i int) {
        c := classes[i]
        mark(c.Super)
        for _, f := range append(c.SFields, c.IFields...) {
            mark(f.Ref.Type)
        }
        for _, m := range c.AllMethods() {
            markProto(m.Ref.Proto)
            if m.Code == nil {
                continue
            }
            for _, bb := range m.Code.Blocks {
                for _, e := range bb.Succs {
                    mark(e.CatchType)
                }
                for _, p := range bb.Insns {
                    if p.Method != nil {
                        markProto(p.Method.Proto)
                    }
                    if p.Field != nil {
                        mark(p.Field.Type)
                    }
                    if p.TypeRef != nil {
                        markTypeUse(mark, p)
                    }
                }
            }
        }
    })
    return esc
}

/* allocation, casts and instance-of are rewritable; everything else pins
 * the type */
func markTypeUse(mark func(*ir.Type), p *ir.Insn) {
    switch p.Op {
        case ir.OpNewInstance, ir.OpCheckCast, ir.OpInstanceOf: {
            /* rewritten in place */
        }
        default: {
            mark(p.TypeRef)
            if p.TypeRef.IsArray() {
                mark(p.TypeRef.Elem())
            }
        }
    }
}

func makeMerger(ctx *Context, root *ir.Type) *ir.Class {
    desc := strings.TrimSuffix(root.Descriptor, ";") + "$Merged;"
    cls := &ir.Class {
        Type   : ir.MakeType(desc),
        Super  : root,
        Access : ir.AccPublic | ir.AccFinal,
    }
    cls.Rstate.Generated = true
    ctx.Scope.AddClass(cls)
    if ctx.World != nil {
        ctx.World.Primary().Add(cls)
    }
    return cls
}

/* moves one source class into the merger under the given tag */
func absorb(mm *_Model, cls *ir.Class, tag int64) {
    mm.tags[cls.Type] = tag

    for _, f := range cls.IFields {
        nf := ir.MakeFieldRef(mm.merger.Type, fmt.Sprintf("%s$%d", f.Ref.Name, tag), f.Ref.Type)
        mm.fields[f.Ref] = nf
        mm.merger.IFields = append(mm.merger.IFields, &ir.Field {
            Ref    : nf,
            Class  : mm.merger,
            Access : f.Access &^ ir.AccPrivate | ir.AccPublic,
        })
    }

    for _, m := range cls.DMethods {
        if m.Ref.IsInit() {
            absorbCtor(mm, m, tag)
        } else {
            moveMethod(mm, m, tag, true)
        }
    }
    for _, m := range cls.VMethods {
        moveMethod(mm, m, tag, false)
    }
}

/* constructors gain a trailing tag argument and store it before every
 * return; the tag write sits after the super call by construction since
 * returns post-date it */
func absorbCtor(mm *_Model, m *ir.Method, tag int64) {
    args := make([]*ir.Type, len(m.Ref.Proto.Args) + 1)
    copy(args, m.Ref.Proto.Args)
    args[len(args) - 1] = ir.TypeInt

    /* same-shape constructors from sibling sources collide after the tag
     * argument, pad with unused ints until the signature is free */
    pads := 0
    ref := ir.MakeMethodRef(mm.merger.Type, "<init>", ir.MakeProto(ir.TypeVoid, args...))
    for mm.merger.FindDMethod("<init>", ref.Proto) != nil {
        args = append(args, ir.TypeInt)
        ref = ir.MakeMethodRef(mm.merger.Type, "<init>", ir.MakeProto(ir.TypeVoid, args...))
        pads++
    }
    mm.ctors[m.Ref] = ref
    mm.pads[ref] = pads

    m.Ref = ref
    m.Class = mm.merger
    m.Access = m.Access &^ ir.AccPrivate | ir.AccPublic

    /* receive and record the tag */
    code := m.Code
    tr := code.AllocReg(false)
    this := code.Entry.Insns[0].Dst
    ep := lastParamIndex(code.Entry)
    insertAt(code.Entry, ep + 1, &ir.Insn { Op: ir.OpLoadParam, Dst: tr })
    for k := 0; k < pads; k++ {
        insertAt(code.Entry, ep + 2 + k, &ir.Insn { Op: ir.OpLoadParam, Dst: code.AllocReg(false) })
    }

    mut := ir.NewMutation(code)
    for _, bb := range code.Blocks {
        if tm := bb.Term(); tm != nil && tm.Op == ir.OpReturnVoid {
            mut.Replace(tm,
                ir.NewFieldOp(ir.OpIput, mm.tagRef, ir.NoReg, tr, this),
                ir.NewInsn(ir.OpReturnVoid, ir.NoReg))
        }
    }
    mut.Commit()
    mm.merger.DMethods = append(mm.merger.DMethods, m)
}

func moveMethod(mm *_Model, m *ir.Method, tag int64, direct bool) {
    ref := ir.MakeMethodRef(mm.merger.Type, fmt.Sprintf("%s$%d", m.Ref.Name, tag), m.Ref.Proto)
    mm.calls[m.Ref] = ref

    m.Ref = ref
    m.Class = mm.merger
    remapBody(mm, m.Code)
    if direct {
        mm.merger.DMethods = append(mm.merger.DMethods, m)
    } else {
        m.Access = m.Access &^ ir.AccPrivate | ir.AccPublic
        mm.merger.VMethods = append(mm.merger.VMethods, m)
    }
}

/* self-references inside a moved body point at the merger afterwards */
func remapBody(mm *_Model, code *ir.Code) {
    for _, bb := range code.Blocks {
        for _, p := range bb.Insns {
            if p.Field != nil {
                if nf, ok := mm.fields[p.Field]; ok {
                    p.Field = nf
                }
            }
            if p.Method != nil {
                if nr, ok := mm.calls[p.Method]; ok {
                    p.Method = nr
                }
            }
            /* instance-of keeps the source type until the tag-guard
             * expansion rewrites it */
            if p.TypeRef != nil && p.Op != ir.OpInstanceOf {
                if _, ok := mm.tags[p.TypeRef]; ok {
                    p.TypeRef = mm.merger.Type
                }
            }
        }
    }
}

func lastParamIndex(bb *ir.Block) int {
    last := -1
    for i, p := range bb.Insns {
        if !p.Op.IsLoadParam() {
            break
        }
        last = i
    }
    return last
}

func insertAt(bb *ir.Block, i int, p *ir.Insn) {
    bb.Insns = append(bb.Insns, nil)
    copy(bb.Insns[i+1:], bb.Insns[i:])
    bb.Insns[i] = p
}

/* rewrites every use of a merged type across the scope */
func rewriteUses(ctx *Context, mm *_Model) {
    for _, m := range ctx.Scope.MethodsWithCode() {
        rewriteMethodUses(m.Code, mm)
    }
}

func rewriteMethodUses(code *ir.Code, mm *_Model) {
    mut := ir.NewMutation(code)
    for _, bb := range code.Blocks {
        for _, p := range bb.Insns {
            switch {
                case p.Op == ir.OpNewInstance || p.Op == ir.OpCheckCast: {
                    if _, ok := mm.tags[p.TypeRef]; ok {
                        p.TypeRef = mm.merger.Type
                    }
                }

                case p.Op == ir.OpInvokeDirect && p.Method.IsInit(): {
                    if nr, ok := mm.ctors[p.Method]; ok {
                        tr := code.AllocReg(false)
                        np := p.Clone()
                        np.Method = nr
                        np.Srcs = append(np.Srcs, tr)
                        lead := []*ir.Insn { ir.NewConst(tr, mm.tags[p.Method.Owner]) }
                        for k := 0; k < mm.pads[nr]; k++ {
                            pr := code.AllocReg(false)
                            lead = append(lead, ir.NewConst(pr, 0))
                            np.Srcs = append(np.Srcs, pr)
                        }
                        mut.Replace(p, append(lead, np)...)
                    }
                }

                case p.Op.IsInvoke(): {
                    if nr, ok := mm.calls[p.Method]; ok {
                        p.Method = nr
                    }
                }

                default: {
                    if p.Field != nil {
                        if nf, ok := mm.fields[p.Field]; ok {
                            p.Field = nf
                        }
                    }
                }
            }
        }
    }
    mut.Commit()

    /* instance-of needs CFG surgery, locate sites on the settled layout;
     * splitting appends new blocks, so snapshot the list */
    blocks := make([]*ir.Block, len(code.Blocks))
    copy(blocks, code.Blocks)
    for _, bb := range blocks {
        for i := len(bb.Insns) - 1; i >= 0; i-- {
            p := bb.Insns[i]
            if p.Op != ir.OpInstanceOf {
                continue
            }
            if tag, ok := mm.tags[p.TypeRef]; ok {
                expandInstanceOf(code, bb, i, tag, mm)
            }
        }
    }
}

// expandInstanceOf turns "instance-of d, s, Source" into a merger check
// guarded by the type tag:
//
//      instance-of d, s, Merger
//      if-eqz d -> join                 (d is 0 already)
//      check-cast s, Merger
//      iget t, s, $t
//      binop-lit d = t ^ tag
//      if-eqz d -> one
//      const d, 0 ; goto join
// one: const d, 1 ; goto join
func expandInstanceOf(code *ir.Code, bb *ir.Block, i int, tag int64, mm *_Model) {
    p := bb.Insns[i]
    d, s := p.Dst, p.Srcs[0]

    /* split the tail off into the join block */
    join := code.NewBlock()
    join.Insns = append(join.Insns, bb.Insns[i+1:]...)
    for _, e := range append([]*ir.Edge(nil), bb.Succs...) {
        code.RedirectSrc(e, join)
    }
    bb.Insns = bb.Insns[:i]

    t := code.AllocReg(false)
    check := code.NewBlock()
    zero := code.NewBlock()
    one := code.NewBlock()

    bb.Append(
        ir.NewTypeOp(ir.OpInstanceOf, mm.merger.Type, d, s),
        ir.NewInsn(ir.OpIfEqz, ir.NoReg, d))
    code.AddBranchEdge(bb, join, 1)
    code.AddEdge(bb, check, ir.EdgeGoto)

    check.Append(
        ir.NewTypeOp(ir.OpCheckCast, mm.merger.Type, ir.NoReg, s),
        ir.NewFieldOp(ir.OpIget, mm.tagRef, t, s),
        &ir.Insn { Op: ir.OpBinopLit, Binary: ir.BinXor, Dst: d, Srcs: []ir.Reg { t }, Lit: tag },
        ir.NewInsn(ir.OpIfEqz, ir.NoReg, d))
    code.AddBranchEdge(check, one, 1)
    code.AddEdge(check, zero, ir.EdgeGoto)

    zero.Append(ir.NewConst(d, 0))
    code.AddEdge(zero, join, ir.EdgeGoto)
    one.Append(ir.NewConst(d, 1))
    code.AddEdge(one, join, ir.EdgeGoto)
}
