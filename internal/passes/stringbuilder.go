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

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/trace`
)

const (
    _SbMaxLength = 9
    _SbMinCount  = 5
)

var (
    sbType     = ir.MakeType("Ljava/lang/StringBuilder;")
    concatType = ir.MakeType("Ldexopt/gen/Concat;")
)

// StringBuilderOutliner finds StringBuilder chains whose append sequence is
// fully known at the toString call, groups them by argument type-list, and
// replaces frequent shapes with a call to a synthesized concat helper. The
// dead builder plumbing is left for the shrinker to sweep.
type StringBuilderOutliner struct{}

func (*StringBuilderOutliner) Name() string {
    return "StringBuilderOutliner"
}

func (*StringBuilderOutliner) Properties() Table {
    return Table{}.
        With(NoUnreachableInstructions, Preserves).
        With(HasSourceBlocks, Preserves)
}

/* one observed builder: the append argument types and the registers still
 * holding those arguments at the toString site */
type _Chain struct {
    code     *ir.Code
    toString *ir.Insn
    types    []*ir.Type
    regs     []ir.Reg
}

func (self *_Chain) key() string {
    var sb strings.Builder
    for _, t := range self.types {
        sb.WriteString(t.Descriptor)
    }
    return sb.String()
}

func (self *StringBuilderOutliner) RunPass(ctx *Context) {
    cfg := ctx.Config.Sub("stringbuilder_outliner")
    maxLen := int(cfg.Int("max_length", _SbMaxLength))
    minCount := int(cfg.Int("min_count", _SbMinCount))

    byKey := make(map[string][]*_Chain)
    for _, m := range ctx.Scope.MethodsWithCode() {
        for _, c := range findChains(m.Code, maxLen) {
            byKey[c.key()] = append(byKey[c.key()], c)
        }
    }

    keys := make([]string, 0, len(byKey))
    for k, cs := range byKey {
        if len(cs) >= minCount {
            keys = append(keys, k)
        }
    }
    if len(keys) == 0 {
        return
    }
    sort.Strings(keys)

    helpers := self.helperClass(ctx)
    var n int64
    for i, k := range keys {
        chains := byKey[k]
        helper := synthConcat(helpers, i, chains[0].types)
        for _, c := range chains {
            rewriteChain(c, helper)
            n++
        }
        trace.T("passes", 2, "outlined %d StringBuilder chains into %s", len(chains), helper.Ref)
    }
    ctx.Metrics.Add("stringbuilder_outliner/chains_outlined", n)
    ctx.Metrics.Add("stringbuilder_outliner/helpers_emitted", int64(len(keys)))
}

/* the helper class is created on first use and dropped into the primary
 * DEX file when a store world is attached */
func (self *StringBuilderOutliner) helperClass(ctx *Context) *ir.Class {
    if cls := ctx.Scope.ClassOf(concatType); cls != nil {
        return cls
    }

    cls := &ir.Class {
        Type   : concatType,
        Super  : ir.MakeType("Ljava/lang/Object;"),
        Access : ir.AccPublic | ir.AccFinal,
    }
    cls.Rstate.Generated = true
    ctx.Scope.AddClass(cls)
    if ctx.World != nil {
        ctx.World.Primary().Add(cls)
    }
    return cls
}

/* builders fully observed within one block: construction, every append,
 * and the toString, with no interfering use of the builder or its
 * captured argument registers */
func findChains(code *ir.Code, maxLen int) []*_Chain {
    var out []*_Chain
    for _, bb := range code.Blocks {
        out = append(out, blockChains(code, bb, maxLen)...)
    }
    return out
}

type _Builder struct {
    inited bool
    dead   bool
    types  []*ir.Type
    regs   []ir.Reg
}

func blockChains(code *ir.Code, bb *ir.Block, maxLen int) []*_Chain {
    var out []*_Chain

    builders := make(map[ir.Reg]*_Builder)
    kill := func(r ir.Reg) {
        if b, ok := builders[r]; ok {
            b.dead = true
            delete(builders, r)
        }
        for _, b := range builders {
            for _, ar := range b.regs {
                if ar == r {
                    b.dead = true
                }
            }
        }
    }

    for i := 0; i < len(bb.Insns); i++ {
        p := bb.Insns[i]

        switch {
            case p.Op == ir.OpNewInstance && p.TypeRef == sbType: {
                kill(p.Dst)
                builders[p.Dst] = &_Builder{}
                continue
            }

            case p.Op == ir.OpInvokeDirect && p.Method.Owner == sbType && p.Method.IsInit(): {
                if b, ok := builders[p.Srcs[0]]; ok && len(p.Srcs) == 1 {
                    b.inited = true
                    continue
                }
            }

            case p.Op == ir.OpInvokeVirtual && p.Method.Owner == sbType && p.Method.Name == "append": {
                b, ok := builders[p.Srcs[0]]
                if ok && b.inited && !b.dead && len(p.Method.Proto.Args) == 1 {
                    b.types = append(b.types, p.Method.Proto.Args[0])
                    b.regs = append(b.regs, p.Srcs[1])
                    /* append returns the receiver, alias the result */
                    if i + 1 < len(bb.Insns) && bb.Insns[i+1].Op.IsMoveResult() {
                        i++
                        kill(bb.Insns[i].Dst)
                        builders[bb.Insns[i].Dst] = b
                    }
                    continue
                }
            }

            case p.Op == ir.OpInvokeVirtual && p.Method.Owner == sbType && p.Method.Name == "toString": {
                b, ok := builders[p.Srcs[0]]
                if ok && b.inited && !b.dead && len(b.types) > 0 && len(b.types) <= maxLen {
                    out = append(out, &_Chain {
                        code     : code,
                        toString : p,
                        types    : b.types,
                        regs     : b.regs,
                    })
                }
                delete(builders, p.Srcs[0])
                continue
            }
        }

        /* anything else touching a tracked register spoils its chain */
        for _, s := range p.Srcs {
            if _, ok := builders[s]; ok {
                kill(s)
            }
        }
        if p.HasDst() {
            kill(p.Dst)
            if p.DstWide() {
                kill(p.Dst + 1)
            }
        }
    }
    return out
}

/* concat(T0, T1, ...) replays the appends and returns the string */
func synthConcat(cls *ir.Class, idx int, args []*ir.Type) *ir.Method {
    ref := ir.MakeMethodRef(cls.Type, fmt.Sprintf("concat$%d", idx), ir.MakeProto(ir.TypeString, args...))
    m := &ir.Method {
        Ref    : ref,
        Class  : cls,
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

    sb := code.AllocReg(false)
    bb.Append(ir.NewTypeOp(ir.OpNewInstance, sbType, sb))
    bb.Append(ir.NewInvoke(ir.OpInvokeDirect, ir.MakeMethodRef(sbType, "<init>", ir.MakeProto(ir.TypeVoid)), sb))

    for i, t := range args {
        bb.Append(ir.NewInvoke(ir.OpInvokeVirtual, appendRef(t), sb, params[i]))
    }

    bb.Append(ir.NewInvoke(ir.OpInvokeVirtual, ir.MakeMethodRef(sbType, "toString", ir.MakeProto(ir.TypeString)), sb))
    ret := code.AllocReg(false)
    bb.Append(ir.NewInsn(ir.OpMoveResultObject, ret))
    bb.Append(ir.NewInsn(ir.OpReturnObject, ir.NoReg, ret))

    m.Code = code
    cls.DMethods = append(cls.DMethods, m)
    return m
}

func appendRef(t *ir.Type) *ir.MethodRef {
    return ir.MakeMethodRef(sbType, "append", ir.MakeProto(sbType, t))
}

func loadParamOp(t *ir.Type) ir.Opcode {
    switch {
        case t.IsReference() : return ir.OpLoadParamObject
        case t.IsWide()      : return ir.OpLoadParamWide
        default              : return ir.OpLoadParam
    }
}

func rewriteChain(c *_Chain, helper *ir.Method) {
    mut := ir.NewMutation(c.code)
    mut.Replace(c.toString, ir.NewInvoke(ir.OpInvokeStatic, helper.Ref, c.regs...))
    mut.Commit()
}
