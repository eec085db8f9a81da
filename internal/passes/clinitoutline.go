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
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/trace`
)

/* initializers below this size are cheaper inline */
const _OutlineMinInsns = 8

// ClinitOutline moves hot class initializer bodies into a generated
// static method, leaving a call-and-return stub. Outlined bodies verify
// faster at install time. Final static fields written by the moved code
// must lose their final flag, the writes now happen outside <clinit>.
type ClinitOutline struct{}

func (*ClinitOutline) Name() string {
    return "ClinitOutline"
}

func (*ClinitOutline) Properties() Table {
    return Table{}.
        With(NoUnreachableInstructions, Preserves).
        With(HasSourceBlocks, Preserves)
}

func (*ClinitOutline) RunPass(ctx *Context) {
    if ctx.Baseline == nil {
        return
    }

    min := ctx.Config.Sub("clinit_outline").Int("min_insns", _OutlineMinInsns)
    outlined := int64(0)

    for _, cls := range ctx.Scope.Classes {
        m := cls.Clinit()
        if m == nil || m.Code == nil || int64(m.Code.InsnCount()) < min {
            continue
        }
        if !ctx.Baseline.HotMethod(m.Ref.String()) {
            continue
        }
        outlineClinit(cls, m)
        outlined++
    }
    ctx.Metrics.Add("clinit_outline/outlined", outlined)
}

func outlineClinit(cls *ir.Class, m *ir.Method) {
    ref := ir.MakeMethodRef(cls.Type, "clinit$outlined", ir.MakeProto(ir.TypeVoid))
    out := &ir.Method {
        Ref    : ref,
        Class  : cls,
        Access : ir.AccStatic | ir.AccSynthetic,
        Code   : m.Code,
    }
    out.Code.Method = out
    cls.DMethods = append(cls.DMethods, out)

    /* the stub calls the moved body and returns */
    stub := ir.NewCode(m, 0)
    bb := stub.NewBlock()
    bb.Append(ir.NewInvoke(ir.OpInvokeStatic, ref))
    bb.Append(ir.NewInsn(ir.OpReturnVoid, ir.NoReg))
    stub.SetEntry(bb)
    m.Code = stub

    /* writes moved out of <clinit> invalidate final */
    definalWritten(cls, out)
    trace.T("passes", 3, "outlined %s", ref)
}

func definalWritten(cls *ir.Class, m *ir.Method) {
    for _, bb := range m.Code.Blocks {
        for _, p := range bb.Insns {
            if p.Op != ir.OpSput || p.Field.Owner != cls.Type {
                continue
            }
            for _, f := range cls.SFields {
                if f.Ref == p.Field {
                    f.Access &^= ir.AccFinal
                }
            }
        }
    }
}
