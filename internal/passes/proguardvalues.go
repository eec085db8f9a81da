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
    `sync/atomic`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/wq`
)

// ResolveProguardValues folds the results of calls and field reads that
// keep rules declare side-effect free with a known constant value. The
// "assume_values" config section maps method/field descriptors to the
// assumed constant.
type ResolveProguardValues struct{}

func (*ResolveProguardValues) Name() string {
    return "ResolveProguardValues"
}

func (*ResolveProguardValues) Properties() Table {
    return Table{}.
        With(NoUnreachableInstructions, Preserves).
        With(HasSourceBlocks, Preserves)
}

func (*ResolveProguardValues) RunPass(ctx *Context) {
    sub := ctx.Config.Sub("assume_values")
    methods := make(map[string]int64)
    fields := make(map[string]int64)
    for _, k := range sub.Sub("methods").Keys() {
        methods[k] = sub.Sub("methods").Int(k, 0)
    }
    for _, k := range sub.Sub("fields").Keys() {
        fields[k] = sub.Sub("fields").Int(k, 0)
    }
    if len(methods) == 0 && len(fields) == 0 {
        return
    }

    all := ctx.Scope.MethodsWithCode()
    var folded int64
    wq.ForEach(len(all), func(i int) {
        atomic.AddInt64(&folded, resolveAssumed(all[i].Code, methods, fields))
    })
    ctx.Metrics.Add("resolve_proguard_values/folded", atomic.LoadInt64(&folded))
}

func resolveAssumed(code *ir.Code, methods map[string]int64, fields map[string]int64) int64 {
    var n int64
    mut := ir.NewMutation(code)

    for _, bb := range code.Blocks {
        var assumed *int64
        for _, p := range bb.Insns {
            switch {
                case p.Op.IsInvoke(): {
                    if v, ok := methods[p.Method.String()]; ok {
                        assumed = &v
                    } else {
                        assumed = nil
                    }
                }

                /* the invoke stays, only its observed result is pinned */
                case p.Op.IsMoveResult() && assumed != nil: {
                    mut.Replace(p, ir.NewConst(p.Dst, *assumed))
                    assumed = nil
                    n++
                }

                case p.Op == ir.OpSget: {
                    if v, ok := fields[p.Field.String()]; ok {
                        mut.Replace(p, ir.NewConst(p.Dst, v))
                        n++
                    }
                    assumed = nil
                }

                default: {
                    assumed = nil
                }
            }
        }
    }

    if n > 0 {
        mut.Commit()
    }
    return n
}
