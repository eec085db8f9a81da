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
    `github.com/dexopt/dexopt/internal/analysis/global`
    `github.com/dexopt/dexopt/internal/analysis/override`
    `github.com/dexopt/dexopt/internal/analysis/purity`
    `github.com/dexopt/dexopt/internal/config`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/opts`
    `github.com/dexopt/dexopt/internal/shrinker`
)

func testclass(desc string) *ir.Class {
    return &ir.Class {
        Type   : ir.MakeType(desc),
        Super  : ir.TypeObject,
        Access : ir.AccPublic,
    }
}

func teststatic(cls *ir.Class, name string, proto *ir.Proto) *ir.Method {
    m := &ir.Method {
        Ref    : ir.MakeMethodRef(cls.Type, name, proto),
        Class  : cls,
        Access : ir.AccPublic | ir.AccStatic,
    }
    cls.DMethods = append(cls.DMethods, m)
    return m
}

func testvirtual(cls *ir.Class, name string, proto *ir.Proto) *ir.Method {
    m := &ir.Method {
        Ref    : ir.MakeMethodRef(cls.Type, name, proto),
        Class  : cls,
        Access : ir.AccPublic,
    }
    cls.VMethods = append(cls.VMethods, m)
    return m
}

/* a context wired the way Optimize wires one, without a manager */
func testctx(json string, classes ...*ir.Class) *Context {
    cfg := config.WrapObject(nil)
    if json != "" {
        cfg = config.Wrap([]byte(json))
    }

    scope := ir.NewScope(classes)
    og := override.Build(scope)
    wps := global.Compute(scope, 21)
    return &Context {
        Scope     : scope,
        Config    : cfg,
        Options   : opts.GetDefaultOptions(),
        Metrics   : NewMetrics(),
        Overrides : og,
        Globals   : wps,
        Shrinker  : shrinker.New(shrinker.Config {
            RunConstProp       : true,
            RunCSE             : true,
            RunCopyProp        : true,
            RunLocalDCE        : true,
            RunRegAlloc        : true,
            RunDedupBlocks     : true,
            RunBranchHoisting  : true,
            ComputePureMethods : true,
        }, opts.GetDefaultOptions(), scope, 21, og, purity.Config{}, wps),
    }
}
