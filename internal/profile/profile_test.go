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

package profile

import (
    `strings`
    `testing`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func TestApply_Thresholds(t *testing.T) {
    cfgs := map[string]InteractionConfig {
        "cold_start": {
            Threshold     : 80,
            CallThreshold : 10,
            Startup       : true,
        },
    }
    data := Data {
        "cold_start": {
            "La;.hot:()V"    : { AppearPercent: 95, CallCount: 100 },
            "La;.rare:()V"   : { AppearPercent: 10, CallCount: 100 },
            "La;.barely:()V" : { AppearPercent: 95, CallCount: 2 },
        },
    }

    bp := Apply(cfgs, data)
    require.Len(t, bp.Methods, 1)
    assert.True(t, bp.HotMethod("La;.hot:()V"))
    assert.True(t, bp.StartupMethod("La;.hot:()V"))
    assert.False(t, bp.HotMethod("La;.rare:()V"))
    assert.False(t, bp.HotMethod("La;.barely:()V"))
}

func TestApply_ManualBypassesThresholds(t *testing.T) {
    cfgs := map[string]InteractionConfig {
        ManualStartup: { Threshold: 99, CallThreshold: 1000 },
    }
    data := Data {
        ManualStartup: {
            "La;.pinned:()V": { AppearPercent: 0, CallCount: 0 },
        },
    }

    bp := Apply(cfgs, data)
    assert.True(t, bp.HotMethod("La;.pinned:()V"))
    assert.True(t, bp.StartupMethod("La;.pinned:()V"))
}

func TestApply_FlagsMergeAcrossInteractions(t *testing.T) {
    cfgs := map[string]InteractionConfig {
        "boot"   : { Startup: true },
        "scroll" : { PostStartup: true },
    }
    data := Data {
        "boot"   : { "La;.m:()V": { AppearPercent: 1, CallCount: 1 } },
        "scroll" : { "La;.m:()V": { AppearPercent: 1, CallCount: 1 } },
    }

    bp := Apply(cfgs, data)
    fl := bp.Methods["La;.m:()V"]
    assert.True(t, fl.Startup)
    assert.True(t, fl.PostStartup)

    startup, post := fl.Only()
    assert.False(t, startup)
    assert.False(t, post)
}

func TestApply_ForcedClasses(t *testing.T) {
    cfgs := map[string]InteractionConfig {
        "cold_start": { Classes: []string { "Lcom/app/Main;" } },
    }
    bp := Apply(cfgs, nil)
    assert.Contains(t, bp.Classes, "Lcom/app/Main;")
    assert.Empty(t, bp.Methods)
}

func TestParseClassBands(t *testing.T) {
    list := strings.Join([]string {
        "# startup classes",
        "Lcom/app/First;",
        "ColdStart1PctEnd",
        "Lcom/app/Second;",
        "ColdStart20PctEnd",
        "Lcom/app/Third;",
        "SomeUnknownMarker",
        "",
    }, "\n")

    cb, err := ParseClassBands(strings.NewReader(list), nil)
    require.NoError(t, err)
    assert.Equal(t, 3, cb.Len())
    assert.Equal(t, BandColdStart1Pct, cb.BandOf(ir.MakeType("Lcom/app/First;")))
    assert.Equal(t, BandColdStart20Pct, cb.BandOf(ir.MakeType("Lcom/app/Second;")))
    assert.Equal(t, BandRest, cb.BandOf(ir.MakeType("Lcom/app/Third;")))
    assert.Equal(t, BandNone, cb.BandOf(ir.MakeType("Lcom/app/Absent;")))
}

func TestParseClassBands_ScopeFilter(t *testing.T) {
    known := &ir.Class {
        Type   : ir.MakeType("Lcom/app/Known;"),
        Access : ir.AccPublic,
    }
    scope := ir.NewScope([]*ir.Class { known })

    list := "Lcom/app/Known;\nLcom/app/Unknown;\n"
    cb, err := ParseClassBands(strings.NewReader(list), scope)
    require.NoError(t, err)
    assert.Equal(t, 1, cb.Len())
    assert.Equal(t, BandColdStart1Pct, cb.BandOf(known.Type))
}

func TestAppearBands(t *testing.T) {
    samples := map[string]Sample {
        "m0": { AppearPercent: 2 },
        "m1": { AppearPercent: 5 },
        "m2": { AppearPercent: 30 },
        "m3": { AppearPercent: 60 },
        "m4": { AppearPercent: 70 },
        "m5": { AppearPercent: 95 },
    }

    bands := AppearBands(samples)
    require.Len(t, bands, 6)
    assert.Equal(t, 0, bands["m0"])
    assert.Equal(t, 3, bands["m5"])
    assert.GreaterOrEqual(t, bands["m4"], bands["m3"])
    assert.Greater(t, bands["m3"], bands["m1"])

    assert.Nil(t, AppearBands(nil))
}
