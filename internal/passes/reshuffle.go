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
    `strings`

    `github.com/bytedance/gopkg/collection/skipset`
    `github.com/oleiade/lane`

    `github.com/dexopt/dexopt/internal/concur`
    `github.com/dexopt/dexopt/internal/dexstore`
    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/profile`
    `github.com/dexopt/dexopt/internal/trace`
    `github.com/dexopt/dexopt/internal/wq`
)

/* a batch repeating this share of the prior batch's moves is spinning */
const _RepeatCutoff = 0.9

const _MaxRounds = 10

// DexReshuffle reassigns classes between secondary DEX files to cut the
// number of cross-DEX references, bounded by per-DEX reference caps.
// Moves are ranked on a priority queue by estimated gain, applied in
// batches, with gains recomputed between batches.
type DexReshuffle struct{}

func (*DexReshuffle) Name() string {
    return "DexReshuffle"
}

func (*DexReshuffle) Properties() Table {
    return Table{}.
        With(DexLimitsObeyed, Establishes).
        With(NoUnreachableInstructions, Preserves).
        With(HasSourceBlocks, Preserves)
}

type _Move struct {
    cls    *ir.Class
    src    *dexstore.DexFile
    dst    *dexstore.DexFile
    gain   int
}

func (self *DexReshuffle) RunPass(ctx *Context) {
    if ctx.World == nil || len(ctx.World.Root().Files) < 2 {
        return
    }

    root := ctx.World.Root()
    batch := ctx.Options.ReshuffleBatch
    pinned := pinnedClasses(ctx)
    applied := int64(0)
    var prev map[*ir.Class]*dexstore.DexFile

    for round := 0; round < _MaxRounds; round++ {
        occ := occurrences(root)
        pq := lane.NewPQueue(lane.MAXPQ)
        for _, mv := range candidates(root, occ, pinned) {
            pq.Push(mv, mv.gain)
        }

        cur := make(map[*ir.Class]*dexstore.DexFile)
        done := 0
        for done < batch && !pq.Empty() {
            v, _ := pq.Pop()
            mv := v.(*_Move)

            /* earlier moves this batch shift the layout, re-validate */
            if gainOf(mv.cls, mv.src, mv.dst, occurrences(root)) <= 0 {
                continue
            }
            if !fits(mv.dst, mv.cls) {
                continue
            }

            mv.src.Remove(mv.cls)
            mv.dst.Add(mv.cls)
            cur[mv.cls] = mv.dst
            done++
            applied++
        }

        if done == 0 || repeats(prev, cur) >= _RepeatCutoff {
            break
        }
        prev = cur
    }

    root.Compact()
    ctx.Metrics.Add("dex_reshuffle/moves", applied)
    trace.T("passes", 2, "reshuffle applied %d moves, %d cross-dex refs remain", applied, ctx.World.CrossDexRefs())
}

/* per-file: how many classes reference each symbol */
type _Occ map[*dexstore.DexFile]map[interface{}]int

func occurrences(st *dexstore.Store) _Occ {
    occ := make(_Occ, len(st.Files))
    for _, df := range st.Files {
        m := make(map[interface{}]int)
        for _, cls := range df.Classes {
            for ref := range classRefs(cls) {
                m[ref]++
            }
        }
        occ[df] = m
    }
    return occ
}

/* the distinct symbols a class references, seeded with its own defined
 * members: a DEX carries reference-table entries for definitions too, so
 * a class with no intra-DEX users still anchors its symbols */
func classRefs(cls *ir.Class) map[interface{}]struct{} {
    refs := make(map[interface{}]struct{})
    refs[cls.Type] = struct{}{}
    for _, f := range cls.SFields {
        refs[f.Ref] = struct{}{}
    }
    for _, f := range cls.IFields {
        refs[f.Ref] = struct{}{}
    }
    for _, m := range cls.AllMethods() {
        refs[m.Ref] = struct{}{}
        if m.Code == nil {
            continue
        }
        for _, bb := range m.Code.Blocks {
            for _, p := range bb.Insns {
                switch {
                    case p.Method != nil  : refs[p.Method] = struct{}{}
                    case p.Field != nil   : refs[p.Field] = struct{}{}
                    case p.TypeRef != nil : refs[p.TypeRef] = struct{}{}
                }
            }
        }
    }
    return refs
}

/* moving a class toward the DEX where its symbols are popular saves
 * duplicated reference-table entries on both sides */
func gainOf(cls *ir.Class, src *dexstore.DexFile, dst *dexstore.DexFile, occ _Occ) int {
    gain := 0
    for ref := range classRefs(cls) {
        gain += dexstore.PowerValue(occ[dst][ref]) - dexstore.PowerValue(occ[src][ref] - 1)
    }
    return gain
}

/* startup classes follow the profile, not the gain model: moving them
 * scatters the cold-start page set */
func pinnedClasses(ctx *Context) func(cls *ir.Class) bool {
    hot := hotSampledClasses(ctx.ProfileData)
    return func(cls *ir.Class) bool {
        if ctx.Bands != nil {
            switch ctx.Bands.BandOf(cls.Type) {
                case profile.BandColdStart1Pct, profile.BandColdStart20Pct: {
                    return true
                }
            }
        }
        return hot != nil && hot.Contains(cls.Type.Descriptor)
    }
}

/* classes whose sampled methods land in the top appear quartile count as
 * startup-hot even without a startup list */
func hotSampledClasses(data profile.Data) *skipset.StringSet {
    if len(data) == 0 {
        return nil
    }

    keys := make([]string, 0, len(data))
    for k := range data {
        keys = append(keys, k)
    }

    hot := concur.NewStringSet()
    wq.ForEach(len(keys), func(i int) {
        for m, band := range profile.AppearBands(data[keys[i]]) {
            if band == 3 {
                if j := strings.IndexByte(m, ';'); j > 0 {
                    hot.Add(m[:j+1])
                }
            }
        }
    })
    return hot
}

func candidates(st *dexstore.Store, occ _Occ, pinned func(cls *ir.Class) bool) []*_Move {
    var moves []*_Move

    /* the primary DEX is pinned, canaries anchor their file */
    for _, src := range st.Files[1:] {
        for _, cls := range src.Classes {
            if cls == src.Canary || pinned(cls) {
                continue
            }
            best := bestTarget(cls, src, st, occ)
            if best != nil {
                moves = append(moves, best)
            }
        }
    }
    return moves
}

func bestTarget(cls *ir.Class, src *dexstore.DexFile, st *dexstore.Store, occ _Occ) *_Move {
    var best *_Move
    for _, dst := range st.Files[1:] {
        if dst == src {
            continue
        }
        g := gainOf(cls, src, dst, occ)
        if g <= 0 {
            continue
        }
        if best == nil || g > best.gain {
            best = &_Move { cls: cls, src: src, dst: dst, gain: g }
        }
    }
    return best
}

func fits(dst *dexstore.DexFile, cls *ir.Class) bool {
    delta := dexstore.NewRefs()
    delta.CountClass(cls)
    return dst.Tally().Fits(delta)
}

func repeats(prev map[*ir.Class]*dexstore.DexFile, cur map[*ir.Class]*dexstore.DexFile) float64 {
    if len(prev) == 0 || len(cur) == 0 {
        return 0
    }
    same := 0
    for cls, dst := range cur {
        if prev[cls] == dst {
            same++
        }
    }
    return float64(same) / float64(len(cur))
}
