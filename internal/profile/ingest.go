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
    `bufio`
    `io`
    `sort`
    `strings`

    `gonum.org/v1/gonum/stat`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/trace`
)

/* marker lines partitioning the startup class list */
const (
    markColdStart20Pct = "ColdStart20PctEnd"
    markColdStart1Pct  = "ColdStart1PctEnd"
)

// Band orders startup classes by how early they load.
type Band uint8

const (
    BandNone Band = iota
    BandColdStart1Pct       // before the 1% marker
    BandColdStart20Pct      // before the 20% marker
    BandRest                // after both markers
)

// ClassBands is the parsed startup class list.
type ClassBands struct {
    bands map[string]Band
}

// BandOf returns the band of a class descriptor, BandNone when unlisted.
func (self *ClassBands) BandOf(tp *ir.Type) Band {
    return self.bands[tp.Descriptor]
}

// Len returns the number of listed classes.
func (self *ClassBands) Len() int {
    return len(self.bands)
}

// ParseClassBands reads a startup list: one descriptor per line, with
// marker lines splitting the set into cold-start bands. Unknown markers
// are ignored. Descriptors are validated against scope, missing classes
// are warned and skipped.
func ParseClassBands(r io.Reader, scope *ir.Scope) (*ClassBands, error) {
    cb := &ClassBands { bands: make(map[string]Band) }
    band := BandColdStart1Pct

    sc := bufio.NewScanner(r)
    for sc.Scan() {
        line := strings.TrimSpace(sc.Text())
        switch {
            case line == "" || strings.HasPrefix(line, "#"): {
                continue
            }
            case line == markColdStart1Pct: {
                band = BandColdStart20Pct
                continue
            }
            case line == markColdStart20Pct: {
                band = BandRest
                continue
            }
            case !strings.HasPrefix(line, "L"): {
                /* unknown marker */
                continue
            }
        }

        if scope != nil && scope.ClassOf(ir.MakeType(line)) == nil {
            trace.T("profile", 1, "startup list names unknown class %s, skipped", line)
            continue
        }
        cb.bands[line] = band
    }

    if err := sc.Err(); err != nil {
        return nil, err
    }
    return cb, nil
}

// AppearBands splits sampled methods into quartile bands by appear
// percentage, used by the reshuffler to weight placement.
func AppearBands(samples map[string]Sample) map[string]int {
    if len(samples) == 0 {
        return nil
    }

    xs := make([]float64, 0, len(samples))
    for _, s := range samples {
        xs = append(xs, s.AppearPercent)
    }
    sort.Float64s(xs)

    q1 := stat.Quantile(0.25, stat.Empirical, xs, nil)
    q2 := stat.Quantile(0.50, stat.Empirical, xs, nil)
    q3 := stat.Quantile(0.75, stat.Empirical, xs, nil)

    bands := make(map[string]int, len(samples))
    for m, s := range samples {
        switch {
            case s.AppearPercent >= q3 : bands[m] = 3
            case s.AppearPercent >= q2 : bands[m] = 2
            case s.AppearPercent >= q1 : bands[m] = 1
            default                    : bands[m] = 0
        }
    }
    return bands
}
