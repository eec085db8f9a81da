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

package opts

import (
    `os`
    `strconv`
)

const (
    _DefaultMaxShrinkRounds = 10    // cutoff for the shrinker fixpoint loop
    _DefaultReshuffleBatch  = 200   // moves re-validated per reshuffle batch
    _DefaultHotColdFactor   = 2     // cold-size multiplier for the split gate
)

var (
    NumWorkers      = parseOrDefault("DEXOPT_NUM_WORKERS", 0, 0)
    MaxShrinkRounds = parseOrDefault("DEXOPT_MAX_SHRINK_ROUNDS", _DefaultMaxShrinkRounds, 1)
    ReshuffleBatch  = parseOrDefault("DEXOPT_RESHUFFLE_BATCH", _DefaultReshuffleBatch, 1)
    HotColdFactor   = parseOrDefault("DEXOPT_HOT_COLD_FACTOR", _DefaultHotColdFactor, 1)
)

func parseOrDefault(key string, def int, min int) int {
    if env := os.Getenv(key); env == "" {
        return def
    } else if val, err := strconv.ParseUint(env, 0, 64); err != nil {
        panic("dexopt: invalid value for " + key)
    } else if ret := int(val); ret < min {
        panic("dexopt: value too small for " + key)
    } else {
        return ret
    }
}
