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

package dexopt

import (
    `github.com/dexopt/dexopt/internal/opts`
)

// Option is the property setter function for opts.Options.
type Option func(*opts.Options)

// WithNumWorkers sets the worker pool size for parallel per-method work.
//
// Zero means one worker per CPU.
func WithNumWorkers(n int) Option {
    if n < 0 {
        panic("dexopt: negative worker count")
    }
    return func(o *opts.Options) {
        o.NumWorkers = n
    }
}

// WithMaxShrinkRounds caps the shrinker's per-method fixpoint iteration.
//
// Zero removes the cap; the shrinker then iterates until no step reports
// a change.
func WithMaxShrinkRounds(n int) Option {
    return func(o *opts.Options) {
        o.MaxShrinkRounds = n
    }
}

// WithReshuffleBatch sets how many class moves the inter-DEX reshuffler
// re-validates and applies per batch.
func WithReshuffleBatch(n int) Option {
    if n < 1 {
        panic("dexopt: reshuffle batch must be positive")
    }
    return func(o *opts.Options) {
        o.ReshuffleBatch = n
    }
}

// WithHotColdFactor sets the cold-size multiplier in the hot/cold split
// gate. Larger values split less.
func WithHotColdFactor(n int) Option {
    return func(o *opts.Options) {
        o.HotColdFactor = n
    }
}

// WithMinSdk sets the minimum Android API level the output targets.
// Branches on SDK_INT below this level fold away.
func WithMinSdk(v int) Option {
    return func(o *opts.Options) {
        o.MinSdk = v
    }
}
