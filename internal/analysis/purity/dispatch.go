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

package purity

import (
    `github.com/dexopt/dexopt/internal/ir`
)

// Action classifies one dispatch target's contribution to an effect query.
type Action uint8

const (
    Include Action = iota
    Exclude
    Unknown
)

func (self Action) String() string {
    switch self {
        case Include : return "INCLUDE"
        case Exclude : return "EXCLUDE"
        default      : return "UNKNOWN"
    }
}

// Combine merges two actions; any UNKNOWN wins, INCLUDE beats EXCLUDE.
func (self Action) Combine(rhs Action) Action {
    switch {
        case self == Unknown || rhs == Unknown : return Unknown
        case self == Include || rhs == Include : return Include
        default                                : return Exclude
    }
}

// DispatchQuery parameterizes an effective-action classification.
type DispatchQuery struct {
    Ignore       map[*ir.Method]struct{}  // methods the caller vouches for
    IgnoreAssume bool                     // ignore @AssumeNoSideEffects marks
}

// ActionFor classifies the effective action of a virtual invoke on ref:
// all possible targets are enumerated through the override graph and their
// classifications combined. Any unresolved leg yields UNKNOWN.
func (self *Closure) ActionFor(p *ir.Insn, q DispatchQuery) Action {
    if !p.Op.IsInvoke() {
        return Unknown
    }

    /* configured-pure calls never contribute effects */
    if _, ok := self.cfg.PureMethods[p.Method.String()]; ok && !q.IgnoreAssume {
        return Exclude
    }

    /* resolve the static target */
    m := self.scope.ResolveMethod(p.Method)
    if m == nil {
        return Unknown
    }

    /* static binding classifies directly */
    if p.Op == ir.OpInvokeStatic || p.Op == ir.OpInvokeDirect {
        return self.classify(m, q)
    }

    /* virtual: combine all overriders */
    act := self.classify(m, q)
    for _, ov := range self.og.AllOverriders(m) {
        act = act.Combine(self.classify(ov, q))
        if act == Unknown {
            return Unknown
        }
    }

    /* an overridable method with external parents may have targets the
     * scope cannot see */
    if self.og.AnyExternalParents(m) {
        return Unknown
    }
    return act
}

func (self *Closure) classify(m *ir.Method, q DispatchQuery) Action {
    if _, ok := q.Ignore[m]; ok {
        return Exclude
    }
    if m.Code == nil {
        if m.IsAbstract() {
            return Exclude
        }
        return Unknown      // native or external body
    }

    /* summarized methods classify by their effects */
    switch s := self.SummaryOf(m); {
        case s.Unknown         : return Unknown
        case s.NoSideEffects() : return Exclude
        default                : return Include
    }
}
