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
    `time`

    `github.com/dexopt/dexopt/internal/ir`
    `github.com/dexopt/dexopt/internal/trace`
    `github.com/dexopt/dexopt/internal/wq`
)

// PropertyError is a fatal configuration mismatch: a pass requires a
// property no preceding pass established.
type PropertyError struct {
    Pass     string
    Property Property
}

func (self *PropertyError) Error() string {
    return fmt.Sprintf("pass %s requires property %s which is not established", self.Pass, self.Property)
}

// PassError wraps a fatal assertion raised while a pass ran.
type PassError struct {
    Pass   string
    Detail interface{}
}

func (self *PassError) Error() string {
    return fmt.Sprintf("pass %s failed: %v", self.Pass, self.Detail)
}

// Manager applies a configured sequence of passes over one scope.
type Manager struct {
    passes []Pass
    state  State
}

// NewManager builds a manager over the given schedule.
func NewManager(ps ...Pass) *Manager {
    return &Manager { passes: ps }
}

// Establish seeds properties that hold for the input before any pass
// runs, e.g. DexLimitsObeyed for DEX files produced by a conforming
// linker.
func (self *Manager) Establish(props ...Property) {
    for _, p := range props {
        self.state[p] = true
    }
}

// FindPass returns the scheduled pass with the given name, or nil.
func (self *Manager) FindPass(name string) Pass {
    for _, p := range self.passes {
        if p.Name() == name {
            return p
        }
    }
    return nil
}

// Run drives the schedule: one eval sweep over all passes in order, then
// the run sweep, verifying property contracts between passes. The first
// fatal aborts the run.
func (self *Manager) Run(ctx *Context) (err error) {
    ctx.manager = self

    for _, p := range self.passes {
        if ev, ok := p.(Evaler); ok {
            if err = self.guard(p, func() { ev.EvalPass(ctx) }); err != nil {
                return err
            }
        }
    }

    for _, p := range self.passes {
        if unmet := self.state.Advance(p.Properties()); unmet != _PropertyCount {
            return &PropertyError { Pass: p.Name(), Property: unmet }
        }

        t0 := time.Now()
        if err = self.guard(p, func() { p.RunPass(ctx) }); err != nil {
            return err
        }
        trace.T("passes", 2, "%s done in %v", p.Name(), time.Since(t0))

        if trace.Enabled("passes", 4) {
            for _, m := range ctx.Scope.MethodsWithCode() {
                trace.T("passes", 4, "%s after %s:\n%s", m.Ref, p.Name(), m.Code.Dot())
            }
        }

        if err = self.validate(ctx, p); err != nil {
            return err
        }
    }
    return nil
}

/* assertion panics become a single fatal error naming the pass */
func (self *Manager) guard(p Pass, fn func()) (err error) {
    defer func() {
        if r := recover(); r != nil {
            err = &PassError { Pass: p.Name(), Detail: r }
        }
    }()
    fn()
    return nil
}

/* every body must satisfy the structural validator after every pass */
func (self *Manager) validate(ctx *Context, p Pass) error {
    methods := ctx.Scope.MethodsWithCode()
    errs := make([]error, len(methods))

    wq.ForEach(len(methods), func(i int) {
        errs[i] = check(methods[i])
    })

    for _, e := range errs {
        if e != nil {
            return &PassError { Pass: p.Name(), Detail: e }
        }
    }
    return nil
}

func check(m *ir.Method) (err error) {
    defer func() {
        if r := recover(); r != nil {
            err = fmt.Errorf("%s: %v", m.Ref, r)
        }
    }()
    m.Code.Validate()
    return nil
}
