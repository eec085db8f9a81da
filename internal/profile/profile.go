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
    `github.com/dexopt/dexopt/internal/trace`
)

/* interactions whose methods are added unconditionally */
const (
    ManualStartup     = "manual_startup"
    ManualPostStartup = "manual_post_startup"
)

// Sample is one empirical observation of a method under an interaction.
type Sample struct {
    AppearPercent float64
    CallCount     int
}

// Data maps interaction -> method descriptor -> sample.
type Data map[string]map[string]Sample

// InteractionConfig selects which empirical samples qualify a method.
type InteractionConfig struct {
    Threshold     float64      // minimum appear_percent
    CallThreshold int          // minimum call_count
    Startup       bool
    PostStartup   bool
    Classes       []string     // descriptors force-marked hot
}

// MethodFlags is the classification of an included method.
type MethodFlags struct {
    Hot         bool
    Startup     bool
    PostStartup bool
}

// BaselineProfile is the result of applying interaction configs to
// empirical data.
type BaselineProfile struct {
    Methods map[string]MethodFlags
    Classes map[string]struct{}
}

// Only reports whether the flags mark exactly one of the two phases.
func (self MethodFlags) Only() (startup bool, post bool) {
    return self.Startup && !self.PostStartup, self.PostStartup && !self.Startup
}

// Apply classifies every sampled method against the interaction configs.
// A method is included when its appear percentage and call count both
// meet the config's thresholds, every included method is hot.
func Apply(cfgs map[string]InteractionConfig, data Data) *BaselineProfile {
    bp := &BaselineProfile {
        Methods : make(map[string]MethodFlags),
        Classes : make(map[string]struct{}),
    }

    for name, cfg := range cfgs {
        for _, cls := range cfg.Classes {
            bp.Classes[cls] = struct{}{}
        }

        samples, ok := data[name]
        if !ok {
            trace.T("profile", 2, "interaction %q has no samples", name)
            continue
        }

        manual := name == ManualStartup || name == ManualPostStartup
        for method, s := range samples {
            if !manual && (s.AppearPercent < cfg.Threshold || s.CallCount < cfg.CallThreshold) {
                continue
            }
            fl := bp.Methods[method]
            fl.Hot = true
            fl.Startup = fl.Startup || cfg.Startup || name == ManualStartup
            fl.PostStartup = fl.PostStartup || cfg.PostStartup || name == ManualPostStartup
            bp.Methods[method] = fl
        }
    }

    trace.T("profile", 2, "baseline profile: %d methods, %d classes", len(bp.Methods), len(bp.Classes))
    return bp
}

// HotMethod reports whether the profile marks the method hot.
func (self *BaselineProfile) HotMethod(method string) bool {
    return self.Methods[method].Hot
}

// StartupMethod reports the startup flag.
func (self *BaselineProfile) StartupMethod(method string) bool {
    return self.Methods[method].Startup
}
