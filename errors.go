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
    `errors`
    `fmt`

    `github.com/dexopt/dexopt/internal/passes`
)

// ConfigError occurs when the configuration object names a pass, method
// or field that does not exist, or binds an option to a wrong type.
type ConfigError struct {
    Key    string
    Reason string
}

func (self ConfigError) Error() string {
    return fmt.Sprintf("ConfigError(%s): %s", self.Key, self.Reason)
}

// IsPassError reports whether err is a fatal raised inside a pass, and
// unwraps the pass name when it is.
func IsPassError(err error) (string, bool) {
    var pe *passes.PassError
    if errors.As(err, &pe) {
        return pe.Pass, true
    }
    return "", false
}

// IsPropertyError reports whether err is a property contract violation
// between two scheduled passes.
func IsPropertyError(err error) bool {
    var pe *passes.PropertyError
    return errors.As(err, &pe)
}
