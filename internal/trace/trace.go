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

// Package trace implements the TRACE environment contract:
//
//   TRACE=<level>                      one global verbosity
//   TRACE=<module>:<level>,...        per-module verbosity
//   TRACEFILE=<path>                   redirect output (default stderr)
//
// Output is rendered through commonlog, one named logger per module.
package trace

import (
    `os`
    `strconv`
    `strings`
    `sync`

    `github.com/tliron/commonlog`

    _ `github.com/tliron/commonlog/simple`
)

var (
    setupOnce   sync.Once
    globalLevel = 0
    moduleLevel = make(map[string]int)
    loggers     sync.Map    // module name -> commonlog.Logger
)

func setup() {
    verbosity := 0
    spec := os.Getenv("TRACE")

    /* parse the TRACE spec: either a bare level or module:level pairs */
    for _, part := range strings.Split(spec, ",") {
        if part = strings.TrimSpace(part); part == "" {
            continue
        }
        if i := strings.IndexByte(part, ':'); i < 0 {
            if v, err := strconv.Atoi(part); err == nil {
                globalLevel = v
            }
        } else {
            if v, err := strconv.Atoi(part[i + 1:]); err == nil {
                moduleLevel[part[:i]] = v
            }
        }
    }

    /* highest configured level drives the backend verbosity */
    verbosity = globalLevel
    for _, v := range moduleLevel {
        if v > verbosity {
            verbosity = v
        }
    }

    /* TRACEFILE redirects everything; default is stderr */
    if path := os.Getenv("TRACEFILE"); path != "" {
        commonlog.Configure(verbosity, &path)
    } else {
        commonlog.Configure(verbosity, nil)
    }
}

// Enabled reports whether a trace line for (module, level) would be
// emitted.
func Enabled(module string, level int) bool {
    setupOnce.Do(setup)
    if v, ok := moduleLevel[module]; ok {
        return level <= v
    }
    return level <= globalLevel
}

// T emits one trace line for module at level. Formatting is deferred until
// the level check passes.
func T(module string, level int, format string, args ...interface{}) {
    setupOnce.Do(setup)

    /* cheap filter first */
    if !Enabled(module, level) {
        return
    }

    /* one cached logger per module */
    v, ok := loggers.Load(module)
    if !ok {
        v, _ = loggers.LoadOrStore(module, commonlog.GetLogger(module))
    }

    /* trace levels map onto the commonlog severity ladder */
    switch log := v.(commonlog.Logger); {
        case level <= 1 : log.Noticef(format, args...)
        case level == 2 : log.Infof(format, args...)
        default         : log.Debugf(format, args...)
    }
}
