// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"io"
	"runtime"
)

// version, gitHash and buildDate are meant to be overridden at build time
// via -ldflags "-X main.version=... -X main.gitHash=... -X main.buildDate=...".
// They stand in for the per-library compiler/OS version banner
// main.cpp printed; this repo has no compiled-in per-dependency version
// table, so the banner is reduced to module + runtime + build metadata.
var (
	version   = "dev"
	gitHash   = "unknown"
	buildDate = "unknown"
)

const licenseNotice = "Apache License, Version 2.0 — see --license-full for the full text."

const licenseFull = `Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.`

func printShortVersion(w io.Writer) {
	fmt.Fprintln(w, version)
}

func printLongVersion(w io.Writer) {
	fmt.Fprintf(w, "modbus-shm-server %s\n", version)
	fmt.Fprintf(w, "  git commit:  %s\n", gitHash)
	fmt.Fprintf(w, "  built:       %s\n", buildDate)
	fmt.Fprintf(w, "  go runtime:  %s\n", runtime.Version())
	fmt.Fprintf(w, "  platform:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
