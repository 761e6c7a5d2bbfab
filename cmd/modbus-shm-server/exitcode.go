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

// Exit codes follow sysexits(3), matching the ParseError/ConfigError/
// OsError taxonomy the core distinguishes.
const (
	exitOK       = 0
	exitUsage    = 64 // ParseError, ConfigError
	exitSoftware = 70 // LogicError
	exitOSErr    = 71 // OsError
)

// exitError pairs an error with the process exit code it should produce,
// letting run() translate any failure from deep in the call stack without
// every function along the way threading an exit code explicitly.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error    { return &exitError{code: exitUsage, err: err} }
func osError(err error) error       { return &exitError{code: exitOSErr, err: err} }
func softwareError(err error) error { return &exitError{code: exitSoftware, err: err} }
