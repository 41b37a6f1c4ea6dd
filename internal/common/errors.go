// Copyright 2026 i2pmgr Authors
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

package common

import "errors"

var (
	ErrBinaryNotFound = errors.New("daemon binary not found")
	ErrProcessLaunch  = errors.New("daemon failed to launch")
	ErrProcessCrash   = errors.New("daemon crashed")
	ErrPortInUse      = errors.New("port already in use")
	ErrBindFailure    = errors.New("failed to bind")
	ErrFatalDaemon    = errors.New("fatal daemon condition")
	ErrConfigInvalid  = errors.New("invalid configuration")
	ErrConfigIO       = errors.New("configuration I/O failure")
	ErrNotConnected   = errors.New("daemon not connected")
	ErrControlRequest = errors.New("control API request failed")
)
