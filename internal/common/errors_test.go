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

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorDefinitions(t *testing.T) {
	t.Parallel()

	errs := []error{
		ErrBinaryNotFound,
		ErrProcessLaunch,
		ErrProcessCrash,
		ErrPortInUse,
		ErrBindFailure,
		ErrFatalDaemon,
		ErrConfigInvalid,
		ErrConfigIO,
		ErrNotConnected,
		ErrControlRequest,
	}

	t.Run("all errors are non-nil", func(t *testing.T) {
		t.Parallel()
		for i, err := range errs {
			require.NotNil(t, err, "error at index %d should not be nil", i)
		}
	})

	t.Run("all error messages are unique", func(t *testing.T) {
		t.Parallel()
		seen := make(map[string]bool)
		for _, err := range errs {
			msg := err.Error()
			assert.False(t, seen[msg], "duplicate error message: %s", msg)
			seen[msg] = true
		}
	})
}

func TestErrorIs(t *testing.T) {
	t.Parallel()

	t.Run("wrapped with %w matches", func(t *testing.T) {
		t.Parallel()
		err := fmt.Errorf("%w: GET /api/status returned status 500", ErrControlRequest)
		assert.True(t, errors.Is(err, ErrControlRequest))
	})

	t.Run("string-concatenated error does not match", func(t *testing.T) {
		t.Parallel()
		err := errors.New("wrapped: " + ErrNotConnected.Error())
		assert.False(t, errors.Is(err, ErrNotConnected))
	})
}
