// Copyright 2025 Nguyen Nhat Nguyen
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

package types

import (
	"fmt"
	"strings"
)

// Mode selects the server's runtime profile.
type Mode string

const (
	// ModeDebug logs colourised text to the configured writers.
	ModeDebug Mode = "debug"
	// ModeRelease exports logs over OTLP and writes warnings as JSON.
	ModeRelease Mode = "release"
)

func (m *Mode) UnmarshalText(text []byte) error {
	switch v := Mode(strings.ToLower(strings.TrimSpace(string(text)))); v {
	case ModeDebug, ModeRelease:
		*m = v
		return nil
	}
	return fmt.Errorf("unknown mode %q", text)
}

func (m Mode) String() string { return string(m) }
