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

package dispatch

import (
	"fmt"
	"strings"
)

// Mode selects how a registered unit is executed.
type Mode int

const (
	// ModeOneShotTask runs the function once per invocation, under retry.
	ModeOneShotTask Mode = iota + 1
	// ModeExternalAction is a one-shot task that is also published as a
	// capability other agents can discover and call.
	ModeExternalAction
	// ModeStateStep transforms a workflow state and is usable as a graph node.
	ModeStateStep
	// ModePersistentService builds a long-lived instance once and hands the
	// cached instance to every later invocation.
	ModePersistentService
	// ModeExternalProtocolAction talks to remote tool servers through a
	// cached protocol session.
	ModeExternalProtocolAction
)

var modeNames = map[Mode]string{
	ModeOneShotTask:            "one_shot_task",
	ModeExternalAction:         "external_action",
	ModeStateStep:              "state_step",
	ModePersistentService:      "persistent_service",
	ModeExternalProtocolAction: "external_protocol_action",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func (m Mode) valid() bool {
	_, ok := modeNames[m]
	return ok
}

// ParseMode parses a mode name. Dashes and case are ignored.
func ParseMode(s string) (Mode, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for m, name := range modeNames {
		if name == norm {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown execution mode %q", s)
}
