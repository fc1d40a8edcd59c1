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

package api

import "fmt"

// DefaultSubjectPrefix namespaces every tool-protocol subject.
const DefaultSubjectPrefix = "flowunit"

// NATS Subject Format
const (
	ToolsListSubjectPattern = "%s.tools.list"
	ToolsCallSubjectPattern = "%s.tools.call.%s" // prefix, tool name
)

// NATS Subject Patterns
const (
	// Tool names may contain dots, so calls are matched with a full wildcard.
	ToolsCallFilterSubjectPattern = "%s.tools.call.>"
)

// Queue Groups
const (
	ToolServerQueueGroup = "flowunit-tool-servers"
)

// KV Buckets
const (
	DefaultCheckpointBucket = "FLOWUNIT_CHECKPOINTS"
)

// Checkpoint keys
const (
	CheckpointLatestSuffix = "latest"
)

func ToolsListSubject(prefix string) string {
	return fmt.Sprintf(ToolsListSubjectPattern, prefixOrDefault(prefix))
}

func ToolsCallSubject(prefix, tool string) string {
	return fmt.Sprintf(ToolsCallSubjectPattern, prefixOrDefault(prefix), tool)
}

func ToolsCallFilterSubject(prefix string) string {
	return fmt.Sprintf(ToolsCallFilterSubjectPattern, prefixOrDefault(prefix))
}

// CheckpointKey is the store key of one step of a thread.
func CheckpointKey(threadID string, step int) string {
	return fmt.Sprintf("%s.%08d", threadID, step)
}

// CheckpointLatestKey is the store key pointing at the newest step of a thread.
func CheckpointLatestKey(threadID string) string {
	return threadID + "." + CheckpointLatestSuffix
}

func prefixOrDefault(prefix string) string {
	if prefix == "" {
		return DefaultSubjectPrefix
	}
	return prefix
}
