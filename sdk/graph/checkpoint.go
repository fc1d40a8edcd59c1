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

package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/ngnhng/flowunit/api"
	"github.com/ngnhng/flowunit/api/serde"
	"github.com/ngnhng/flowunit/sdk/checkpoint"
)

// checkpoint stores the state after step under both the step key and the
// thread's latest key. Runs without a thread id are not persisted.
func (c *compiled[S]) checkpoint(ctx context.Context, ro runOptions, step int, node, next string, state S) error {
	if c.opts.store == nil || ro.threadID == "" {
		return nil
	}

	raw, err := c.opts.serde.SerializeBinary(state)
	if err != nil {
		return fmt.Errorf("checkpoint step %d: encode state: %w", step, err)
	}
	data, err := c.opts.serde.SerializeBinary(api.Checkpoint{
		ThreadID:  ro.threadID,
		RunID:     ro.runID,
		Step:      step,
		Node:      node,
		Next:      next,
		State:     raw,
		CreatedAt: c.opts.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("checkpoint step %d: encode: %w", step, err)
	}

	err = c.opts.store.Batch(ctx, []checkpoint.Op{
		checkpoint.Put(api.CheckpointKey(ro.threadID, step), data),
		checkpoint.Put(api.CheckpointLatestKey(ro.threadID), data),
	})
	if err != nil {
		return fmt.Errorf("checkpoint step %d: %w", step, err)
	}
	return nil
}

// LoadCheckpoint reads the latest checkpoint of a thread and decodes its
// state. It returns checkpoint.ErrNotFound when the thread has none.
func LoadCheckpoint[S any](ctx context.Context, store checkpoint.Store, codec serde.BinarySerde, threadID string) (api.Checkpoint, S, error) {
	var (
		cp    api.Checkpoint
		state S
	)
	data, err := store.Get(ctx, api.CheckpointLatestKey(threadID))
	if err != nil {
		return cp, state, err
	}
	if err := codec.DeserializeBinary(data, &cp); err != nil {
		return cp, state, fmt.Errorf("decode checkpoint of %s: %w", threadID, err)
	}
	if err := codec.DeserializeBinary(cp.State, &state); err != nil {
		return cp, state, fmt.Errorf("decode state of %s: %w", threadID, err)
	}
	return cp, state, nil
}

// History lists the step checkpoints of a thread in step order.
func History(ctx context.Context, store checkpoint.Store, codec serde.BinarySerde, threadID string) ([]api.Checkpoint, error) {
	prefix := threadID + "."
	keys, err := store.Search(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var out []api.Checkpoint
	for _, k := range keys {
		// Thread ids may contain dots, so "a." also matches thread "a.b".
		if !isStepSuffix(strings.TrimPrefix(k, prefix)) {
			continue
		}
		data, err := store.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		var cp api.Checkpoint
		if err := codec.DeserializeBinary(data, &cp); err != nil {
			return nil, fmt.Errorf("decode checkpoint %s: %w", k, err)
		}
		out = append(out, cp)
	}
	return out, nil
}

func isStepSuffix(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
