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

package serde

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var _ BinarySerde = (*MsgpackSerde)(nil)

// MsgpackSerde encodes values as MessagePack. Struct fields without a
// msgpack tag fall back to their json tag, so states declared for JSON
// checkpoint under the same field names.
type MsgpackSerde struct{}

const fallbackTag = "json"

func (*MsgpackSerde) Name() string { return CodecMsgpack }

func (m *MsgpackSerde) SerializeBinary(value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag(fallbackTag)
	if err := enc.Encode(value); err != nil {
		return nil, fmt.Errorf("%w: msgpack: %w", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

func (m *MsgpackSerde) DeserializeBinary(data []byte, valuePtr any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: msgpack: empty payload", ErrDecode)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag(fallbackTag)
	if err := dec.Decode(valuePtr); err != nil {
		return fmt.Errorf("%w: msgpack: %w", ErrDecode, err)
	}
	return nil
}
