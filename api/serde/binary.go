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

// Package serde turns Go values into bytes and back for checkpoints,
// tool-protocol payloads and argument conversion.
package serde

import (
	"errors"
	"fmt"
	"strings"
)

// Codec names accepted by ByName.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

var (
	// ErrUnknownCodec is returned by ByName for an unsupported codec name.
	ErrUnknownCodec = errors.New("unknown codec")

	ErrEncode = errors.New("serialization failed")
	ErrDecode = errors.New("deserialization failed")
)

type BinarySerde interface {
	SerializeBinary(value any) ([]byte, error)
	DeserializeBinary(data []byte, valuePtr any) error
}

// Name returns the codec name of s, or "custom" for serdes other than the
// ones returned by ByName.
func Name(s BinarySerde) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "custom"
}

// ByName returns the serde registered under name. An empty name selects JSON.
func ByName(name string) (BinarySerde, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecJSON:
		return &JsonSerde{}, nil
	case CodecMsgpack:
		return &MsgpackSerde{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}
