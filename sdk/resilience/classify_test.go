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

package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, ""},
		{"canceled", context.Canceled, CategoryCanceled},
		{"deadline", context.DeadlineExceeded, CategoryTimeout},
		{"wrapped deadline", fmt.Errorf("call: %w", os.ErrDeadlineExceeded), CategoryTimeout},
		{"nats timeout", nats.ErrTimeout, CategoryTimeout},
		{"attempt timeout", &TimeoutError{Unit: "u", Attempt: 1}, CategoryTimeout},
		{"connection reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, CategoryConnectionReset},
		{"unexpected eof", io.ErrUnexpectedEOF, CategoryConnectionReset},
		{"no responders", nats.ErrNoResponders, CategoryTransport},
		{"connection closed", fmt.Errorf("request: %w", nats.ErrConnectionClosed), CategoryTransport},
		{"path error", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, CategoryIO},
		{"closed pipe", io.ErrClosedPipe, CategoryIO},
		{"explicit permanent", Permanent(io.ErrUnexpectedEOF), CategoryPermanent},
		{"explicit transient", Transient(errors.New("503")), CategoryTransport},
		{"plain", errors.New("nope"), CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestPermanentPreservesCause(t *testing.T) {
	cause := errors.New("root")
	err := Permanent(cause)
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(Permanent(cause), cause) = false")
	}
	if !IsPermanent(err) {
		t.Errorf("IsPermanent = false, want true")
	}
	if WithCategory(nil, CategoryIO) != nil {
		t.Errorf("WithCategory(nil) must stay nil")
	}
}
