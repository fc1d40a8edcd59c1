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
	"io"
	"io/fs"
	"net"
	"os"
	"syscall"

	"github.com/nats-io/nats.go"
)

// Category groups errors for retry decisions.
type Category string

const (
	CategoryTimeout         Category = "timeout"
	CategoryConnectionReset Category = "connection_reset"
	CategoryIO              Category = "io"
	CategoryTransport       Category = "transport"
	CategoryCanceled        Category = "canceled"
	CategoryPermanent       Category = "permanent"
	CategoryUnknown         Category = "unknown"
)

// Categorized is implemented by errors that know their own category.
type Categorized interface {
	Category() Category
}

// Classify maps err to a Category. Explicit categories anywhere in the
// wrap chain take precedence over the built-in rules.
func Classify(err error) Category {
	if err == nil {
		return ""
	}

	var c Categorized
	if errors.As(err, &c) {
		return c.Category()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return CategoryCanceled

	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, nats.ErrTimeout):
		return CategoryTimeout

	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return CategoryConnectionReset

	case errors.Is(err, nats.ErrNoResponders),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrStaleConnection):
		return CategoryTransport
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}

	var opErr *net.OpError
	var pathErr *fs.PathError
	switch {
	case errors.As(err, &opErr),
		errors.As(err, &pathErr),
		errors.Is(err, io.ErrShortWrite),
		errors.Is(err, io.ErrClosedPipe):
		return CategoryIO
	}

	return CategoryUnknown
}
