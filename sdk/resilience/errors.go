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
	"fmt"
	"time"
)

// StatusError is the status carried by every Failure.
const StatusError = "error"

// Failure is the structured value returned instead of an error when a policy
// has RaiseOnFailure unset and every attempt failed.
type Failure struct {
	UnitName      string   `json:"unit_name"      msgpack:"unit_name"`
	Status        string   `json:"status"         msgpack:"status"`
	Attempts      int      `json:"attempts"       msgpack:"attempts"`
	Retryable     bool     `json:"retryable"      msgpack:"retryable"`
	ErrorCategory Category `json:"error_category" msgpack:"error_category"`
	ErrorMessage  string   `json:"error_message"  msgpack:"error_message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s) [%s]: %s", f.UnitName, f.Attempts, f.ErrorCategory, f.ErrorMessage)
}

// AsFailure reports whether v is a structured failure.
func AsFailure(v any) (*Failure, bool) {
	switch f := v.(type) {
	case *Failure:
		return f, f != nil
	case Failure:
		return &f, true
	}
	return nil, false
}

// TimeoutError is produced when an attempt exceeds Policy.Timeout.
type TimeoutError struct {
	Unit    string
	Attempt int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: attempt %d timed out after %s", e.Unit, e.Attempt, e.Timeout)
}

// Category implements Categorized.
func (e *TimeoutError) Category() Category { return CategoryTimeout }

// CategorizedError pins an explicit category onto an error.
type CategorizedError struct {
	Cat   Category
	Cause error
}

func (e *CategorizedError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Cat, e.Cause)
}

func (e *CategorizedError) Unwrap() error { return e.Cause }

// Category implements Categorized.
func (e *CategorizedError) Category() Category { return e.Cat }

// WithCategory wraps err so that Classify reports c for it.
func WithCategory(err error, c Category) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Cat: c, Cause: err}
}

// Permanent marks err as never retryable.
func Permanent(err error) error {
	return WithCategory(err, CategoryPermanent)
}

// Transient marks err as a transport-level failure, retryable under the default set.
func Transient(err error) error {
	return WithCategory(err, CategoryTransport)
}

// IsPermanent reports whether err classifies as permanent.
func IsPermanent(err error) bool {
	return Classify(err) == CategoryPermanent
}
