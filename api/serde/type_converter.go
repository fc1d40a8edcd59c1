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
	"errors"
	"fmt"
	"reflect"
)

// ErrConversion is wrapped by every TypeConverter failure.
var ErrConversion = errors.New("type conversion failed")

// TypeConverter coerces decoded values (numbers as float64, structs as maps)
// back into concrete Go types. Values that cannot be converted directly are
// round-tripped through the configured serde, so the result does not depend on
// JSON semantics.
type TypeConverter struct {
	serde BinarySerde
}

// NewTypeConverter creates a converter backed by s.
func NewTypeConverter(s BinarySerde) *TypeConverter {
	return &TypeConverter{serde: s}
}

// ConvertToType converts value to targetType.
func (tc *TypeConverter) ConvertToType(value any, targetType reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(targetType), nil
	}

	valueType := reflect.TypeOf(value)
	if valueType == targetType {
		return reflect.ValueOf(value), nil
	}

	if targetType.Kind() == reflect.Interface {
		if valueType.Implements(targetType) {
			v := reflect.New(targetType).Elem()
			v.Set(reflect.ValueOf(value))
			return v, nil
		}
		return reflect.Value{}, fmt.Errorf("%w: %v does not implement %v", ErrConversion, valueType, targetType)
	}

	if isNumericKind(valueType.Kind()) && isNumericKind(targetType.Kind()) {
		return convertNumeric(value, targetType)
	}

	// string <-> numeric is convertible in reflect but never what a caller means.
	if valueType.ConvertibleTo(targetType) && !(isNumericKind(valueType.Kind()) && targetType.Kind() == reflect.String) {
		return reflect.ValueOf(value).Convert(targetType), nil
	}

	return tc.convertViaSerializer(value, targetType)
}

// convertNumeric rejects conversions that would silently lose information.
func convertNumeric(value any, targetType reflect.Type) (reflect.Value, error) {
	v := reflect.ValueOf(value)

	switch {
	case isFloatKind(v.Kind()) && isIntegerKind(targetType.Kind()):
		f := v.Float()
		i := int64(f)
		if float64(i) != f {
			return reflect.Value{}, fmt.Errorf("%w: %v to %v loses precision", ErrConversion, f, targetType)
		}
		return checkedInt(i, targetType)
	case isSignedKind(v.Kind()) && isIntegerKind(targetType.Kind()):
		return checkedInt(v.Int(), targetType)
	case isUnsignedKind(v.Kind()) && isSignedKind(targetType.Kind()):
		u := v.Uint()
		if u > 1<<63-1 {
			return reflect.Value{}, fmt.Errorf("%w: %v overflows %v", ErrConversion, u, targetType)
		}
		return checkedInt(int64(u), targetType)
	}
	out := reflect.New(targetType).Elem()
	if isUnsignedKind(targetType.Kind()) && isUnsignedKind(v.Kind()) && out.OverflowUint(v.Uint()) {
		return reflect.Value{}, fmt.Errorf("%w: %v overflows %v", ErrConversion, v.Uint(), targetType)
	}
	return v.Convert(targetType), nil
}

func checkedInt(i int64, targetType reflect.Type) (reflect.Value, error) {
	out := reflect.New(targetType).Elem()
	switch {
	case isSignedKind(targetType.Kind()):
		if out.OverflowInt(i) {
			return reflect.Value{}, fmt.Errorf("%w: %d overflows %v", ErrConversion, i, targetType)
		}
		out.SetInt(i)
	case isUnsignedKind(targetType.Kind()):
		if i < 0 || out.OverflowUint(uint64(i)) {
			return reflect.Value{}, fmt.Errorf("%w: %d overflows %v", ErrConversion, i, targetType)
		}
		out.SetUint(uint64(i))
	}
	return out, nil
}

func (tc *TypeConverter) convertViaSerializer(value any, targetType reflect.Type) (reflect.Value, error) {
	data, err := tc.serde.SerializeBinary(value)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: encode %T: %w", ErrConversion, value, err)
	}

	elem := targetType
	if targetType.Kind() == reflect.Pointer {
		elem = targetType.Elem()
	}
	target := reflect.New(elem)
	if err := tc.serde.DeserializeBinary(data, target.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("%w: decode into %v: %w", ErrConversion, targetType, err)
	}

	if targetType.Kind() == reflect.Pointer {
		return target, nil
	}
	return target.Elem(), nil
}

// ConvertSlice converts each element of values to targetElemType.
func (tc *TypeConverter) ConvertSlice(values []any, targetElemType reflect.Type) ([]reflect.Value, error) {
	result := make([]reflect.Value, len(values))
	for i, val := range values {
		converted, err := tc.ConvertToType(val, targetElemType)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		result[i] = converted
	}
	return result, nil
}

func isNumericKind(k reflect.Kind) bool {
	return isIntegerKind(k) || isFloatKind(k)
}

func isIntegerKind(k reflect.Kind) bool {
	return isSignedKind(k) || isUnsignedKind(k)
}

func isSignedKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsignedKind(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}
