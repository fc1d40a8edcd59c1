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
	"fmt"
	"reflect"
	"slices"
)

// FieldChange is one difference between two states.
type FieldChange struct {
	Field  string
	Before any
	After  any
}

func (c FieldChange) String() string {
	return fmt.Sprintf("%s: %v -> %v", c.Field, c.Before, c.After)
}

// Diff compares two states field by field. Structs are compared on their
// exported fields and maps on their keys; any other type yields at most one
// change with an empty Field.
func Diff[S any](before, after S) []FieldChange {
	return diffValues(reflect.ValueOf(&before).Elem(), reflect.ValueOf(&after).Elem())
}

func diffValues(a, b reflect.Value) []FieldChange {
	for a.Kind() == reflect.Pointer || a.Kind() == reflect.Interface {
		if a.IsNil() || b.IsNil() || a.Elem().Type() != b.Elem().Type() {
			return wholeChange(a, b)
		}
		a, b = a.Elem(), b.Elem()
	}

	switch a.Kind() {
	case reflect.Struct:
		var changes []FieldChange
		t := a.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			av, bv := a.Field(i).Interface(), b.Field(i).Interface()
			if !reflect.DeepEqual(av, bv) {
				changes = append(changes, FieldChange{Field: f.Name, Before: av, After: bv})
			}
		}
		return changes
	case reflect.Map:
		if a.Type().Key().Kind() != reflect.String {
			return wholeChange(a, b)
		}
		keys := make(map[string]reflect.Value)
		for _, k := range a.MapKeys() {
			keys[k.String()] = k
		}
		for _, k := range b.MapKeys() {
			keys[k.String()] = k
		}
		names := make([]string, 0, len(keys))
		for n := range keys {
			names = append(names, n)
		}
		slices.Sort(names)

		var changes []FieldChange
		for _, n := range names {
			av, bv := mapValue(a, keys[n]), mapValue(b, keys[n])
			if !reflect.DeepEqual(av, bv) {
				changes = append(changes, FieldChange{Field: n, Before: av, After: bv})
			}
		}
		return changes
	}
	return wholeChange(a, b)
}

func mapValue(m, k reflect.Value) any {
	v := m.MapIndex(k)
	if !v.IsValid() {
		return nil
	}
	return v.Interface()
}

func wholeChange(a, b reflect.Value) []FieldChange {
	av, bv := valueOf(a), valueOf(b)
	if reflect.DeepEqual(av, bv) {
		return nil
	}
	return []FieldChange{{Before: av, After: bv}}
}

func valueOf(v reflect.Value) any {
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	return v.Interface()
}
