// Copyright 2025 Strand Authors
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

// Package storage provides the per-run scratchpad: a heterogeneous map with
// type-tagged keys, serialised by a single mutex. It is safe under concurrent
// access from node executions sharing the same run context.
package storage

import (
	"fmt"
	"sync"
)

// Key is a type-tagged handle into a KeyMap. Two keys with the same name but
// different type parameters address the same slot; reading the slot through
// the wrong type surfaces ErrTypeMismatch, which indicates a programming
// error at the call site.
type Key[T any] struct {
	Name string
}

// NewKey creates a typed key with the given name.
func NewKey[T any](name string) Key[T] {
	return Key[T]{Name: name}
}

// ErrNotFound is returned by GetValue when the key has no entry.
type ErrNotFound struct {
	Name string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("storage: no value for key %q", e.Name)
}

// ErrTypeMismatch is returned when the stored value cannot be cast to the
// key's type parameter.
type ErrTypeMismatch struct {
	Name string
	Want string
	Got  string
}

func (e ErrTypeMismatch) Error() string {
	return fmt.Sprintf("storage: value for key %q is %s, not %s", e.Name, e.Got, e.Want)
}

// KeyMap is a mutex-guarded heterogeneous map.
type KeyMap struct {
	mu     sync.Mutex
	values map[string]any
}

// NewKeyMap creates an empty key map.
func NewKeyMap() *KeyMap {
	return &KeyMap{values: make(map[string]any)}
}

// Get returns the value for k, reporting presence. A present value of the
// wrong type returns an ErrTypeMismatch.
func Get[T any](m *KeyMap, k Key[T]) (T, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	raw, ok := m.values[k.Name]
	if !ok {
		return zero, false, nil
	}

	v, ok := raw.(T)
	if !ok {
		return zero, false, ErrTypeMismatch{
			Name: k.Name,
			Want: fmt.Sprintf("%T", zero),
			Got:  fmt.Sprintf("%T", raw),
		}
	}
	return v, true, nil
}

// GetValue returns the value for k or fails with ErrNotFound.
func GetValue[T any](m *KeyMap, k Key[T]) (T, error) {
	v, ok, err := Get(m, k)
	if err != nil {
		return v, err
	}
	if !ok {
		var zero T
		return zero, ErrNotFound{Name: k.Name}
	}
	return v, nil
}

// Set stores v under k, replacing any previous value.
func Set[T any](m *KeyMap, k Key[T], v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[k.Name] = v
}

// Remove deletes the entry for k.
func Remove[T any](m *KeyMap, k Key[T]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, k.Name)
}

// Clear removes all entries.
func (m *KeyMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]any)
}

// Len returns the number of entries.
func (m *KeyMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

// ToMap returns a shallow copy of the underlying name to value map.
func (m *KeyMap) ToMap() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// PutAll copies all entries from src into the map, overwriting on collision.
func (m *KeyMap) PutAll(src map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range src {
		m.values[k] = v
	}
}
