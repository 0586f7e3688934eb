// Copyright (c) 2014, Kevin Walsh.  All rights reserved.
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

package boxing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kevinawalsh/ramdatalog/internal/boxed"
)

func TestUnboxBoxRoundTripInt(t *testing.T) {
	r := NewRegistry()
	pos := Position(1)
	code := r.UnboxWith(boxed.OfInt(42), pos)
	back := r.BoxWith(code, pos)
	require.Equal(t, int64(42), back.Int())
}

func TestUnboxBoxRoundTripFloat(t *testing.T) {
	r := NewRegistry()
	pos := Position(2)
	code := r.UnboxWith(boxed.OfFloat(3.5), pos)
	back := r.BoxWith(code, pos)
	require.Equal(t, 3.5, back.Float())
}

func TestUnboxBoxRoundTripString(t *testing.T) {
	r := NewRegistry()
	pos := Position(3)
	code := r.UnboxWith(boxed.OfString("alice"), pos)
	back := r.BoxWith(code, pos)
	require.Equal(t, "alice", back.String2())
}

func TestInterningReturnsStableCodeForSameObject(t *testing.T) {
	r := NewRegistry()
	pos := Position(4)
	c1 := r.UnboxWith(boxed.OfString("bob"), pos)
	c2 := r.UnboxWith(boxed.OfString("bob"), pos)
	require.Equal(t, c1, c2)
	c3 := r.UnboxWith(boxed.OfString("carol"), pos)
	require.NotEqual(t, c1, c3)
}

func TestMixedKindsAtOnePositionPanics(t *testing.T) {
	r := NewRegistry()
	pos := Position(5)
	r.UnboxWith(boxed.OfInt(1), pos)
	require.Panics(t, func() {
		r.UnboxWith(boxed.OfString("x"), pos)
	})
}

func TestBoxWithBeforeKindKnownPanics(t *testing.T) {
	r := NewRegistry()
	pos := Position(6)
	require.Panics(t, func() {
		r.BoxWith(0, pos)
	})
}

func TestDistinctPositionsIndependent(t *testing.T) {
	r := NewRegistry()
	r.UnboxWith(boxed.OfInt(1), Position(10))
	require.NotPanics(t, func() {
		r.UnboxWith(boxed.OfString("ok"), Position(11))
	})
}
