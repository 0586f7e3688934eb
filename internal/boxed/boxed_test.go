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

package boxed

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOfUnboxRoundTrip(t *testing.T) {
	cases := []any{nil, true, false, int64(42), 3.5, 'x', "hello"}
	for _, c := range cases {
		v := Of(c)
		require.Equal(t, c, v.Unbox())
	}
}

func TestOfIntNormalizesToInt64(t *testing.T) {
	v := Of(7)
	require.Equal(t, Int, v.Kind())
	require.Equal(t, int64(7), v.Int())
}

func TestOfObjectFallthrough(t *testing.T) {
	type custom struct{ n int }
	v := Of(custom{n: 1})
	require.Equal(t, Object, v.Kind())
	require.Equal(t, custom{n: 1}, v.Object())
}

func TestEqualAcrossKindsIsFalse(t *testing.T) {
	require.False(t, OfInt(1).Equal(OfFloat(1)))
	require.True(t, OfInt(1).Equal(OfInt(1)))
	require.True(t, None.Equal(None))
}

func TestLessTotalOrder(t *testing.T) {
	require.True(t, OfInt(1).Less(OfInt(2)))
	require.False(t, OfInt(2).Less(OfInt(1)))
	require.True(t, OfString("a").Less(OfString("b")))
}

func TestLessPanicsOnMismatchedKinds(t *testing.T) {
	require.Panics(t, func() {
		OfInt(1).Less(OfString("a"))
	})
}

func TestStringRendersQuoted(t *testing.T) {
	require.Equal(t, `"hi"`, OfString("hi").String())
	require.Equal(t, "42", OfInt(42).String())
	require.Equal(t, "()", None.String())
}
