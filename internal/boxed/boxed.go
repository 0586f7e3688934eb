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

// Package boxed implements the tagged-union "Boxed value" of the data
// model: a single representation wide enough to hold a relational
// attribute of any of the engine's primitive kinds, plus a NoValue
// sentinel used for valueless (relational) tuple columns.
package boxed

import (
	"fmt"
	"strconv"
)

// Kind identifies which variant of Value is populated. Ordering and
// equality are only meaningful between values of the same Kind; mixing
// kinds at one unified position is a bug, not a runtime error to recover
// from (see internal/bug).
type Kind uint8

const (
	NoValue Kind = iota
	Bool
	Int
	Float
	Char
	String
	Object
)

func (k Kind) String() string {
	switch k {
	case NoValue:
		return "novalue"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case Char:
		return "char"
	case String:
		return "string"
	case Object:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the boxed value itself: a tagged union over bool, int64,
// float64, rune, string, and an arbitrary comparable object, plus the
// NoValue sentinel carried by relational (valueless) tuples.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	c    rune
	s    string
	obj  any
}

// None is the NoValue sentinel, the payload of relational index entries.
var None = Value{kind: NoValue}

func OfBool(b bool) Value     { return Value{kind: Bool, b: b} }
func OfInt(i int64) Value     { return Value{kind: Int, i: i} }
func OfFloat(f float64) Value { return Value{kind: Float, f: f} }
func OfChar(c rune) Value     { return Value{kind: Char, c: c} }
func OfString(s string) Value { return Value{kind: String, s: s} }

// OfObject boxes an arbitrary comparable value. obj must be usable as a
// map key (the boxing table indexes objects by equality).
func OfObject(obj any) Value { return Value{kind: Object, obj: obj} }

// Of boxes a Go value into the matching Value kind, for the facade's
// generalized InjectInto/Facts conversions (spec §6's injectIntoN /
// factsN, generalized over Go's `any`). rune is boxed as Char ahead of
// int32 since rune is an alias for it; everything else not listed here
// falls through to Object.
func Of(v any) Value {
	switch x := v.(type) {
	case nil:
		return None
	case bool:
		return OfBool(x)
	case int:
		return OfInt(int64(x))
	case int64:
		return OfInt(x)
	case float64:
		return OfFloat(x)
	case rune:
		return OfChar(x)
	case string:
		return OfString(x)
	default:
		return OfObject(v)
	}
}

// Unbox reverses Of, returning the Go value appropriate to v's Kind.
func (v Value) Unbox() any {
	switch v.kind {
	case NoValue:
		return nil
	case Bool:
		return v.b
	case Int:
		return v.i
	case Float:
		return v.f
	case Char:
		return v.c
	case String:
		return v.s
	case Object:
		return v.obj
	default:
		return nil
	}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) Bool() bool      { return v.b }
func (v Value) Int() int64      { return v.i }
func (v Value) Float() float64  { return v.f }
func (v Value) Char() rune      { return v.c }
func (v Value) String2() string { return v.s }
func (v Value) Object() any     { return v.obj }

// Equal reports whether v and other are the same boxed value. Comparing
// across kinds is always false (it is not the "mixing" bug the data
// model forbids -- that is only about *storage* at one unified
// position -- but it should not occur on well-typed programs either).
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case NoValue:
		return true
	case Bool:
		return v.b == other.b
	case Int:
		return v.i == other.i
	case Float:
		return v.f == other.f
	case Char:
		return v.c == other.c
	case String:
		return v.s == other.s
	case Object:
		return v.obj == other.obj
	default:
		return false
	}
}

// Less gives a total order over values of the same Kind, used by the
// ordered index for tuple comparisons. Mixing kinds panics: the caller
// (a unified position) has already guaranteed uniform kind.
func (v Value) Less(other Value) bool {
	if v.kind != other.kind {
		panic(fmt.Sprintf("boxed: comparing mismatched kinds %v and %v", v.kind, other.kind))
	}
	switch v.kind {
	case NoValue:
		return false
	case Bool:
		return !v.b && other.b
	case Int:
		return v.i < other.i
	case Float:
		return v.f < other.f
	case Char:
		return v.c < other.c
	case String:
		return v.s < other.s
	case Object:
		return fmt.Sprint(v.obj) < fmt.Sprint(other.obj)
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case NoValue:
		return "()"
	case Bool:
		return strconv.FormatBool(v.b)
	case Int:
		return strconv.FormatInt(v.i, 10)
	case Float:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case Char:
		return strconv.QuoteRune(v.c)
	case String:
		return strconv.Quote(v.s)
	case Object:
		return fmt.Sprintf("%v", v.obj)
	default:
		return "?"
	}
}
