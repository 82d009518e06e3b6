// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fingerprint

type primitiveClass int

const (
	classOther primitiveClass = iota
	classInteger
	classFloat
)

// primitives are the built-in scalar types. Integer and float primitives
// also land in the {integer} / {float} buckets so a literal whose concrete
// type is not yet inferred still finds them.
var primitives = map[string]primitiveClass{
	"bool": classOther,
	"char": classOther,
	"str":  classOther,

	"i8":    classInteger,
	"i16":   classInteger,
	"i32":   classInteger,
	"i64":   classInteger,
	"i128":  classInteger,
	"isize": classInteger,
	"u8":    classInteger,
	"u16":   classInteger,
	"u32":   classInteger,
	"u64":   classInteger,
	"u128":  classInteger,
	"usize": classInteger,

	"f32": classFloat,
	"f64": classFloat,
}

// IsPrimitive reports whether name is a built-in scalar type.
func IsPrimitive(name string) bool {
	_, ok := primitives[name]
	return ok
}
