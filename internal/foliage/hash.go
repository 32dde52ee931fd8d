package foliage

import "unicode/utf16"

// TypeID identifies a foliage type. Derived from the type name with
// StableHash, so the same name always yields the same id across runs.
type TypeID int32

// StableHash is a deterministic two-lane djb2 over the UTF-16 code units of s.
// Arithmetic wraps at 32 bits. Distinct names may collide; callers that care
// must check the registry.
func StableHash(s string) int32 {
	units := utf16.Encode([]rune(s))

	var hash1 int32 = (5381 << 16) + 5381
	hash2 := hash1

	for i := 0; i < len(units); i += 2 {
		hash1 = ((hash1 << 5) + hash1) ^ int32(units[i])
		if i == len(units)-1 {
			break
		}
		hash2 = ((hash2 << 5) + hash2) ^ int32(units[i+1])
	}

	return hash1 + hash2*1566083941
}

// IDFromName returns the type id for a type name.
func IDFromName(name string) TypeID {
	return TypeID(StableHash(name))
}
