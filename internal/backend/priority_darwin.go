//go:build darwin

package backend

// PlatformPriority is the preferred order of transmission paths, best
// first.
func PlatformPriority() []Type {
	return []Type{TypeKqueue, TypeRawSocket}
}
