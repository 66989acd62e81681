//go:build linux

package backend

// PlatformPriority is the preferred order of transmission paths, best
// first.
func PlatformPriority() []Type {
	return []Type{TypeDPDK, TypeAFXDP, TypeIOUring, TypeSendmmsg, TypeRawSocket}
}
