//go:build !debug

package channel

// New creates a channel with the given buffer size. Production builds
// get a buffered channel.
func New[T any](size int) Channel[T] {
	return NewBuffered[T](size)
}
