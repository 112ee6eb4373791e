//go:build !cgo || !mnnllm

package native

// Open reports ErrUnavailable: this build carries no native binding.
func Open() (Module, error) {
	return nil, ErrUnavailable
}
