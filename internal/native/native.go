// Package native describes the surface exported by the libmnnllm native module
// and provides the implementations the facade can be backed by.
package native

import "errors"

// ErrUnavailable is returned by Open when the binary was built without the
// native binding.
var ErrUnavailable = errors.New("native module unavailable (build with cgo and -tags mnnllm)")

// Module is the raw contract of the native library. Results are reported the
// way the library reports them: a boolean for load and plain strings for chat.
type Module interface {
	// Load initializes the model at path and reports whether it was accepted.
	Load(path string) bool
	// LoadAsync runs Load on a module-owned goroutine and reports the outcome
	// to done at most once.
	LoadAsync(path string, done func(ok bool))
	// Chat generates a reply, calling onToken for each fragment in generation
	// order, and returns the assembled reply once generation ends.
	Chat(question string, onToken func(token string)) string
	// ChatAsync generates a reply and hands it to done at most once.
	ChatAsync(question string, done func(reply string))
}

// Interrupter is implemented by modules that can abort an in-flight generation.
type Interrupter interface {
	Interrupt()
}

// Releaser is implemented by modules that can free the loaded model.
type Releaser interface {
	Release() error
}
