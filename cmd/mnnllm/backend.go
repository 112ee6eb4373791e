package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/mnnllm/internal/native"
)

const (
	backendNative = "native"
	backendStub   = "stub"
)

// openModule selects the model backend. The stub echoes questions back and
// exists for wiring checks on machines without libmnnllm.
func openModule(name string) (native.Module, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", backendNative:
		mod, err := native.Open()
		if errors.Is(err, native.ErrUnavailable) {
			return nil, fmt.Errorf("%w: rebuild with -tags mnnllm or use --backend stub", err)
		}
		return mod, err
	case backendStub:
		return &native.Stub{}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want %s or %s)", name, backendNative, backendStub)
	}
}
