//go:build cgo && mnnllm

package native

/*
#cgo LDFLAGS: -lmnnllm -lstdc++
#include <stdlib.h>
#include "mnnllm.h"

extern void goMnnToken(uintptr_t handle, char *token);
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"
)

type tokenSink func(token string)

//export goMnnToken
func goMnnToken(handle C.uintptr_t, token *C.char) {
	h := cgo.Handle(handle)
	if sink, ok := h.Value().(tokenSink); ok && sink != nil {
		sink(C.GoString(token))
	}
}

// dylib forwards to libmnnllm through its C ABI. The library keeps a single
// global model, so every dylib value shares it.
type dylib struct{}

// Open returns the Module backed by the linked libmnnllm.
func Open() (Module, error) {
	return dylib{}, nil
}

func (dylib) Load(path string) bool {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	return C.mnnllm_load(cPath) != 0
}

func (d dylib) LoadAsync(path string, done func(ok bool)) {
	go func() {
		ok := d.Load(path)
		if done != nil {
			done(ok)
		}
	}()
}

func (dylib) Chat(question string, onToken func(token string)) string {
	cQuestion := C.CString(question)
	defer C.free(unsafe.Pointer(cQuestion))

	h := cgo.NewHandle(tokenSink(onToken))
	defer h.Delete()

	out := C.mnnllm_chat(cQuestion, C.mnnllm_token_fn(C.goMnnToken), C.uintptr_t(h))
	if out == nil {
		return ""
	}
	defer C.mnnllm_free(out)
	return C.GoString(out)
}

func (d dylib) ChatAsync(question string, done func(reply string)) {
	go func() {
		reply := d.Chat(question, nil)
		if done != nil {
			done(reply)
		}
	}()
}

func (dylib) Interrupt() {
	C.mnnllm_interrupt()
}

func (dylib) Release() error {
	C.mnnllm_release()
	return nil
}
