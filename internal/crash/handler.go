package crash

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
)

// Handler observes a fault before it continues unwinding.
type Handler interface {
	HandleFault(v any, frames []string)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(v any, frames []string)

// HandleFault calls f(v, frames).
func (f HandlerFunc) HandleFault(v any, frames []string) {
	f(v, frames)
}

type registration struct {
	h Handler
}

var (
	handlersMu sync.Mutex
	handlers   []*registration
)

// Install registers h on top of the handlers already installed. restore
// removes exactly this registration and leaves the others in place.
func Install(h Handler) (restore func()) {
	reg := &registration{h: h}

	handlersMu.Lock()
	handlers = append(handlers, reg)
	handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			handlersMu.Lock()
			defer handlersMu.Unlock()
			for i, r := range handlers {
				if r == reg {
					handlers = append(handlers[:i], handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Installed returns the number of registered handlers.
func Installed() int {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	return len(handlers)
}

// Dispatch passes a fault to every handler, newest first. A handler that
// panics is skipped so the rest of the chain still runs.
func Dispatch(v any, frames []string) {
	handlersMu.Lock()
	chain := make([]*registration, len(handlers))
	copy(chain, handlers)
	handlersMu.Unlock()

	for i := len(chain) - 1; i >= 0; i-- {
		func() {
			defer func() { _ = recover() }()
			chain[i].h.HandleFault(v, frames)
		}()
	}
}

// Recover reports a panic to the installed handlers and re-panics with the
// original value. It must be deferred directly:
//
//	defer crash.Recover()
func Recover() {
	v := recover()
	if v == nil {
		return
	}
	Dispatch(v, callers(3))
	panic(v)
}

// Go runs fn in a new goroutine guarded by Recover.
func Go(fn func()) {
	go func() {
		defer Recover()
		fn()
	}()
}

// callers returns the stack of the caller as "function file:line" lines,
// without runtime frames.
func callers(skip int) []string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var out []string
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "runtime.") {
			out = append(out, fmt.Sprintf("%s %s:%d", f.Function, f.File, f.Line))
		}
		if !more {
			return out
		}
	}
}
