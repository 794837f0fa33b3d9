package proc

import "fmt"

// fromPanicValue converts a recover() value to an error. If the value is
// already an error it is returned directly; otherwise it is wrapped in a
// generic error.
func fromPanicValue(p any) error {
	if e, ok := p.(error); ok {
		return e
	}
	return fmt.Errorf("%v", p)
}

// recoverToErr runs f, converting any panic into a RuntimeError instead
// of crashing the process. Supervisor uses this around its pump and
// output-drain goroutines, which run for the lifetime of an external
// process this package does not control.
func recoverToErr(name string, f func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = runtimeError(fmt.Sprintf("panic in %s", name), fromPanicValue(p))
		}
	}()
	return f()
}
