package assert

import (
	"fmt"
	"path/filepath"
	"runtime"
)

func Assert(condition bool, args ...any) bool {
	if condition {
		return true
	}

	panic(failure(2, args...))
}

// Unreachable panics unconditionally. Use it to close exhaustive switches
// over closed enumerations.
func Unreachable(args ...any) {
	panic(failure(2, args...))
}

func failure(skip int, args ...any) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		file = "unknown"
		line = 0
	}
	filename := filepath.Base(file)

	if len(args) > 0 {
		format := args[0].(string)
		message := fmt.Sprintf(format, args[1:]...)
		return fmt.Sprintf("Assertion failed: %s at %s:%d\n", message, filename, line)
	}
	return fmt.Sprintf("Assertion failed at %s:%d\n", filename, line)
}
