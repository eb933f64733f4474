// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrapper
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ternarybob/arbor"
)

// SafeGo runs fn in a goroutine that survives panics. A panicking
// goroutine is logged with its stack and the process keeps serving;
// callers that need the panic to be fatal should not use this.
//
// The ingest consumer and the metadata enricher run under SafeGo: a
// poisoned message or a broken remote page must never take the server
// down with it.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				stackTrace := string(buf[:n])

				if logger != nil {
					logger.Error().
						Str("goroutine", name).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", stackTrace).
						Msg("Recovered from panic in goroutine - continuing service operation")
				} else {
					fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
				}
				// Non-fatal by contract: no crash file, the log line is
				// the record. Fatal panics go through WriteCrashFile.
			}
		}()

		fn()
	}()
}
