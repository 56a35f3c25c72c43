// internal/browser/context_utils.go
package browser

import "context"

// CombineContext derives a context from ctx1 that is also cancelled when
// ctx2 is done. Values, including the CDP target, come from ctx1 while ctx2
// carries the caller's deadline.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(ctx1)
	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
