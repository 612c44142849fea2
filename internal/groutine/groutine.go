// Package groutine starts named goroutines so that transport workers show up
// under readable labels in pprof goroutine dumps.
package groutine

import (
	"context"
	"runtime/pprof"
)

// Go starts fn on a new goroutine labelled with name.
//
//	groutine.Go(ctx, "ble-writer-AA:BB", func(ctx context.Context) {
//	    // work until ctx is done
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, fn)
}
