package pool

import (
	"context"
	"time"

	"codeberg.org/gruf/go-kv"
	"codeberg.org/gruf/go-logger/v2/log"
)

// idleSleep is how long a preparer worker waits before retrying
// DrainForPreparation after finding notReady empty.
const idleSleep = time.Second

// RunPreparer runs a single preparer worker loop until ctx is cancelled:
// drain notReady, attempt to prepare, push to ready or back to notReady.
// The pool can hold more proxies than are expected ready at once; running
// N of these concurrently bounds outbound probe parallelism independently
// of client parallelism.
func RunPreparer(ctx context.Context, p *Pool, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entry, ok := p.DrainForPreparation()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}

		prepared, err := entry.Prepare(ctx)
		if err != nil {
			log.ErrorKVs(kv.Fields{
				{K: "worker", V: workerID},
				{K: "entry", V: entry.ID()},
				{K: "error", V: err},
				{K: "msg", V: "prepare failed"},
			}...)
		} else if !prepared {
			log.DebugKVs(kv.Fields{
				{K: "worker", V: workerID},
				{K: "entry", V: entry.ID()},
				{K: "msg", V: "proxy unreachable"},
			}...)
		} else {
			log.DebugKVs(kv.Fields{
				{K: "worker", V: workerID},
				{K: "entry", V: entry.ID()},
				{K: "msg", V: "proxy ready"},
			}...)
		}

		p.FinishPreparation(entry, prepared)
	}
}
