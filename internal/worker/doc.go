// Package worker provides a goroutine pool for concurrent job execution.
//
// The Pool manages a fixed number of worker goroutines that process jobs
// from a shared queue. Each job receives the pool context, which is
// canceled when the pool stops.
//
// # Basic Usage
//
//	pool := worker.NewPool(clients)
//	pool.Start(ctx)
//	defer pool.Stop()
//
//	for _, id := range ids {
//	    pool.SubmitWait(func(ctx context.Context) {
//	        // run one simulated client
//	    })
//	}
//
// # Configuration
//
// Use NewPoolWithConfig for custom settings:
//
//	config := worker.PoolConfig{
//	    NumWorkers:  8,
//	    QueueFactor: 4, // Queue size = 8 * 4 = 32
//	}
//	pool := worker.NewPoolWithConfig(config)
//
// # Shutdown
//
// Stop cancels the pool context and waits for in-flight jobs. StopWithin
// bounds that wait and reports whether every worker exited, so a job that
// ignores cancellation cannot block the caller forever.
//
// A panicking job is recovered, logged and counted in Panics; the worker
// goroutine keeps serving the queue.
package worker
