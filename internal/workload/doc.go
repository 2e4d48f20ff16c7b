// Package workload provides the per-data-type benchmark executors.
//
// Every executor runs the same four timed phases against its own key
// namespace ({client:<id>}:<type>:key:<n>):
//
//  1. write: populate the key space
//  2. read: read it back (Scalar counts empty reads as lost writes)
//  3. update: mutate what is there, self-healing empty collections
//  4. remove: DEL every key of the namespace
//
// Scalar uses one key per unit of load. The other types cap the key
// space at Options.MaxKeys (default 1000) and address key i mod keyCount.
//
// Iteration starts at i = 1. Even indexes take the first branch of an
// alternation, odd indexes the second.
//
// # Connection loss
//
// An operation that fails with a connection-lost error is not retried.
// The executor rebuilds the handle through Conn.Refresh, counts the
// reconnect, publishes an event and continues with the next index.
// Any other error aborts the run and is returned from RunTest.
//
//	exec, _ := workload.New(workload.List, conn, workload.Options{})
//	res, err := exec.RunTest(ctx, 5000)
package workload
