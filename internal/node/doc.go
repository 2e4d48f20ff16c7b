// Package node provides a sandbox store node backed by an in-process miniredis server.
//
// Each Node wraps one miniredis instance and models the failure modes the
// outage injector needs: a stopped node refuses connections, a suspended node
// answers every command with a LOADING error, and a replica answers with
// READONLY. A stopped node restarts on the same address with its data intact.
//
// # Basic Usage
//
//	n := node.New("node-1", "secret")
//	n.SetPrimary(true)
//	if err := n.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer n.Close()
//
//	client := redis.NewClient(&redis.Options{Addr: n.Addr(), Password: "secret"})
//
// # Node Lifecycle
//
// Stopped -> Running -> (Suspended -> Running) -> Stopped -> Running ...
//
// # Thread Safety
//
// All operations on a Node are protected by a RWMutex.
package node
