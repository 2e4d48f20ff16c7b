// Package cluster provides the multi-node sandbox topology.
//
// A Cluster manages sandbox nodes with exactly one primary. It implements
// store.Topology, so outage injection stops, suspends or fails over the
// primary, and its Dial method is a store.Dialer that always targets the
// current primary, so a reconnect after failover reaches the promoted node.
//
// # Basic Usage
//
//	c := cluster.New()
//	if err := c.CreateNodes(3, "node", password); err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.StartAll(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	desc, _ := c.Descriptor(password)
//	conn := store.New(desc, store.WithDialer(c.Dial), store.WithTopology(c))
//
// # Thread Safety
//
// All cluster operations are thread-safe and can be called concurrently.
// Node starting and stopping is performed in parallel.
package cluster
