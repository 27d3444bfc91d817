// Package dag executes pipeline schemas.
//
// A Scheduler compiles a schema into levels and visits the top-level nodes
// level by level, running the nodes of one level concurrently. Loop bodies
// and parallel branches run inside the behavior of the node that owns them,
// each in a child State.
//
// Every node visit is recorded as a Step through the Recorder. A node whose
// dependencies were all skipped, or whose guarding edges evaluated false, is
// itself recorded as skipped.
//
// Transform nodes call a Processor registered for their processing type.
// Async processors reply Pending and the step waits on PendingSteps until a
// callback delivers its Signal or the node timeout expires.
//
//	reg := dag.NewRegistry()
//	reg.RegisterProcessor("resize", resizer)
//	sched := dag.NewScheduler(dag.Config{}, reg, recorder, log)
//	err := sched.Run(ctx, &dag.Execution{TaskID: id, Input: input}, ps)
package dag
