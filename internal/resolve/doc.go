// Package resolve implements the worker side of the dependent-value
// protocol.
//
// A RegisteredJob publishes its result under a key in the ResultBook shared
// by its submission. A DependentJob lists the keys it consumes and an
// accomplish function; right before the job is sent, the Consumer waits for
// those keys, then calls the function with the draft request and a lookup
// of the form get(key, "$.path") to produce the final request.
//
//	consumer := resolve.NewConsumer(client)
//	ledger.Acquire(ctx, 50, consumer.Consume)
package resolve
