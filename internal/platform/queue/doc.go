// Package queue implements the job ledger: an in-process, FIFO queue that
// accepts submissions of ordered jobs, hands contiguous slices of them to
// workers, and settles every submission exactly once after reconciling the
// per-job results reported back.
//
// A submission's jobs always form one contiguous run of sequence numbers.
// Workers detach slices with Acquire or AcquireAt; a slice may span the tail
// of one submission and the head of the next. When any job of a submission
// fails, its jobs still waiting in the ledger are evicted and reported as
// failed so the submission can settle without waiting for them.
package queue
