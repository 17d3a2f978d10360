package domain

import (
	"context"
	"encoding/json"
)

// Request is the payload of a single platform API call.
type Request struct {
	Method      string          `json:"method"`
	RelativeURL string          `json:"relative_url"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// JobResult is the per-job result type produced by platform executors.
// The value is the raw JSON body the platform answered with.
type JobResult = Result[json.RawMessage]

// Executor performs one physical call carrying a batch of requests.
// Implementations wrap a platform HTTP client.
type Executor interface {
	// Execute sends requests in a single call and returns one result per
	// request, in order. The error is reserved for whole-call failures.
	Execute(ctx context.Context, requests []Request) ([]JobResult, error)
}

// GetResultValue looks up the value at path in the settled result of the job
// that registered key.
type GetResultValue func(key, path string) (any, error)

// AccomplishFunc finalizes a dependent job's draft request once every key it
// consumes has been resolved.
type AccomplishFunc func(draft Request, keys []string, get GetResultValue) (Request, error)

// Job is one unit of work destined for a platform. It is one of PlainJob,
// RegisteredJob or DependentJob.
type Job interface {
	// Target identifies the recipient the job is addressed to.
	Target() string
	// Draft returns the request as rendered, before any dependency is resolved.
	Draft() Request

	isJob()
}

// PlainJob is a job with no part in the dependent-value protocol.
type PlainJob struct {
	Channel string
	Request Request
}

func (j PlainJob) Target() string { return j.Channel }
func (j PlainJob) Draft() Request { return j.Request }
func (PlainJob) isJob()           {}

// RegisteredJob makes its result available to later jobs of the same
// submission under Key.
type RegisteredJob struct {
	Channel string
	Request Request
	Key     string
	Book    *ResultBook
}

// NewRegisteredJob declares key in book and returns the job registering it.
func NewRegisteredJob(book *ResultBook, channel string, req Request, key string) RegisteredJob {
	book.Declare(key)
	return RegisteredJob{Channel: channel, Request: req, Key: key, Book: book}
}

func (j RegisteredJob) Target() string { return j.Channel }
func (j RegisteredJob) Draft() Request { return j.Request }
func (RegisteredJob) isJob()           {}

// DependentJob consumes values registered by earlier jobs of the same
// submission. Accomplish turns the draft into the request actually sent.
type DependentJob struct {
	Channel    string
	Request    Request
	Keys       []string
	Accomplish AccomplishFunc
	Book       *ResultBook
}

func (j DependentJob) Target() string { return j.Channel }
func (j DependentJob) Draft() Request { return j.Request }
func (DependentJob) isJob()           {}
