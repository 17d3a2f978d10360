package domain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultBook_WaitForRegister(t *testing.T) {
	book := NewResultBook()
	book.Declare("k")

	got := make(chan json.RawMessage, 1)
	go func() {
		v, err := book.Wait(context.Background(), "k")
		assert.NoError(t, err)
		got <- v
	}()

	book.Register("k", json.RawMessage(`{"id":"1"}`))

	select {
	case v := <-got:
		assert.JSONEq(t, `{"id":"1"}`, string(v))
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}

func TestResultBook_FirstSettleWins(t *testing.T) {
	book := NewResultBook()
	book.Declare("k")

	errFirst := errors.New("first")
	book.Fail("k", errFirst)
	book.Register("k", json.RawMessage(`1`))

	_, err := book.Wait(context.Background(), "k")
	assert.ErrorIs(t, err, errFirst)
}

func TestResultBook_FailWithoutError(t *testing.T) {
	book := NewResultBook()
	book.Fail("k", nil)

	_, err := book.Wait(context.Background(), "k")
	assert.ErrorIs(t, err, ErrJobFailed)
}

func TestResultBook_UnknownKey(t *testing.T) {
	_, err := NewResultBook().Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestResultBook_WaitCanceled(t *testing.T) {
	book := NewResultBook()
	book.Declare("k")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := book.Wait(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDependencyError(t *testing.T) {
	cause := errors.New("upload rejected")
	var err error = &DependencyError{Key: "attachment-0", Cause: cause}

	assert.ErrorIs(t, err, ErrDependencyFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, `dependency "attachment-0" failed: upload rejected`, err.Error())
}

func TestNewNotification(t *testing.T) {
	ok := Success(json.RawMessage(`{"message_id":"m1"}`))
	failed := Failure[json.RawMessage](errors.New("rejected"))

	n := NewNotification("r1", Outcome[json.RawMessage]{
		Success: false,
		Errors:  []error{errors.New("rejected")},
		Results: []*Result[json.RawMessage]{&ok, &failed, nil},
	})

	assert.Equal(t, "r1", n.RequestID)
	assert.False(t, n.Success)
	assert.Equal(t, []string{"rejected"}, n.Errors)
	require.Len(t, n.Results, 3)
	assert.True(t, n.Results[0].OK)
	assert.JSONEq(t, `{"message_id":"m1"}`, string(n.Results[0].Value))
	assert.Equal(t, "rejected", n.Results[1].Error)
	assert.Equal(t, ErrJobFailed.Error(), n.Results[2].Error)

	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"request_id":"r1"`)
}

func TestJobVariants(t *testing.T) {
	book := NewResultBook()
	req := Request{Method: "POST", RelativeURL: "me/messages"}

	jobs := []Job{
		PlainJob{Channel: "u1", Request: req},
		NewRegisteredJob(book, "u2", req, "k"),
		DependentJob{Channel: "u3", Request: req, Keys: []string{"k"}, Book: book},
	}
	for i, want := range []string{"u1", "u2", "u3"} {
		assert.Equal(t, want, jobs[i].Target())
		assert.Equal(t, req, jobs[i].Draft())
	}

	// Declared by NewRegisteredJob, so Wait blocks instead of failing.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := book.Wait(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
