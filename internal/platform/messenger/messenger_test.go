package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/machinat/sociably-sub013/internal/domain"
	"github.com/machinat/sociably-sub013/internal/platform/queue"
	"github.com/machinat/sociably-sub013/internal/resolve"
)

func newFake(t *testing.T) (*FakeAPI, *Client) {
	t.Helper()
	fake := &FakeAPI{Token: "secret"}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, NewClient(srv.URL, "secret", WithHTTPClient(srv.Client()))
}

func textRequest(to, text string) domain.Request {
	req, _ := newRequest(MessagesPath, sendBody{Recipient: &recipient{ID: to}, Message: message{Text: text}})
	return req
}

func TestClient_Execute(t *testing.T) {
	fake, client := newFake(t)

	results, err := client.Execute(context.Background(), []domain.Request{
		textRequest("u1", "hi"),
		textRequest(FailRecipient, "hi"),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].OK())
	assert.Equal(t, "u1", gjson.GetBytes(results[0].Value, "recipient_id").String())

	var apiErr *APIError
	require.ErrorAs(t, results[1].Err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "OAuthException", apiErr.Type)

	batches := fake.received()
	require.Len(t, batches, 1)
	assert.Equal(t, MessagesPath, batches[0][0].RelativeURL)
	assert.JSONEq(t, `{"recipient":{"id":"u1"},"message":{"text":"hi"}}`, batches[0][0].Body)
}

func TestClient_BatchRejected(t *testing.T) {
	fake := &FakeAPI{Token: "secret"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := NewClient(srv.URL, "wrong")
	_, err := client.Execute(context.Background(), []domain.Request{textRequest("u1", "hi")})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid access token", apiErr.Message)
}

func TestClient_EnvelopeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>`},
		{name: "wrong length", body: `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "t").Execute(context.Background(), []domain.Request{textRequest("u1", "hi")})
			assert.ErrorIs(t, err, ErrBadEnvelope)
		})
	}
}

func TestClient_ItemResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[null, {"code":200,"body":"plain text"}, {"code":500,"body":"boom"}]`))
	}))
	defer srv.Close()

	reqs := []domain.Request{textRequest("u1", "a"), textRequest("u1", "b"), textRequest("u1", "c")}
	results, err := NewClient(srv.URL, "t").Execute(context.Background(), reqs)
	require.NoError(t, err)

	var apiErr *APIError
	require.ErrorAs(t, results[0].Err, &apiErr)
	assert.Equal(t, "NotExecuted", apiErr.Type)

	assert.JSONEq(t, `"plain text"`, string(results[1].Value))

	require.ErrorAs(t, results[2].Err, &apiErr)
	assert.Equal(t, 500, apiErr.Status)
	assert.Equal(t, "boom", apiErr.Message)
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "t").Execute(context.Background(), []domain.Request{textRequest("u1", "hi")})
	assert.Error(t, err)
}

func TestMakeJobs(t *testing.T) {
	book := domain.NewResultBook()
	jobs, err := MakeJobs(book, "u1", []Segment{
		{Type: "text", Text: "hello"},
		{Type: "image", URL: "https://example.com/cat.png"},
	})
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	plain, ok := jobs[0].(domain.PlainJob)
	require.True(t, ok)
	assert.Equal(t, "u1", plain.Target())
	assert.JSONEq(t, `{"recipient":{"id":"u1"},"message":{"text":"hello"}}`, string(plain.Request.Body))

	upload, ok := jobs[1].(domain.RegisteredJob)
	require.True(t, ok)
	assert.Equal(t, AttachmentsPath, upload.Request.RelativeURL)
	assert.Equal(t, "attachment-1", upload.Key)
	assert.JSONEq(t, `{"message":{"attachment":{"type":"image","payload":{"url":"https://example.com/cat.png","is_reusable":true}}}}`, string(upload.Request.Body))

	send, ok := jobs[2].(domain.DependentJob)
	require.True(t, ok)
	assert.Equal(t, []string{"attachment-1"}, send.Keys)
	assert.Same(t, book, send.Book)
}

func TestMakeJobs_Invalid(t *testing.T) {
	book := domain.NewResultBook()

	_, err := MakeJobs(book, "u1", nil)
	assert.ErrorIs(t, err, ErrNoSegments)

	_, err = MakeJobs(book, "u1", []Segment{{Type: "carousel"}})
	assert.ErrorIs(t, err, ErrUnknownSegment)

	_, err = MakeJobs(book, "u1", []Segment{{Type: "image"}})
	assert.Error(t, err)
}

func TestFillAttachmentID(t *testing.T) {
	draft := domain.Request{Body: json.RawMessage(`{"message":{"attachment":{"type":"image","payload":{}}}}`)}
	get := func(key, path string) (any, error) {
		assert.Equal(t, "k", key)
		assert.Equal(t, "$.attachment_id", path)
		return "987", nil
	}

	out, err := fillAttachmentID(draft, []string{"k"}, get)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":{"attachment":{"type":"image","payload":{"attachment_id":"987"}}}}`, string(out.Body))

	_, err = fillAttachmentID(draft, []string{"k"}, func(string, string) (any, error) { return nil, errors.New("nope") })
	assert.Error(t, err)
}

// A rendered send travels through the ledger and the batch endpoint: the
// upload and the send go out in separate calls and the send carries the
// uploaded attachment id.
func TestSend_EndToEnd(t *testing.T) {
	fake, client := newFake(t)
	ledger := queue.NewLedger[domain.Job, json.RawMessage]()
	ledger.OnEvict(resolve.FailEvicted)
	consumer := resolve.NewConsumer(client)

	jobs, err := MakeJobs(domain.NewResultBook(), "u1", []Segment{
		{Type: "text", Text: "look"},
		{Type: "image", URL: "https://example.com/cat.png"},
	})
	require.NoError(t, err)
	future := ledger.Submit(jobs)

	_, ok, err := ledger.Acquire(context.Background(), 50, consumer.Consume)
	require.NoError(t, err)
	require.True(t, ok)

	o, err := future.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, o.Success, "errors: %v", o.Errors)

	batches := fake.received()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2, "text and upload share the first call")
	require.Len(t, batches[1], 1)

	uploaded := gjson.GetBytes(o.Results[1].Value, "attachment_id").String()
	assert.NotEmpty(t, uploaded)
	assert.Equal(t, uploaded, gjson.Get(batches[1][0].Body, "message.attachment.payload.attachment_id").String())
}

func TestSend_FailedRecipient(t *testing.T) {
	_, client := newFake(t)
	ledger := queue.NewLedger[domain.Job, json.RawMessage]()
	consumer := resolve.NewConsumer(client)

	jobs, err := MakeJobs(domain.NewResultBook(), FailRecipient, []Segment{
		{Type: "text", Text: "one"},
		{Type: "text", Text: "two"},
	})
	require.NoError(t, err)
	future := ledger.Submit(jobs)

	_, _, err = ledger.Acquire(context.Background(), 1, consumer.Consume)
	require.NoError(t, err)

	o, err := future.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, o.Success)
	assert.ErrorIs(t, o.Results[1].Err, queue.ErrEvicted)
	assert.Zero(t, ledger.Len())
}
