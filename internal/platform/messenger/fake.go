package messenger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tidwall/gjson"
)

// FailRecipient is a recipient id the FakeAPI always rejects.
const FailRecipient = "fail"

// FakeAPI is an in-memory stand-in for the platform batch endpoint, used by
// cmd/fakeapi and tests. Uploads answer with a fresh attachment_id; sends
// answer with a fresh message_id unless the recipient is FailRecipient or an
// attachment send lacks its attachment_id.
type FakeAPI struct {
	Token  string
	Logger *slog.Logger

	mu      sync.Mutex
	batches [][]batchItem
	nextID  int
}

// received returns the requests received so far, one slice per call.
func (f *FakeAPI) received() [][]batchItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]batchItem, len(f.batches))
	copy(out, f.batches)
	return out
}

func (f *FakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "OAuthException", "POST only")
		return
	}

	var call batchCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		writeError(w, http.StatusBadRequest, "OAuthException", "invalid batch")
		return
	}
	if f.Token != "" && call.AccessToken != f.Token {
		writeError(w, http.StatusUnauthorized, "OAuthException", "invalid access token")
		return
	}

	f.mu.Lock()
	f.batches = append(f.batches, call.Batch)
	out := make([]batchResponse, len(call.Batch))
	for i, item := range call.Batch {
		out[i] = f.answer(item)
	}
	f.mu.Unlock()

	if f.Logger != nil {
		f.Logger.Info("Batch received", "count", len(call.Batch))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// answer must be called with f.mu held.
func (f *FakeAPI) answer(item batchItem) batchResponse {
	f.nextID++

	switch item.RelativeURL {
	case AttachmentsPath:
		return batchResponse{Code: 200, Body: fmt.Sprintf(`{"attachment_id":"%d"}`, 1000+f.nextID)}

	case MessagesPath:
		to := gjson.Get(item.Body, "recipient.id").String()
		if to == FailRecipient {
			return errorItem(http.StatusBadRequest, "OAuthException", "recipient not reachable")
		}
		if gjson.Get(item.Body, "message.attachment").Exists() &&
			!gjson.Get(item.Body, "message.attachment.payload.attachment_id").Exists() &&
			!gjson.Get(item.Body, "message.attachment.payload.url").Exists() {
			return errorItem(http.StatusBadRequest, "OAuthException", "attachment payload is empty")
		}
		return batchResponse{Code: 200, Body: fmt.Sprintf(`{"recipient_id":%q,"message_id":"m_%d"}`, to, f.nextID)}

	default:
		return errorItem(http.StatusNotFound, "GraphMethodException", "unknown path "+item.RelativeURL)
	}
}

func errorItem(status int, typ, msg string) batchResponse {
	body, _ := json.Marshal(map[string]APIError{"error": {Code: 100, Type: typ, Message: msg}})
	return batchResponse{Code: status, Body: string(body)}
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]APIError{"error": {Code: 190, Type: typ, Message: msg}})
}
