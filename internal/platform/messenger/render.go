package messenger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/machinat/sociably-sub013/internal/domain"
	"github.com/machinat/sociably-sub013/internal/resolve"
)

// Relative URLs of the platform API.
const (
	MessagesPath    = "me/messages"
	AttachmentsPath = "me/message_attachments"
)

// attachmentIDField is where a send expects the uploaded attachment id.
const attachmentIDField = "$.message.attachment.payload.attachment_id"

var (
	// ErrNoSegments is returned when there is nothing to send.
	ErrNoSegments = errors.New("messenger: no segments to send")
	// ErrUnknownSegment is returned for a segment type that cannot be rendered.
	ErrUnknownSegment = errors.New("messenger: unknown segment type")
)

// Segment is one renderable piece of a send: a text message or a media
// attachment referenced by URL.
type Segment struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

type recipient struct {
	ID string `json:"id"`
}

type payload struct {
	URL          string `json:"url,omitempty"`
	IsReusable   bool   `json:"is_reusable,omitempty"`
	AttachmentID string `json:"attachment_id,omitempty"`
}

type attachment struct {
	Type    string  `json:"type"`
	Payload payload `json:"payload"`
}

type message struct {
	Text       string      `json:"text,omitempty"`
	Attachment *attachment `json:"attachment,omitempty"`
}

type sendBody struct {
	Recipient *recipient `json:"recipient,omitempty"`
	Message   message    `json:"message"`
}

// MakeJobs renders segments addressed to target into jobs for one
// submission. A text segment becomes a single send. A media segment becomes
// an upload registering its attachment id, followed by a send that consumes
// it. book must be dedicated to this submission.
func MakeJobs(book *domain.ResultBook, target string, segments []Segment) ([]domain.Job, error) {
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}

	jobs := make([]domain.Job, 0, len(segments))
	for i, seg := range segments {
		switch seg.Type {
		case "text":
			req, err := newRequest(MessagesPath, sendBody{
				Recipient: &recipient{ID: target},
				Message:   message{Text: seg.Text},
			})
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, domain.PlainJob{Channel: target, Request: req})

		case "image", "video", "audio", "file":
			if seg.URL == "" {
				return nil, fmt.Errorf("messenger: segment %d: %s without url", i, seg.Type)
			}
			key := fmt.Sprintf("attachment-%d", i)

			upload, err := newRequest(AttachmentsPath, sendBody{
				Message: message{Attachment: &attachment{
					Type:    seg.Type,
					Payload: payload{URL: seg.URL, IsReusable: true},
				}},
			})
			if err != nil {
				return nil, err
			}
			send, err := newRequest(MessagesPath, sendBody{
				Recipient: &recipient{ID: target},
				Message:   message{Attachment: &attachment{Type: seg.Type}},
			})
			if err != nil {
				return nil, err
			}

			jobs = append(jobs,
				domain.NewRegisteredJob(book, target, upload, key),
				domain.DependentJob{
					Channel:    target,
					Request:    send,
					Keys:       []string{key},
					Accomplish: fillAttachmentID,
					Book:       book,
				},
			)

		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownSegment, seg.Type)
		}
	}
	return jobs, nil
}

// fillAttachmentID sets the uploaded attachment id on a send.
func fillAttachmentID(draft domain.Request, keys []string, get domain.GetResultValue) (domain.Request, error) {
	id, err := get(keys[0], "$.attachment_id")
	if err != nil {
		return domain.Request{}, err
	}
	body, err := resolve.Fill(draft.Body, attachmentIDField, id)
	if err != nil {
		return domain.Request{}, err
	}
	draft.Body = body
	return draft, nil
}

func newRequest(path string, body sendBody) (domain.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return domain.Request{}, fmt.Errorf("messenger: marshal %s body: %w", path, err)
	}
	return domain.Request{Method: "POST", RelativeURL: path, Body: data}, nil
}
