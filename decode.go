package tinysse

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/tinysse/tinysse/internal/bkerr"
)

// jsonMessage is the wire shape decoded from an application/json publish
// body.
type jsonMessage struct {
	Id      string   `json:"id"`
	Event   string   `json:"event"`
	Data    string   `json:"data"`
	Comment []string `json:"comment"`
}

// DecodeMessage decodes a publish request body per its Content-Type header.
// Only application/json and application/x-www-form-urlencoded are
// supported; anything else is rejected with KindUnsupportedMedia.
func DecodeMessage(r *http.Request) (Message, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return Message{}, bkerr.New(bkerr.KindUnsupportedMedia, "missing or invalid Content-Type")
	}

	switch mediaType {
	case "application/json":
		return decodeJSON(r)
	case "application/x-www-form-urlencoded":
		return decodeForm(r)
	default:
		return Message{}, bkerr.New(bkerr.KindUnsupportedMedia, "unsupported Content-Type %q", mediaType)
	}
}

func decodeJSON(r *http.Request) (Message, error) {
	var jm jsonMessage
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&jm); err != nil {
		return Message{}, wrapBodyErr(err, "invalid JSON body")
	}
	return Message{Id: jm.Id, Event: jm.Event, Data: jm.Data, Comment: jm.Comment}, nil
}

func decodeForm(r *http.Request) (Message, error) {
	if err := r.ParseForm(); err != nil {
		return Message{}, wrapBodyErr(err, "invalid form body")
	}
	return Message{
		Id:      r.PostForm.Get("id"),
		Event:   r.PostForm.Get("event"),
		Data:    r.PostForm.Get("data"),
		Comment: r.PostForm["comment"],
	}, nil
}

// wrapBodyErr maps a body-read failure to the right bkerr.Kind: a
// MaxBytesReader overflow is 413, anything else is a 400.
func wrapBodyErr(err error, format string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return bkerr.Wrap(bkerr.KindPayloadTooLarge, err, "request body exceeds %d bytes", tooLarge.Limit)
	}
	return bkerr.Wrap(bkerr.KindBadRequest, err, "%s", format)
}
