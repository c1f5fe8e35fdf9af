package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"daylog/internal/provider"
)

var errNoPlainText = fmt.Errorf("%w: message has no text/plain part", provider.ErrParse)

// readEntity parses an mbox message. The leading "From " envelope line is
// not a header and is skipped. Only the header is parsed eagerly; the body
// is decoded when read.
func readEntity(raw []byte) (*message.Entity, error) {
	if bytes.HasPrefix(raw, []byte("From ")) {
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			raw = raw[i+1:]
		} else {
			raw = nil
		}
	}
	e, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("%w: %v", provider.ErrParse, err)
	}
	return e, nil
}

// headerDate returns the parsed Date header, or false if it is missing or
// unreadable.
func headerDate(h message.Header, loc *time.Location) (time.Time, bool) {
	raw := h.Get("Date")
	if raw == "" {
		return time.Time{}, false
	}
	t, err := parseMailDate(raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func headerText(h message.Header, key string) string {
	mh := mail.Header{Header: h}
	if key == "Subject" {
		if s, err := mh.Subject(); err == nil {
			return s
		}
		return h.Get(key)
	}
	if s, err := mh.Text(key); err == nil {
		return s
	}
	return h.Get(key)
}

// plainTextBody returns the text/plain contents of e. In multipart messages
// the first text/plain part wins and nested multiparts (typically
// multipart/alternative) are searched recursively. HTML is never used as a
// substitute.
func plainTextBody(e *message.Entity) (string, error) {
	mr := e.MultipartReader()
	if mr == nil {
		ct, _, _ := e.Header.ContentType()
		if ct != "" && ct != "text/plain" {
			return "", errNoPlainText
		}
		return readBody(e.Body)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", errNoPlainText
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", fmt.Errorf("%w: %v", provider.ErrParse, err)
		}
		ct, _, _ := part.Header.ContentType()
		switch {
		case ct == "text/plain":
			return readBody(part.Body)
		case strings.HasPrefix(ct, "multipart/"):
			if text, err := plainTextBody(part); err == nil {
				return text, nil
			}
		}
	}
}

func readBody(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", provider.ErrParse, err)
	}
	return string(b), nil
}
