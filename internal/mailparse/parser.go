// Package mailparse extracts the sender, subject and plain-text body from a
// raw RFC 5322 message.
package mailparse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
)

// ErrFromAddressMissing is returned when no sender address can be extracted.
var ErrFromAddressMissing = errors.New("email from address is missing")

// ParseError reports a byte stream that is not a well-formed message.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse message: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser implements usecase.MessageParser
type Parser struct{}

// NewParser creates a parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes raw into a ParsedMessage
func (p *Parser) Parse(raw []byte) (*entity.ParsedMessage, error) {
	return Parse(raw)
}

// Parse decodes raw into a ParsedMessage. The body is the first inline
// text/plain part; HTML alternatives and attachments are ignored, so a
// message without a plain-text part has an empty body.
func Parse(raw []byte) (*entity.ParsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, &ParseError{Err: err}
	}
	defer mr.Close()

	from, err := firstFrom(&mr.Header)
	if err != nil {
		return nil, err
	}

	subject, err := mr.Header.Subject()
	if err != nil {
		// undecodable encoded words: keep the raw value
		subject = mr.Header.Get("Subject")
	}

	body, err := plainTextBody(mr)
	if err != nil {
		return nil, err
	}

	return &entity.ParsedMessage{
		From:    from,
		Subject: subject,
		Body:    body,
	}, nil
}

func firstFrom(h *mail.Header) (string, error) {
	addrs, err := h.AddressList("From")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFromAddressMissing, err)
	}
	if len(addrs) == 0 || addrs[0].Address == "" {
		return "", ErrFromAddressMissing
	}
	return addrs[0].Address, nil
}

func plainTextBody(mr *mail.Reader) (string, error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", &ParseError{Err: err}
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if !strings.EqualFold(contentType, "text/plain") {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return "", &ParseError{Err: err}
		}
		return string(body), nil
	}
}
