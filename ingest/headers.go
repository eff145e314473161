package ingest

import (
	"bufio"
	"bytes"
	"io"

	"listarchive/idcodec"
	"listarchive/internal/imf"
)

// parsedHeaders is the subset of a message's header block the ingest
// pipeline reads before handing the body off to scrub.Scrub.
type parsedHeaders struct {
	MessageID   string
	From        string
	Subject     string
	Date        string
	InReplyTo   string
	References  string
}

func parseHeaders(raw []byte) (parsedHeaders, error) {
	r := imf.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	hdr, err := r.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return parsedHeaders{}, err
	}
	return parsedHeaders{
		MessageID:  idcodec.DecodeHeader(string(hdr.Get("Message-ID"))),
		From:       string(hdr.Get("From")),
		Subject:    idcodec.DecodeHeader(string(hdr.Get("Subject"))),
		Date:       string(hdr.Get("Date")),
		InReplyTo:  string(hdr.Get("In-Reply-To")),
		References: string(hdr.Get("References")),
	}, nil
}
