// Package scrub extracts a canonical UTF-8 text body plus an ordered
// list of detached attachments from an arbitrarily-encoded MIME
// message, tolerating broken or legacy input (including inlined
// Pipermail "next part" stubs from historic archive exports).
package scrub

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"strings"
	"unicode/utf8"

	"crawshaw.io/iox"

	"listarchive/email"
	"listarchive/internal/imf"

	"golang.org/x/text/encoding/ianaindex"
)

// Attachment is a detached, non-inline MIME part.
type Attachment struct {
	Counter     int // MIME-walk ordinal, strictly increasing
	Name        string
	ContentType string
	Encoding    string // Content-Transfer-Encoding as declared, may be empty
	Content     []byte
}

// Result is the output of scrubbing a message: its canonical text body
// and the attachments detached from it, in MIME-walk order.
type Result struct {
	Text        string
	Attachments []Attachment
}

// Scrub walks the MIME tree of src depth-first, pre-order, building the
// canonical text body from inline text/plain parts and detaching
// everything else as an ordered attachment.
func Scrub(filer *iox.Filer, src io.Reader) (*Result, error) {
	br := bufio.NewReader(src)
	r := imf.NewReader(br)
	hdr, err := r.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("scrub: reading headers: %v", err)
	}

	w := &walker{filer: filer}
	if err := w.walk(hdr, "", 0, br); err != nil {
		return nil, fmt.Errorf("scrub: %v", err)
	}

	text, stubAttachments := extractPipermailStubs(w.body.String())
	w.attachments = append(w.attachments, stubAttachments...)
	for i := range w.attachments {
		w.attachments[i].Counter = i
	}

	return &Result{
		Text:        text,
		Attachments: w.attachments,
	}, nil
}

type walker struct {
	filer       *iox.Filer
	body        strings.Builder
	bodyStarted bool
	attachments []Attachment
}

// walk mirrors the teacher's depth-first walkMimeRec: it recurses into
// multipart parts and, for leaves, decides inline-body vs attachment
// per parentMediaType and part position exactly as msgcleaver does.
func (w *walker) walk(hdr email.Header, parentMediaType string, localPartNum int, r io.Reader) error {
	mediaType, params, err := mime.ParseMediaType(string(hdr.Get("Content-Type")))
	if err != nil {
		// No usable Content-Type: treat as a bare leaf.
		return w.leaf(hdr, parentMediaType, localPartNum, "text/plain", nil, r)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return w.leaf(hdr, parentMediaType, localPartNum, mediaType, params, r)
		}
		mr := multipart.NewReader(r, boundary)
		for i := 0; ; i++ {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				// A corrupt part shouldn't abort scrubbing the rest of
				// the message; stop walking this subtree only.
				break
			}
			partHdr := convertMIMEHeader(part.Header)
			if err := w.walk(partHdr, mediaType, i, part); err != nil {
				return err
			}
		}
		return nil
	}

	return w.leaf(hdr, parentMediaType, localPartNum, mediaType, params, r)
}

func convertMIMEHeader(h map[string][]string) email.Header {
	hdr := email.Header{Index: make(map[email.Key][][]byte)}
	for k, vs := range h {
		key := email.CanonicalKey([]byte(k))
		for _, v := range vs {
			hdr.Add(key, []byte(v))
		}
	}
	return hdr
}

func (w *walker) leaf(hdr email.Header, parentMediaType string, localPartNum int, mediaType string, params map[string]string, r io.Reader) error {
	cte := strings.ToLower(string(hdr.Get("Content-Transfer-Encoding")))
	switch cte {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}

	isAttachment := false
	fileName := ""
	if d, dparams, err := mime.ParseMediaType(string(hdr.Get("Content-Disposition"))); err == nil {
		fileName = dparams["filename"]
		if strings.EqualFold(d, "attachment") {
			isAttachment = true
		}
	}
	if fileName == "" && params != nil {
		fileName = params["name"]
	}
	fileName = idcodecSafeFilename(fileName)

	isBody := false
	switch parentMediaType {
	case "":
		if !strings.HasPrefix(mediaType, "multipart/") {
			isBody = true
		}
	case "multipart/alternative":
		isBody = mediaType == "text/plain" || mediaType == "text/html"
	case "multipart/mixed":
		isBody = localPartNum == 0
		if len(hdr.Get("Content-Disposition")) == 0 {
			isAttachment = localPartNum > 0
		}
	case "multipart/related":
		isBody = localPartNum == 0
	}
	if isAttachment {
		isBody = false
	}

	cbuf := w.filer.BufferFile(0)
	defer cbuf.Close()
	if _, err := io.Copy(cbuf, r); err != nil {
		return err
	}
	if _, err := cbuf.Seek(0, 0); err != nil {
		return err
	}
	content, err := io.ReadAll(cbuf)
	if err != nil {
		return err
	}

	switch mediaType {
	case "text/plain":
		return w.handleTextPlain(hdr, params, isBody, fileName, content)
	case "text/html":
		return w.addAttachment(fileName, "attachment.html", "text/html", cte, content)
	case "message/rfc822":
		name := fileName
		if name == "" {
			name = subjectOf(content)
		}
		return w.addAttachment(name, "message.eml", "message/rfc822", cte, content)
	default:
		return w.addAttachment(fileName, "attachment.bin", mediaType, cte, content)
	}
}

func (w *walker) handleTextPlain(hdr email.Header, params map[string]string, isBody bool, fileName string, raw []byte) error {
	if !isBody || fileName != "" {
		return w.addAttachment(fileName, "attachment.txt", "text/plain", string(hdr.Get("Content-Transfer-Encoding")), raw)
	}
	charset := ""
	if params != nil {
		charset = params["charset"]
	}
	decoded := decodeText(raw, charset)
	if w.bodyStarted {
		w.body.WriteString("\n")
	}
	w.body.WriteString(decoded)
	w.bodyStarted = true
	return nil
}

func (w *walker) addAttachment(name, fallback, contentType, cte string, content []byte) error {
	if name == "" {
		name = fallback
	}
	w.attachments = append(w.attachments, Attachment{
		Name:        name,
		ContentType: contentType,
		Encoding:    cte,
		Content:     content,
	})
	return nil
}

// decodeText decodes a text/plain part's bytes using its declared
// charset; if the charset is absent or unrecognised, it tries UTF-8,
// then ISO-8859-15, and finally falls back to ASCII with U+FFFD
// replacement for anything not valid.
func decodeText(raw []byte, charset string) string {
	if charset != "" {
		if enc, err := ianaindex.MIME.Encoding(charset); err == nil && enc != nil {
			if d, err := enc.NewDecoder().Bytes(raw); err == nil {
				return string(d)
			}
		}
	}
	if isValidUTF8(raw) {
		return string(raw)
	}
	if enc, err := ianaindex.MIME.Encoding("iso-8859-15"); err == nil && enc != nil {
		if d, err := enc.NewDecoder().Bytes(raw); err == nil {
			return string(d)
		}
	}
	return asciiReplace(raw)
}

func isValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}

func asciiReplace(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c < 0x80 {
			sb.WriteByte(c)
		} else {
			sb.WriteRune('�')
		}
	}
	return sb.String()
}

func subjectOf(rfc822 []byte) string {
	br := bufio.NewReader(bytes.NewReader(rfc822))
	r := imf.NewReader(br)
	hdr, err := r.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return ""
	}
	return string(hdr.Get("Subject"))
}

func idcodecSafeFilename(name string) string {
	if name == "" {
		return ""
	}
	if isValidUTF8([]byte(name)) {
		return name
	}
	return ""
}
