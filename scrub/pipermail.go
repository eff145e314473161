package scrub

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// stubMarker opens every Pipermail "next part" stub, regardless of
// which of the five shapes follows it.
const stubMarker = "-------------- next part --------------"

// Five historic Pipermail export shapes, all beginning with stubMarker.
// Each captures Name/Type/Size/Desc/Url where present; fields absent
// from a given shape are simply not captured.
var (
	stubBinaryScrubbed = regexp.MustCompile(
		`(?is)` + regexp.QuoteMeta(stubMarker) + `\s*\n` +
			`A non-text attachment was scrubbed\.\.\.\s*\n` +
			`Name: (?P<name>.*)\n` +
			`Type: (?P<type>.*)\n` +
			`Size: (?P<size>\d+) bytes\n` +
			`Desc: (?P<desc>.*)\n` +
			`[Uu]rl\s*: (?P<url>\S*)\s*\n?`)

	stubEmbeddedMessage = regexp.MustCompile(
		`(?is)` + regexp.QuoteMeta(stubMarker) + `\s*\n` +
			`An embedded message was scrubbed\.\.\.\s*\n` +
			`Subject: (?P<subject>.*)\n` +
			`From: (?P<from>.*)\n` +
			`Date: (?P<date>.*)\n` +
			`Size: (?P<size>\d+)\s*\n` +
			`[Uu]rl\s*: (?P<url>\S*)\s*\n?`)

	stubHTMLScrubbed = regexp.MustCompile(
		`(?is)` + regexp.QuoteMeta(stubMarker) + `\s*\n` +
			`An HTML attachment was scrubbed\.\.\.\s*\n` +
			`URL: (?P<url>\S*)\s*\n` +
			`(?:Size: (?P<size>\d+) bytes\s*\n)?` +
			`(?:[Uu]rl\s*: (?P<url2>\S*)\s*\n)?`)

	stubCharsetUnspecified = regexp.MustCompile(
		`(?is)` + regexp.QuoteMeta(stubMarker) + `\s*\n` +
			`A non-text attachment was scrubbed\.\.\.\s*\n` +
			`Name: (?P<name>.*)\n` +
			`Type: text/plain; charset="?(?P<charset>[^"\n]*)"?\n` +
			`Size: (?P<size>\d+) bytes\n` +
			`Desc: (?P<desc>.*)\n` +
			`[Uu]rl\s*: (?P<url>\S*)\s*\n?`)

	stubURLOnly = regexp.MustCompile(
		`(?is)` + regexp.QuoteMeta(stubMarker) + `\s*\n` +
			`[Uu]rl\s*: (?P<url>\S+)\s*\n?`)

	stubShapes = []*regexp.Regexp{
		stubBinaryScrubbed,
		stubEmbeddedMessage,
		stubHTMLScrubbed,
		stubCharsetUnspecified,
		stubURLOnly,
	}
)

// StubFetcher fetches the content behind a Pipermail stub's recorded
// URL. When nil, stub attachments are emitted with empty content.
var StubFetcher func(url string) ([]byte, error)

// DefaultStubFetcher fetches a stub's URL with a bounded timeout. It is
// not installed by default; callers that want stub content populated
// (rather than left empty, per spec) assign scrub.StubFetcher =
// scrub.DefaultStubFetcher during ingest wiring.
func DefaultStubFetcher(url string) ([]byte, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("scrub: fetching stub url %q: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrub: stub url %q: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// extractPipermailStubs strips every recognised stub from text and
// returns the cleaned body plus one synthetic Attachment per stub,
// in order of appearance.
func extractPipermailStubs(text string) (cleaned string, attachments []Attachment) {
	if !strings.Contains(text, stubMarker) {
		return text, nil
	}

	for {
		idx := strings.Index(text, stubMarker)
		if idx < 0 {
			break
		}
		rest := text[idx:]
		match, shape := matchStub(rest)
		if match == nil {
			// Marker present but none of the five shapes parse what
			// follows it; leave it in the body rather than lose data.
			break
		}
		attachments = append(attachments, stubToAttachment(shape, match))
		text = text[:idx] + rest[len(match[0]):]
	}
	return text, attachments
}

func matchStub(s string) ([]string, *regexp.Regexp) {
	for _, re := range stubShapes {
		loc := re.FindStringIndex(s)
		if loc == nil || loc[0] != 0 {
			continue
		}
		return re.FindStringSubmatch(s), re
	}
	return nil, nil
}

func stubToAttachment(re *regexp.Regexp, m []string) Attachment {
	names := re.SubexpNames()
	get := func(key string) string {
		for i, n := range names {
			if n == key && i < len(m) {
				return strings.TrimSpace(m[i])
			}
		}
		return ""
	}

	name := get("name")
	contentType := get("type")
	url := get("url")
	if url == "" {
		url = get("url2")
	}

	switch re {
	case stubEmbeddedMessage:
		if name == "" {
			name = get("subject")
		}
		if contentType == "" {
			contentType = "message/rfc822"
		}
	case stubHTMLScrubbed:
		if name == "" {
			name = "attachment.html"
		}
		contentType = "text/html"
	case stubCharsetUnspecified:
		if contentType == "" {
			contentType = "text/plain"
		}
	case stubURLOnly:
		if name == "" {
			name = "attachment.bin"
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	default:
		if name == "" {
			name = "attachment.bin"
		}
	}

	var content []byte
	if url != "" && StubFetcher != nil {
		if b, err := StubFetcher(url); err == nil {
			content = b
		}
	}

	return Attachment{
		Name:        name,
		ContentType: contentType,
		Content:     content,
	}
}
