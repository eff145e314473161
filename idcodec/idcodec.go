// Package idcodec provides the low-level codecs the archive engine needs
// to turn RFC 5322 header fields into stable identifiers: message-id
// hashing, RFC 2047 header decoding, Mailman-flavoured address parsing,
// clamped date parsing, and reply-reference extraction.
package idcodec

import (
	"crypto/sha1"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// HashLen is the length, in characters, of a message-id hash.
const HashLen = 32

// ErrDateUnparseable is returned by ParseDate when the input cannot be
// parsed by any of the accepted date grammars.
var ErrDateUnparseable = errors.New("idcodec: date unparseable")

// maxOffset is the largest UTC offset SQL engines backing the store
// accept; anything beyond it is clamped to UTC, per spec.
const maxOffset = 13 * time.Hour

// HashMessageID returns the 32-character uppercase base32 encoding of the
// SHA-1 digest of id, after stripping surrounding angle brackets.
//
// SHA-1 produces a 20-byte digest, which base32-encodes to exactly 32
// characters with no padding.
func HashMessageID(id string) string {
	id = unquoteAngles(id)
	sum := sha1.Sum([]byte(id))
	return strings.ToUpper(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:]))
}

func unquoteAngles(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return id
}

// wordDecoder decodes RFC 2047 encoded-words, falling back to the
// declared charset's nearest known encoding, and finally leaving the
// bytes untouched if nothing else works.
var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := ianaindex.MIME.Encoding(charset)
		if err != nil || enc == nil {
			switch strings.ToLower(charset) {
			case "gb2312":
				enc = simplifiedchinese.HZGB2312
			default:
				log.Printf("idcodec: no decoder for charset %q, passing through", charset)
				return input, nil
			}
		}
		return enc.NewDecoder().Reader(input), nil
	},
}

// DecodeHeader decodes an RFC 2047 encoded header value into a single
// UTF-8 string. Broken or unknown encodings never produce an error:
// undecodable segments fall back to their raw bytes interpreted as
// ASCII with the replacement character standing in for anything
// invalid. On the normal path, whitespace between two adjacent
// encoded-words is dropped (RFC 2047), so their decoded texts are
// concatenated with no separator; only the word-by-word fallback
// joins segments with a single space.
func DecodeHeader(raw string) string {
	if raw == "" {
		return ""
	}
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err == nil {
		return decoded
	}
	// DecodeHeader can partially fail on a malformed encoded-word in the
	// middle of an otherwise fine header; decode word-by-word instead so
	// one bad segment does not lose the whole header.
	return decodeWordByWord(raw)
}

func decodeWordByWord(raw string) string {
	fields := strings.Fields(raw)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if d, err := wordDecoder.Decode(f); err == nil {
			parts = append(parts, d)
			continue
		}
		parts = append(parts, toUTF8Replace(f))
	}
	return strings.Join(parts, " ")
}

func toUTF8Replace(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x80 {
			b.WriteByte(c)
		} else {
			b.WriteRune('�')
		}
	}
	return b.String()
}

// ParseAddress parses an email address, tolerating the Mailman-mbox
// convention of writing "user at host" instead of "user@host". If the
// display name is empty, the address itself is reused as the name. A
// nil/empty input returns an empty pair, not an error.
func ParseAddress(value string) (name, address string) {
	if strings.TrimSpace(value) == "" {
		return "", ""
	}
	normalized := strings.Replace(value, " at ", "@", 1)
	addr, err := mail.ParseAddress(normalized)
	if err != nil {
		// Fall back to treating the whole value as a bare address,
		// matching email.utils.parseaddr's leniency: it never raises.
		addr = &mail.Address{Address: strings.TrimSpace(normalized)}
	}
	address = strings.ToLower(addr.Address)
	name = addr.Name
	if name == "" {
		name = address
	}
	return name, address
}

// ParseDate parses an RFC 5322 or ISO-8601 date/time value, returning
// the UTC-naive instant and the original UTC offset in minutes. Offsets
// beyond ±13h are folded into UTC (offset reported as 0) since the
// backing relational stores reject larger offsets.
func ParseDate(value string) (t time.Time, offsetMinutes int, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, 0, ErrDateUnparseable
	}

	parsed, err := parseAnyDate(value)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: %v", ErrDateUnparseable, err)
	}

	_, offsetSeconds := parsed.Zone()
	offset := time.Duration(offsetSeconds) * time.Second
	if offset > maxOffset || offset < -maxOffset {
		return parsed.UTC(), 0, nil
	}
	return parsed.UTC(), offsetSeconds / 60, nil
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseAnyDate(value string) (time.Time, error) {
	if t, err := mail.ParseDate(value); err == nil {
		return t, nil
	}
	var firstErr error
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		} else if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// GetRef returns the message-id this message replies to, per RFC 5322
// In-Reply-To/References semantics: In-Reply-To wins when present and
// non-blank; otherwise the *last* id in References is used. The id is
// extracted from inside the first "<...>" group found. A message with
// neither header, or with only blank values, yields ("", false).
func GetRef(inReplyTo, references string) (id string, ok bool) {
	ref := strings.TrimSpace(inReplyTo)
	if ref == "" {
		refs := strings.Fields(references)
		if len(refs) == 0 {
			return "", false
		}
		ref = refs[len(refs)-1]
	}
	start := strings.IndexByte(ref, '<')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(ref[start:], '>')
	if end < 0 {
		return "", false
	}
	id = ref[start+1 : start+end]
	if id == "" {
		return "", false
	}
	return id, true
}

// TruncateMessageID truncates a message-id to the 254-character limit
// the store enforces, so write and read paths agree on the same id for
// any oversize input.
func TruncateMessageID(id string) string {
	const maxMessageIDLen = 254
	if len(id) <= maxMessageIDLen {
		return id
	}
	return id[:maxMessageIDLen]
}

// TruncateSubject truncates a subject to the 2000-character schema
// width.
func TruncateSubject(s string) string {
	const maxSubjectLen = 2000
	if len(s) <= maxSubjectLen {
		return s
	}
	return s[:maxSubjectLen]
}
