package scrub

import (
	"context"
	"strings"
	"testing"

	"crawshaw.io/iox"
)

func newFiler(t *testing.T) *iox.Filer {
	t.Helper()
	filer := iox.NewFiler(0)
	t.Cleanup(func() { filer.Shutdown(context.Background()) })
	return filer
}

func TestScrubPlainText(t *testing.T) {
	filer := newFiler(t)
	raw := strings.Replace(`Subject: hello
From: a@example.com
Content-Type: text/plain; charset="utf-8"

Hello, world.
`, "\n", "\r\n", -1)

	res, err := Scrub(filer, strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Text, "Hello, world.") {
		t.Errorf("text = %q, want it to contain greeting", res.Text)
	}
	if len(res.Attachments) != 0 {
		t.Errorf("got %d attachments, want 0", len(res.Attachments))
	}
}

func TestScrubMultipartAlternativeHTMLBecomesAttachment(t *testing.T) {
	filer := newFiler(t)
	raw := strings.Replace(`Subject: hi
From: a@example.com
Content-Type: multipart/alternative; boundary="B"

--B
Content-Type: text/plain; charset="utf-8"

plain body
--B
Content-Type: text/html; charset="utf-8"

<p>html body</p>
--B--
`, "\n", "\r\n", -1)

	res, err := Scrub(filer, strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Text, "plain body") {
		t.Errorf("text = %q, want plain body", res.Text)
	}
	if len(res.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(res.Attachments))
	}
	if res.Attachments[0].Name != "attachment.html" {
		t.Errorf("attachment name = %q, want attachment.html", res.Attachments[0].Name)
	}
	if res.Attachments[0].ContentType != "text/html" {
		t.Errorf("content type = %q, want text/html", res.Attachments[0].ContentType)
	}
}

func TestScrubAttachmentWithFilename(t *testing.T) {
	filer := newFiler(t)
	raw := strings.Replace(`Subject: hi
From: a@example.com
Content-Type: multipart/mixed; boundary="B"

--B
Content-Type: text/plain; charset="utf-8"

the body
--B
Content-Type: application/pdf
Content-Disposition: attachment; filename="report.pdf"
Content-Transfer-Encoding: base64

aGVsbG8=
--B--
`, "\n", "\r\n", -1)

	res, err := Scrub(filer, strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Text, "the body") {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(res.Attachments))
	}
	att := res.Attachments[0]
	if att.Name != "report.pdf" {
		t.Errorf("name = %q, want report.pdf", att.Name)
	}
	if string(att.Content) != "hello" {
		t.Errorf("content = %q, want hello (base64-decoded)", att.Content)
	}
	if att.Counter != 0 {
		t.Errorf("counter = %d, want 0", att.Counter)
	}
}

func TestExtractPipermailBinaryStub(t *testing.T) {
	text := "See the attached file.\n\n" + stubMarker + "\n" +
		"A non-text attachment was scrubbed...\n" +
		"Name: photo.jpg\n" +
		"Type: image/jpeg\n" +
		"Size: 12345 bytes\n" +
		"Desc: not available\n" +
		"Url : http://example.com/photo.jpg\n"

	cleaned, atts := extractPipermailStubs(text)
	if strings.Contains(cleaned, stubMarker) {
		t.Errorf("stub marker not removed from cleaned text: %q", cleaned)
	}
	if len(atts) != 1 {
		t.Fatalf("got %d stub attachments, want 1", len(atts))
	}
	if atts[0].Name != "photo.jpg" {
		t.Errorf("name = %q, want photo.jpg", atts[0].Name)
	}
	if atts[0].ContentType != "image/jpeg" {
		t.Errorf("content type = %q, want image/jpeg", atts[0].ContentType)
	}
}

func TestExtractPipermailURLOnlyStub(t *testing.T) {
	text := "body\n" + stubMarker + "\n" + "Url : http://example.com/x.bin\n"
	cleaned, atts := extractPipermailStubs(text)
	if strings.Contains(cleaned, stubMarker) {
		t.Errorf("marker not stripped")
	}
	if len(atts) != 1 {
		t.Fatalf("got %d, want 1", len(atts))
	}
}
