package email

import "testing"

func TestHeaderAddGet(t *testing.T) {
	h := new(Header)
	h.Add("Subject", []byte("hello"))
	h.Add("Subject", []byte("second value is ignored by Get"))
	h.Add("From", []byte("a@example.org"))

	if got := string(h.Get("Subject")); got != "hello" {
		t.Errorf("Get(Subject) = %q, want %q", got, "hello")
	}
	if got := string(h.Get("From")); got != "a@example.org" {
		t.Errorf("Get(From) = %q, want %q", got, "a@example.org")
	}
	if got := h.Get("Missing"); got != nil {
		t.Errorf("Get(Missing) = %q, want nil", got)
	}
}

var keyTests = []struct {
	in, out string
}{
	{"content-id", "Content-ID"},
	{"Content-Id", "Content-ID"},
	{"never-heard-of-it", "Never-Heard-Of-It"},
	{"busted--key", "Busted--Key"},
	{"odd-_key_", "Odd-_key_"},
}

func TestCanonicalKey(t *testing.T) {
	for _, test := range keyTests {
		t.Run(test.in, func(t *testing.T) {
			if got := CanonicalKey([]byte(test.in)); got != Key(test.out) {
				t.Errorf("CanonicalKey(%q)=%q, want %q", test.in, got, test.out)
			}
		})
	}
}

func BenchmarkCanonicalKey(b *testing.B) {
	hdr := []byte("Content-Id")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		CanonicalKey(hdr)
	}
}
