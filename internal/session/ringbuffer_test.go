package session

import (
	"bytes"
	"testing"
)

func TestRingBufferNoWrap(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Write([]byte("hello"))
	if got := rb.Snapshot(); !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q", got)
	}
}

func TestRingBufferWrapKeepsMostRecent(t *testing.T) {
	rb := NewRingBuffer(8)
	rb.Write([]byte("abcdefgh"))
	rb.Write([]byte("ij")) // wraps, overwriting "ab"
	got := rb.Snapshot()
	if !bytes.Equal(got, []byte("cdefghij")) {
		t.Fatalf("got %q", got)
	}
}

func TestIncompleteUTF8Tail(t *testing.T) {
	euro := []byte("\xe2\x82\xac") // "€", 3 bytes
	cases := []struct {
		name string
		data []byte
		want int
	}{
		{"ascii", []byte("abc"), 0},
		{"complete", euro, 0},
		{"missing one", euro[:2], 2},
		{"missing two", euro[:1], 1},
		{"empty", nil, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := incompleteUTF8Tail(c.data); got != c.want {
				t.Fatalf("want %d, got %d", c.want, got)
			}
		})
	}
}

func TestDropLeadingContinuationBytes(t *testing.T) {
	euro := []byte("\xe2\x82\xac")
	orphaned := append(euro[1:], []byte("rest")...) // starts with 2 continuation bytes
	got := dropLeadingContinuationBytes(orphaned)
	if !bytes.Equal(got, []byte("rest")) {
		t.Fatalf("got %q", got)
	}
}
