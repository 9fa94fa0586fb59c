package segment

import (
	"bufio"
	"strings"
	"testing"
)

func TestReadUpToBytes(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("hello world"))
	s := New()

	done, err := s.ReadUpToBytes(in, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatal("expected completion")
	}
	if s.BytesCommitted() != 5 {
		t.Fatalf("expected 5 bytes committed, got %d", s.BytesCommitted())
	}
	if string(s.Export()) != "hello" {
		t.Fatalf("unexpected exported data: %q", s.Export())
	}

	// Segment is complete; further reads must fail until Reset.
	if _, err := s.ReadUpToBytes(in, 5); err == nil {
		t.Fatal("expected error reading a completed segment")
	}

	s.Reset()
	done, err = s.ReadUpToBytes(in, 6)
	if err != nil || !done {
		t.Fatalf("expected completion after reset, got done=%v err=%v", done, err)
	}
	if string(s.Export()) != " world" {
		t.Fatalf("unexpected exported data: %q", s.Export())
	}
}

func TestReadUntilSingleByte(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	s := New()
	done, err := s.ReadUntil(in, "\n")
	if err != nil || !done {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if string(s.Export()) != "GET / HTTP/1.1\r\n" {
		t.Fatalf("unexpected line: %q", s.Export())
	}
}

func TestReadUntilMultiByte(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("GET / HTTP/1.1\r\nHost: x\r\n\r\nbody"))
	s := New()
	done, err := s.ReadUntil(in, "\r\n\r\n")
	if err != nil || !done {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if string(s.Export()) != "GET / HTTP/1.1\r\nHost: x\r\n\r\n" {
		t.Fatalf("unexpected data: %q", s.Export())
	}
}

func TestReadAll(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("all the bytes"))
	s := New()
	if err := s.ReadAll(in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Complete() {
		t.Fatal("expected complete")
	}
	if string(s.Export()) != "all the bytes" {
		t.Fatalf("unexpected data: %q", s.Export())
	}
}
