// internal/protocol/framing_test.go
package protocol

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadFrameLines(t *testing.T) {
	fr := newFrameReader(strings.NewReader("1.000000e+00\r\nDC\n\nRUN\n"))

	want := []string{"1.000000e+00", "DC", "", "RUN"}
	for i, w := range want {
		got, err := fr.readFrame(1024)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if string(got) != w {
			t.Errorf("frame %d = %q, want %q", i, got, w)
		}
	}

	if _, err := fr.readFrame(1024); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after last frame, got %v", err)
	}
}

func TestReadFrameBlock(t *testing.T) {
	// block payload may contain newlines
	fr := newFrameReader(strings.NewReader("#210ab\ncd\nefgh\nNEXT\n"))

	block, err := fr.readFrame(1024)
	if err != nil {
		t.Fatal(err)
	}
	if string(block) != "#210ab\ncd\nefgh" {
		t.Errorf("block = %q", block)
	}

	line, err := fr.readFrame(1024)
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != "NEXT" {
		t.Errorf("line after block = %q", line)
	}
}

func TestReadFrameBlockTerminatorArrivesLater(t *testing.T) {
	r := io.MultiReader(strings.NewReader("#15hello"), strings.NewReader("\nOK\n"))
	fr := newFrameReader(r)

	block, err := fr.readFrame(1024)
	if err != nil {
		t.Fatal(err)
	}
	if string(block) != "#15hello" {
		t.Errorf("block = %q", block)
	}

	line, err := fr.readFrame(1024)
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != "OK" {
		t.Errorf("line = %q, want OK", line)
	}
}

func TestReadFrameIndefiniteBlock(t *testing.T) {
	fr := newFrameReader(strings.NewReader("#0abc\n"))

	got, err := fr.readFrame(1024)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "#0abc" {
		t.Errorf("got %q", got)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	fr := newFrameReader(strings.NewReader("#9000001000" + strings.Repeat("x", 1000)))
	if _, err := fr.readFrame(100); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}

	fr = newFrameReader(strings.NewReader(strings.Repeat("y", 200) + "\n"))
	if _, err := fr.readFrame(100); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge for long line, got %v", err)
	}
}

func TestReadFrameBadHeader(t *testing.T) {
	for _, in := range []string{"#x12", "#2ab0123"} {
		fr := newFrameReader(strings.NewReader(in))
		if _, err := fr.readFrame(1024); err == nil {
			t.Errorf("%q: expected error", in)
		}
	}
}
