package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReaderFrames(t *testing.T) {
	input := strings.Join([]string{
		": keep-alive",
		"",
		"event: ledger",
		"id: 1",
		`data: {"id":"a"}`,
		"",
		"data: line one",
		"data: line two",
		"",
		"event: heartbeat",
		"data: ping",
		"",
		"id: 2",
		"",
		"data:no-space\r",
		"\r",
		"data: trailing partial",
	}, "\n")
	reader := NewReader(strings.NewReader(input))

	want := []Frame{
		{ID: "1", Event: "ledger", Data: []byte(`{"id":"a"}`)},
		{ID: "1", Data: []byte("line one\nline two")},
		{ID: "1", Event: "heartbeat", Data: []byte("ping")},
		{ID: "2", Data: []byte("no-space")},
	}
	for i, expected := range want {
		frame, err := reader.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if frame.ID != expected.ID || frame.Event != expected.Event || string(frame.Data) != string(expected.Data) {
			t.Fatalf("frame %d: got %+v (%q), want %+v (%q)", i, frame, frame.Data, expected, expected.Data)
		}
	}
	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after partial frame, got %v", err)
	}
}

func TestReaderEmptyStream(t *testing.T) {
	reader := NewReader(strings.NewReader(""))
	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReaderRejectsOverlongLine(t *testing.T) {
	input := "data: ok\n\ndata: " + strings.Repeat("x", MaxLineBytes) + "\n\n"
	reader := NewReader(strings.NewReader(input))

	frame, err := reader.Next()
	if err != nil || string(frame.Data) != "ok" {
		t.Fatalf("first frame: %q, %v", frame.Data, err)
	}
	if _, err := reader.Next(); !errors.Is(err, ErrFrameTooLong) {
		t.Fatalf("expected ErrFrameTooLong, got %v", err)
	}
}
