// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"errors"
	"testing"
)

func TestReassemblerSplitMessage(t *testing.T) {
	message := `{"jsonrpc":"2.0","method":"updateView","params":{"view":{"file_id":1,"line":4,"character":2}}}`
	for split := 1; split < len(message); split++ {
		reassembler := NewReassembler(0)
		values, err := reassembler.Feed([]byte(message[:split]))
		if err != nil {
			t.Fatalf("split %d: first Feed: %v", split, err)
		}
		if len(values) != 0 {
			t.Fatalf("split %d: emitted %q before the message was complete", split, values)
		}
		values, err = reassembler.Feed([]byte(message[split:]))
		if err != nil {
			t.Fatalf("split %d: second Feed: %v", split, err)
		}
		if len(values) != 1 || string(values[0]) != message {
			t.Fatalf("split %d: got %q, want the original message", split, values)
		}
		if reassembler.Buffered() != 0 {
			t.Fatalf("split %d: %d bytes retained after completion", split, reassembler.Buffered())
		}
	}
}

func TestReassemblerSequenceInOneChunk(t *testing.T) {
	reassembler := NewReassembler(0)
	values, err := reassembler.Feed([]byte("{\"a\":1}\n[{\"b\":2}] {\"c\":3}\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{`{"a":1}`, `[{"b":2}]`, `{"c":3}`}
	if len(values) != len(want) {
		t.Fatalf("got %d values, want %d", len(values), len(want))
	}
	for i := range want {
		if string(values[i]) != want[i] {
			t.Errorf("value %d = %s, want %s", i, values[i], want[i])
		}
	}
}

func TestReassemblerRetainsUntilBoundary(t *testing.T) {
	reassembler := NewReassembler(0)
	// A chunk that completes one value and starts another releases
	// nothing.
	for _, chunk := range []string{`{"a":`, `1}{"b"`} {
		values, err := reassembler.Feed([]byte(chunk))
		if err != nil || len(values) != 0 {
			t.Fatalf("Feed(%q) = %q, %v; want nothing retained", chunk, values, err)
		}
	}
	values, err := reassembler.Feed([]byte(`:2}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 2 || string(values[0]) != `{"a":1}` || string(values[1]) != `{"b":2}` {
		t.Fatalf("got %q, want both values", values)
	}
}

func TestReassemblerWhitespaceOnly(t *testing.T) {
	reassembler := NewReassembler(0)
	values, err := reassembler.Feed([]byte(" \n\t"))
	if err != nil || len(values) != 0 || reassembler.Buffered() != 0 {
		t.Fatalf("whitespace: values %q err %v buffered %d", values, err, reassembler.Buffered())
	}
}

func TestReassemblerOverflow(t *testing.T) {
	reassembler := NewReassembler(8)
	if _, err := reassembler.Feed([]byte(`{"key":`)); err != nil {
		t.Fatalf("under the limit: %v", err)
	}
	_, err := reassembler.Feed([]byte(`"value`))
	if !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("err = %v, want ErrBufferOverflow", err)
	}
	if reassembler.Buffered() != 0 {
		t.Errorf("Buffered() = %d after overflow, want 0", reassembler.Buffered())
	}
	values, err := reassembler.Feed([]byte(`{}`))
	if err != nil || len(values) != 1 {
		t.Errorf("after overflow: %q, %v", values, err)
	}
}
