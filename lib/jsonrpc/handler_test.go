// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/bureau-foundation/pairview/lib/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T, methods Methods) (*Handler, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(epoch)
	return NewHandler(HandlerConfig{Methods: methods, Clock: fake, Logger: discardLogger()}), fake
}

// wireMessage is a decoded outbound message, for assertions.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// decodeFrames flattens frames, batched or not, into messages.
func decodeFrames(t *testing.T, frames []string) []wireMessage {
	t.Helper()
	var messages []wireMessage
	for _, frame := range frames {
		if frame[0] == '[' {
			var batch []wireMessage
			if err := json.Unmarshal([]byte(frame), &batch); err != nil {
				t.Fatalf("decoding batch %s: %v", frame, err)
			}
			messages = append(messages, batch...)
			continue
		}
		var message wireMessage
		if err := json.Unmarshal([]byte(frame), &message); err != nil {
			t.Fatalf("decoding frame %s: %v", frame, err)
		}
		messages = append(messages, message)
	}
	return messages
}

func settled(call *Call) bool {
	select {
	case <-call.Done():
		return true
	default:
		return false
	}
}

func TestRequestResolvesWithResult(t *testing.T) {
	handler, _ := newTestHandler(t, nil)
	call, err := handler.SendRequest("getText", map[string]string{"filename": "main.go"}, time.Second)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if call.ID != 1 {
		t.Errorf("first id = %d, want 1", call.ID)
	}

	messages := decodeFrames(t, handler.DrainOutgoing())
	if len(messages) != 1 || messages[0].Method != "getText" || string(messages[0].ID) != "1" {
		t.Fatalf("outbound = %+v, want one getText request with id 1", messages)
	}
	if string(messages[0].Params) != `{"filename":"main.go"}` {
		t.Errorf("params = %s", messages[0].Params)
	}

	handler.ReceiveMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":{"lines":["a","b"]}}`))
	handler.DrainIncoming(context.Background())

	if !settled(call) {
		t.Fatal("call not settled after its response")
	}
	result, err := call.Result()
	if err != nil {
		t.Fatalf("Result error: %v", err)
	}
	if string(result) != `{"lines":["a","b"]}` {
		t.Errorf("result = %s", result)
	}
	if n := handler.Outstanding(); n != 0 {
		t.Errorf("Outstanding() = %d, want 0", n)
	}

	// A duplicate response is dropped and changes nothing.
	handler.ReceiveMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":"again"}`))
	handler.DrainIncoming(context.Background())
	result, _ = call.Result()
	if string(result) != `{"lines":["a","b"]}` {
		t.Errorf("result after duplicate = %s", result)
	}
	if frames := handler.DrainOutgoing(); len(frames) != 0 {
		t.Errorf("duplicate response produced output %v", frames)
	}
}

func TestRequestIDsIncrease(t *testing.T) {
	handler, _ := newTestHandler(t, nil)
	var last int64
	for i := range 5 {
		call, err := handler.SendRequest("m", nil, 0)
		if err != nil {
			t.Fatal(err)
		}
		if call.ID <= last {
			t.Fatalf("request %d: id %d not greater than %d", i, call.ID, last)
		}
		last = call.ID
	}
}

func TestRequestTimeoutRejectsOnce(t *testing.T) {
	handler, fake := newTestHandler(t, nil)
	call, err := handler.SendRequest("getText", nil, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	handler.DrainOutgoing()

	fake.Advance(4 * time.Second)
	if settled(call) {
		t.Fatal("call settled before its timeout")
	}
	fake.Advance(time.Second)
	if !settled(call) {
		t.Fatal("call not settled at its timeout")
	}
	_, err = call.Result()
	if !IsTimeout(err) {
		t.Fatalf("error = %v, want timeout", err)
	}

	handler.ReceiveMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":"late"}`))
	handler.DrainIncoming(context.Background())
	result, err := call.Result()
	if result != nil || !IsTimeout(err) {
		t.Errorf("late response changed outcome to (%s, %v)", result, err)
	}
}

func TestResponseStopsTimer(t *testing.T) {
	handler, fake := newTestHandler(t, nil)
	call, _ := handler.SendRequest("m", nil, time.Second)
	if n := fake.PendingCount(); n != 1 {
		t.Fatalf("PendingCount() = %d, want 1", n)
	}
	handler.ReceiveMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	handler.DrainIncoming(context.Background())
	if n := fake.PendingCount(); n != 0 {
		t.Errorf("PendingCount() after response = %d, want 0", n)
	}
	if _, err := call.Result(); err != nil {
		t.Errorf("null result error: %v", err)
	}
}

func TestErrorResponseKeepsCode(t *testing.T) {
	handler, _ := newTestHandler(t, nil)
	call, _ := handler.SendRequest("auth", nil, time.Second)
	handler.ReceiveMessage([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":403,"message":"bad token"}}`))
	handler.DrainIncoming(context.Background())

	_, err := call.Result()
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if rpcErr.Code != 403 || rpcErr.Message != "bad token" {
		t.Errorf("error = %+v, want code 403 message %q", rpcErr, "bad token")
	}
}

func TestMalformedResponseRejectsPendingCall(t *testing.T) {
	handler, _ := newTestHandler(t, nil)
	call, _ := handler.SendRequest("m", nil, time.Second)
	handler.DrainOutgoing()

	handler.ReceiveMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":1,"error":{"code":1,"message":"x"}}`))
	messages := decodeFrames(t, handler.DrainOutgoing())
	if len(messages) != 1 || messages[0].Error == nil || messages[0].Error.Code != CodeInvalidRequest {
		t.Fatalf("outbound = %+v, want one CodeInvalidRequest error", messages)
	}
	if string(messages[0].ID) != "null" {
		t.Errorf("error response id = %s, want null", messages[0].ID)
	}
	if settled(call) {
		t.Fatal("call settled before DrainIncoming")
	}

	handler.DrainIncoming(context.Background())
	if !settled(call) {
		t.Fatal("malformed response did not settle the call")
	}
	if _, err := call.Result(); ErrorCode(err) != CodeInvalidResponse {
		t.Errorf("code = %d, want %d", ErrorCode(err), CodeInvalidResponse)
	}
}

func TestMalformedResponseWaitsForDrain(t *testing.T) {
	handler, _ := newTestHandler(t, nil)
	first, _ := handler.SendRequest("m", nil, time.Second)
	second, _ := handler.SendRequest("m", nil, time.Second)

	handler.ReceiveMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":"ok"}`))
	handler.ReceiveMessage([]byte(`{"jsonrpc":"1.0","id":2,"result":"ok"}`))
	if settled(first) || settled(second) {
		t.Fatalf("settled before DrainIncoming: first=%v second=%v", settled(first), settled(second))
	}

	handler.DrainIncoming(context.Background())
	if result, err := first.Result(); err != nil || string(result) != `"ok"` {
		t.Errorf("first = %s, %v", result, err)
	}
	if _, err := second.Result(); ErrorCode(err) != CodeInvalidResponse {
		t.Errorf("second code = %d, want %d", ErrorCode(err), CodeInvalidResponse)
	}
}

func TestSettleCallbackRunsBeforeLaterMessages(t *testing.T) {
	var events []string
	handler, fake := newTestHandler(t, Methods{
		"edit": func(context.Context, json.RawMessage) (any, error) {
			events = append(events, "edit")
			return nil, nil
		},
	})
	call, err := handler.SendRequestFunc("fetch", nil, time.Second, func(result json.RawMessage, err error) {
		events = append(events, "settled "+string(result))
	})
	if err != nil {
		t.Fatalf("SendRequestFunc: %v", err)
	}
	handler.ReceiveMessage([]byte(`[{"jsonrpc":"2.0","id":1,"result":"text"},{"jsonrpc":"2.0","method":"edit"}]`))
	handler.DrainIncoming(context.Background())

	if want := []string{`settled "text"`, "edit"}; !reflect.DeepEqual(events, want) {
		t.Errorf("events = %q, want %q", events, want)
	}
	if !settled(call) {
		t.Error("call not settled")
	}

	timedOut := make(chan error, 1)
	if _, err := handler.SendRequestFunc("slow", nil, time.Second, func(_ json.RawMessage, err error) {
		timedOut <- err
	}); err != nil {
		t.Fatalf("SendRequestFunc: %v", err)
	}
	fake.WaitForTimers(1)
	fake.Advance(time.Second)
	select {
	case err := <-timedOut:
		if ErrorCode(err) != CodeTimeout {
			t.Errorf("callback error code = %d, want %d", ErrorCode(err), CodeTimeout)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback did not run on timeout")
	}
}

func TestContextCancelAbandonsWaitOnly(t *testing.T) {
	handler, _ := newTestHandler(t, nil)
	call, _ := handler.SendRequest("m", nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := call.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait error = %v, want context.Canceled", err)
	}
	if n := handler.Outstanding(); n != 1 {
		t.Errorf("Outstanding() = %d, want 1", n)
	}
}

func TestDispatch(t *testing.T) {
	coded := &Error{Code: 42, Message: "coded failure"}
	handler, _ := newTestHandler(t, Methods{
		"echo": func(_ context.Context, params json.RawMessage) (any, error) {
			return params, nil
		},
		"fail": func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("plain failure")
		},
		"coded": func(context.Context, json.RawMessage) (any, error) {
			return nil, coded
		},
		"explode": func(context.Context, json.RawMessage) (any, error) {
			panic("boom")
		},
	})

	tests := []struct {
		name     string
		input    string
		wantID   string
		wantCode int
		result   string
	}{
		{"result", `{"jsonrpc":"2.0","id":7,"method":"echo","params":{"a":1}}`, "7", 0, `{"a":1}`},
		{"string id", `{"jsonrpc":"2.0","id":"x","method":"echo","params":[1]}`, `"x"`, 0, `[1]`},
		{"handler error", `{"jsonrpc":"2.0","id":8,"method":"fail"}`, "8", CodeGeneral, ""},
		{"handler code kept", `{"jsonrpc":"2.0","id":9,"method":"coded"}`, "9", 42, ""},
		{"handler panic", `{"jsonrpc":"2.0","id":10,"method":"explode"}`, "10", CodeGeneral, ""},
		{"unknown method", `{"jsonrpc":"2.0","id":11,"method":"nope"}`, "11", CodeMethodNotFound, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			handler.ReceiveMessage([]byte(test.input))
			handler.DrainIncoming(context.Background())
			messages := decodeFrames(t, handler.DrainOutgoing())
			if len(messages) != 1 {
				t.Fatalf("got %d responses, want 1", len(messages))
			}
			response := messages[0]
			if string(response.ID) != test.wantID {
				t.Errorf("id = %s, want %s", response.ID, test.wantID)
			}
			if test.wantCode == 0 {
				if response.Error != nil {
					t.Fatalf("unexpected error %+v", response.Error)
				}
				if string(response.Result) != test.result {
					t.Errorf("result = %s, want %s", response.Result, test.result)
				}
				return
			}
			if response.Error == nil || response.Error.Code != test.wantCode {
				t.Errorf("error = %+v, want code %d", response.Error, test.wantCode)
			}
		})
	}
}

func TestNotificationGetsNoResponse(t *testing.T) {
	calls := 0
	handler, _ := newTestHandler(t, Methods{
		"updateView": func(context.Context, json.RawMessage) (any, error) {
			calls++
			return nil, errors.New("ignored")
		},
	})
	handler.ReceiveMessage([]byte(`{"jsonrpc":"2.0","method":"updateView","params":{}}`))
	handler.ReceiveMessage([]byte(`{"jsonrpc":"2.0","method":"missing"}`))
	handler.DrainIncoming(context.Background())
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	if frames := handler.DrainOutgoing(); len(frames) != 0 {
		t.Errorf("notifications produced %v", frames)
	}
}

func TestProtocolErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCode int
		wantID   string
	}{
		{"not json", `{"jsonrpc":`, CodeParseError, "null"},
		{"scalar", `42`, CodeInvalidRequest, "null"},
		{"empty batch", `[]`, CodeInvalidRequest, "null"},
		{"wrong version", `{"jsonrpc":"1.0","id":3,"method":"m"}`, CodeInvalidRequest, "3"},
		{"null request id", `{"jsonrpc":"2.0","id":null,"method":"m"}`, CodeInvalidRequest, "null"},
		{"method not string", `{"jsonrpc":"2.0","id":4,"method":5}`, CodeInvalidRequest, "4"},
		{"scalar params", `{"jsonrpc":"2.0","id":5,"method":"m","params":"x"}`, CodeInvalidRequest, "5"},
		{"response without id", `{"jsonrpc":"2.0","result":1}`, CodeInvalidRequest, "null"},
		{"no method or result", `{"jsonrpc":"2.0","id":6}`, CodeInvalidRequest, "6"},
		{"batch element not object", `[1]`, CodeInvalidRequest, "null"},
		{"response wrong version", `{"jsonrpc":"1.0","id":9,"result":1}`, CodeInvalidRequest, "null"},
		{"response result and error", `{"jsonrpc":"2.0","id":9,"result":1,"error":{"code":1,"message":"x"}}`, CodeInvalidRequest, "null"},
		{"response bad error", `{"jsonrpc":"2.0","id":9,"error":"boom"}`, CodeInvalidRequest, "null"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			handler, _ := newTestHandler(t, Methods{
				"m": func(context.Context, json.RawMessage) (any, error) { return "ok", nil },
			})
			handler.ReceiveMessage([]byte(test.input))
			handler.DrainIncoming(context.Background())
			messages := decodeFrames(t, handler.DrainOutgoing())
			if len(messages) != 1 {
				t.Fatalf("got %d messages, want 1 error response", len(messages))
			}
			if messages[0].Error == nil || messages[0].Error.Code != test.wantCode {
				t.Errorf("error = %+v, want code %d", messages[0].Error, test.wantCode)
			}
			if string(messages[0].ID) != test.wantID {
				t.Errorf("id = %s, want %s", messages[0].ID, test.wantID)
			}
		})
	}
}

func TestNullIDErrorResponseIsNotAnswered(t *testing.T) {
	handler, _ := newTestHandler(t, nil)
	handler.ReceiveMessage([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`))
	handler.DrainIncoming(context.Background())
	if frames := handler.DrainOutgoing(); len(frames) != 0 {
		t.Errorf("answered a peer error report: %v", frames)
	}
}

func TestResponsesDrainBeforeRequests(t *testing.T) {
	handler, _ := newTestHandler(t, Methods{
		"ping": func(context.Context, json.RawMessage) (any, error) { return "pong", nil },
	})
	if _, err := handler.SendRequest("first", nil, time.Second); err != nil {
		t.Fatal(err)
	}
	handler.ReceiveMessage([]byte(`{"jsonrpc":"2.0","id":"p","method":"ping"}`))
	handler.DrainIncoming(context.Background())
	if err := handler.SendNotification("second", nil); err != nil {
		t.Fatal(err)
	}

	frames := handler.DrainOutgoing()
	if len(frames) != 2 {
		t.Fatalf("batched frames = %d, want 2: %v", len(frames), frames)
	}
	messages := decodeFrames(t, frames)
	if string(messages[0].Result) != `"pong"` {
		t.Errorf("first message = %+v, want the ping response", messages[0])
	}
	if messages[1].Method != "first" || messages[2].Method != "second" {
		t.Errorf("requests out of order: %q, %q", messages[1].Method, messages[2].Method)
	}
}

func TestBatchedAndUnbatchedFramingAgree(t *testing.T) {
	run := func(unbatched bool) ([]string, []wireMessage) {
		fake := clock.Fake(epoch)
		handler := NewHandler(HandlerConfig{
			Unbatched: unbatched,
			Clock:     fake,
			Logger:    discardLogger(),
			Methods: Methods{
				"add": func(_ context.Context, params json.RawMessage) (any, error) {
					var pair [2]int
					if err := json.Unmarshal(params, &pair); err != nil {
						return nil, err
					}
					return pair[0] + pair[1], nil
				},
			},
		})
		handler.ReceiveMessage([]byte(`[{"jsonrpc":"2.0","id":1,"method":"add","params":[1,2]},{"jsonrpc":"2.0","id":2,"method":"add","params":[3,4]}]`))
		handler.DrainIncoming(context.Background())
		handler.SendRequest("getText", map[string]string{"filename": "a"}, time.Second)
		handler.SendNotification("hello", nil)
		frames := handler.DrainOutgoing()
		return frames, decodeFrames(t, frames)
	}

	batchedFrames, batched := run(false)
	unbatchedFrames, unbatched := run(true)
	if len(batchedFrames) != 2 {
		t.Errorf("batched frame count = %d, want 2", len(batchedFrames))
	}
	if len(unbatchedFrames) != 4 {
		t.Errorf("unbatched frame count = %d, want 4", len(unbatchedFrames))
	}
	if !reflect.DeepEqual(batched, unbatched) {
		t.Errorf("logical messages differ:\nbatched   %+v\nunbatched %+v", batched, unbatched)
	}
}

func TestBatchReplyToBatchRequest(t *testing.T) {
	handler, _ := newTestHandler(t, Methods{
		"m": func(context.Context, json.RawMessage) (any, error) { return true, nil },
	})
	handler.ReceiveMessage([]byte(`[{"jsonrpc":"2.0","id":1,"method":"m"},{"jsonrpc":"2.0","method":"m"},{"jsonrpc":"2.0","id":2,"method":"m"}]`))
	handler.DrainIncoming(context.Background())
	messages := decodeFrames(t, handler.DrainOutgoing())
	if len(messages) != 2 || string(messages[0].ID) != "1" || string(messages[1].ID) != "2" {
		t.Errorf("responses = %+v, want ids 1 and 2", messages)
	}
}

func TestRegisterMethodSealedAfterDrain(t *testing.T) {
	handler, _ := newTestHandler(t, nil)
	noop := func(context.Context, json.RawMessage) (any, error) { return nil, nil }
	if err := handler.RegisterMethod("early", noop); err != nil {
		t.Fatalf("RegisterMethod before drain: %v", err)
	}
	handler.DrainIncoming(context.Background())
	if err := handler.RegisterMethod("late", noop); !errors.Is(err, ErrMethodsSealed) {
		t.Fatalf("RegisterMethod after drain = %v, want ErrMethodsSealed", err)
	}
}

func TestSendRequestEncodeFailure(t *testing.T) {
	handler, _ := newTestHandler(t, nil)
	if _, err := handler.SendRequest("m", make(chan int), time.Second); err == nil {
		t.Fatal("expected an encoding error")
	}
	if handler.HasPending() || handler.Outstanding() != 0 {
		t.Error("failed request left state behind")
	}
	call, err := handler.SendRequest("m", nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if call.ID != 1 {
		t.Errorf("id after failed encode = %d, want 1", call.ID)
	}
}
