package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"uigen/pkg/failure"
	"uigen/pkg/gateway"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedStream replays fragments and then fails with err, if set. When
// block is set it waits for ctx after the scripted fragments.
type scriptedStream struct {
	ctx       context.Context
	fragments []string
	err       error
	block     bool

	idx       int
	current   string
	nextCalls atomic.Int32
	closed    chan struct{}
	closeOnce sync.Once
}

func newScriptedStream(fragments ...string) *scriptedStream {
	return &scriptedStream{fragments: fragments, closed: make(chan struct{})}
}

func (s *scriptedStream) Next() bool {
	s.nextCalls.Add(1)
	if s.idx < len(s.fragments) {
		s.current = s.fragments[s.idx]
		s.idx++
		return true
	}
	if s.block {
		<-s.ctx.Done()
		s.err = s.ctx.Err()
	}
	return false
}

func (s *scriptedStream) Content() string { return s.current }
func (s *scriptedStream) Err() error      { return s.err }

func (s *scriptedStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptedStream) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-s.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected upstream stream to be closed")
	}
}

func quietOptions() Options {
	return Options{
		ContentType: ContentTypeFor(FramingRaw),
		RequestID:   "req-test",
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// readAll records each Read separately so merged or split fragments show up.
func readAll(t *testing.T, body io.Reader) ([]string, error) {
	t.Helper()
	var reads []string
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			reads = append(reads, string(buf[:n]))
		}
		if err == io.EOF {
			return reads, nil
		}
		if err != nil {
			return reads, err
		}
	}
}

func TestRelay_Batched(t *testing.T) {
	result := Relay(context.Background(), gateway.Response{Kind: gateway.Batched, Text: "export default X"}, quietOptions())

	if result.Status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", result.Status)
	}
	if result.ContentType != "text/plain; charset=utf-8" {
		t.Fatalf("Expected plain text, got %q", result.ContentType)
	}
	if result.Text != "export default X" || result.Streamed() {
		t.Fatalf("Expected verbatim batched text, got %+v", result)
	}
}

func TestRelay_StreamPreservesFragments(t *testing.T) {
	stream := newScriptedStream("Hello, ", "", "world", "!")

	result := Relay(context.Background(), gateway.Response{Kind: gateway.Streamed, Stream: stream}, quietOptions())
	if result.Status != http.StatusOK || !result.Streamed() {
		t.Fatalf("Expected streamed 200, got %+v", result)
	}
	defer result.Body.Close()

	reads, err := readAll(t, result.Body)
	if err != nil {
		t.Fatalf("Unexpected read error: %v", err)
	}

	want := []string{"Hello, ", "world", "!"}
	if len(reads) != len(want) {
		t.Fatalf("Expected reads %q, got %q", want, reads)
	}
	for i := range want {
		if reads[i] != want[i] {
			t.Fatalf("Expected reads %q, got %q", want, reads)
		}
	}
	stream.waitClosed(t)
}

func TestRelay_MidStreamFailure(t *testing.T) {
	stream := newScriptedStream("Hello")
	stream.err = errors.New("connection reset")

	result := Relay(context.Background(), gateway.Response{Kind: gateway.Streamed, Stream: stream}, quietOptions())
	defer result.Body.Close()

	if result.Status != http.StatusOK {
		t.Fatalf("Expected status to stay 200, got %d", result.Status)
	}

	reads, err := readAll(t, result.Body)
	if len(reads) != 1 || reads[0] != "Hello" {
		t.Fatalf("Expected exactly one fragment, got %q", reads)
	}

	var midErr *failure.MidStreamFailure
	if !errors.As(err, &midErr) {
		t.Fatalf("Expected *failure.MidStreamFailure, got %T: %v", err, err)
	}
	if midErr.Fragments != 1 {
		t.Fatalf("Expected failure after 1 fragment, got %d", midErr.Fragments)
	}
	stream.waitClosed(t)
}

func TestRelay_Backpressure(t *testing.T) {
	stream := newScriptedStream("a", "b", "c")

	result := Relay(context.Background(), gateway.Response{Kind: gateway.Streamed, Stream: stream}, quietOptions())

	// Nobody reads: the pump must be parked on its first write.
	time.Sleep(50 * time.Millisecond)
	if calls := stream.nextCalls.Load(); calls > 1 {
		t.Fatalf("Expected pump to wait for the consumer, got %d Next calls", calls)
	}

	reads, err := readAll(t, result.Body)
	if err != nil || len(reads) != 3 {
		t.Fatalf("Expected 3 reads, got %q (err=%v)", reads, err)
	}
	result.Body.Close()
	stream.waitClosed(t)
}

func TestRelay_ConsumerCloseStopsPump(t *testing.T) {
	stream := newScriptedStream("one", "two", "three", "four")

	result := Relay(context.Background(), gateway.Response{Kind: gateway.Streamed, Stream: stream}, quietOptions())

	buf := make([]byte, 64)
	n, err := result.Body.Read(buf)
	if err != nil || string(buf[:n]) != "one" {
		t.Fatalf("Expected first fragment, got %q (err=%v)", buf[:n], err)
	}
	result.Body.Close()

	stream.waitClosed(t)
	if calls := stream.nextCalls.Load(); calls > 2 {
		t.Fatalf("Expected pump to stop after consumer closed, got %d Next calls", calls)
	}
}

func TestRelay_ContextCancelTerminatesStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := newScriptedStream("partial")
	stream.ctx = ctx
	stream.block = true

	result := Relay(ctx, gateway.Response{Kind: gateway.Streamed, Stream: stream}, quietOptions())
	defer result.Body.Close()

	buf := make([]byte, 64)
	n, err := result.Body.Read(buf)
	if err != nil || string(buf[:n]) != "partial" {
		t.Fatalf("Expected first fragment, got %q (err=%v)", buf[:n], err)
	}

	cancel()

	_, err = result.Body.Read(buf)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	stream.waitClosed(t)
}

func TestRelay_NilStream(t *testing.T) {
	result := Relay(context.Background(), gateway.Response{Kind: gateway.Streamed}, quietOptions())
	if result.Status != http.StatusInternalServerError || result.Streamed() {
		t.Fatalf("Expected 500 without body, got %+v", result)
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := map[string]string{
		FramingRaw: "text/plain; charset=utf-8",
		FramingSSE: "text/event-stream",
		"":         "text/plain; charset=utf-8",
	}
	for framing, want := range tests {
		if got := ContentTypeFor(framing); got != want {
			t.Errorf("ContentTypeFor(%q) = %q, want %q", framing, got, want)
		}
	}
}
