// Package relay turns a gateway response into the outbound result.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"uigen/pkg/ai"
	"uigen/pkg/failure"
	"uigen/pkg/gateway"
)

const (
	FramingRaw = "raw"
	FramingSSE = "sse"

	contentTypeText        = "text/plain; charset=utf-8"
	contentTypeEventStream = "text/event-stream"
)

// ContentTypeFor returns the streamed content type for a framing name.
func ContentTypeFor(framing string) string {
	if framing == FramingSSE {
		return contentTypeEventStream
	}
	return contentTypeText
}

// Options configures one relay.
type Options struct {
	ContentType string
	RequestID   string
	Logger      *slog.Logger
}

// Result is the outbound representation of a successful response. Batched
// results carry Text; streamed results carry a live Body that the caller
// must read to EOF or close.
type Result struct {
	Status      int
	ContentType string
	Text        string
	Body        io.ReadCloser
}

// Streamed reports whether the result carries a live body.
func (r Result) Streamed() bool {
	return r.Body != nil
}

// Relay dispatches on the response kind. For streamed responses it starts a
// pump goroutine that writes each non-empty fragment to Body as its own
// write; a write blocks until the consumer reads it. The pump exits and
// closes the upstream stream when the stream ends, the consumer closes Body,
// or ctx is done.
func Relay(ctx context.Context, resp gateway.Response, opts Options) Result {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if resp.Kind == gateway.Batched {
		return Result{Status: http.StatusOK, ContentType: contentTypeText, Text: resp.Text}
	}

	if resp.Stream == nil {
		out := failure.Surface(errors.New("streamed response without a stream"))
		return Result{Status: out.Status, ContentType: out.ContentType, Text: string(out.Body)}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = contentTypeText
	}

	pr, pw := io.Pipe()
	go pump(ctx, resp.Stream, pw, opts)

	return Result{Status: http.StatusOK, ContentType: contentType, Body: pr}
}

func pump(ctx context.Context, stream ai.ChatStream, pw *io.PipeWriter, opts Options) {
	defer stream.Close()

	// Unblocks a pending write once the request is over.
	stop := context.AfterFunc(ctx, func() {
		pw.CloseWithError(ctx.Err())
	})
	defer stop()

	fragments := 0
	for stream.Next() {
		fragment := stream.Content()
		if fragment == "" {
			continue
		}
		if _, err := pw.Write([]byte(fragment)); err != nil {
			opts.Logger.Debug("relay_consumer_gone",
				"request_id", opts.RequestID,
				"fragments", fragments,
				"error", err.Error(),
			)
			return
		}
		fragments++
	}

	if err := ctx.Err(); err != nil {
		opts.Logger.Warn("relay_stream_cancelled",
			"request_id", opts.RequestID,
			"stage", "relay",
			"fragments", fragments,
			"error", err.Error(),
		)
		pw.CloseWithError(err)
		return
	}

	if err := stream.Err(); err != nil {
		opts.Logger.Error("relay_stream_failed",
			"request_id", opts.RequestID,
			"stage", "relay",
			"fragments", fragments,
			"error", err.Error(),
		)
		pw.CloseWithError(&failure.MidStreamFailure{Fragments: fragments, Err: err})
		return
	}

	opts.Logger.Debug("relay_stream_done",
		"request_id", opts.RequestID,
		"fragments", fragments,
	)
	pw.Close()
}
