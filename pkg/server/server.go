// Package server exposes the generation pipeline over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"uigen/pkg/catalog"
	"uigen/pkg/chat"
	"uigen/pkg/config"
	"uigen/pkg/failure"
	"uigen/pkg/gateway"
	"uigen/pkg/prompt"
	"uigen/pkg/relay"
	"uigen/pkg/version"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-ID"
	ctxRequestID    = "request_id"

	maxBodyBytes    = 1 << 20
	maxRequestIDLen = 128
	readBufferSize  = 32 * 1024
)

// Completer is the upstream side of the pipeline.
type Completer interface {
	Complete(ctx context.Context, req gateway.Request) (gateway.Response, error)
}

// Option configures a Server.
type Option func(*Server)

// WithCatalog overrides the built-in component catalog.
func WithCatalog(cat catalog.Catalog) Option {
	return func(s *Server) {
		s.catalog = cat
	}
}

// WithAuthenticator sets the authenticator used by routes that require auth.
func WithAuthenticator(auth Authenticator) Option {
	return func(s *Server) {
		s.auth = auth
	}
}

// WithLogger sets the logger for access and failure logs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type route struct {
	config.RouteConfig
	variant prompt.Variant
}

// Server routes inbound requests through validation, prompt construction,
// the gateway and the relay.
type Server struct {
	completer      Completer
	catalog        catalog.Catalog
	auth           Authenticator
	logger         *slog.Logger
	policy         chat.Policy
	model          string
	framing        string
	requestTimeout time.Duration
	routes         []route
	engine         *gin.Engine
}

// New builds a server for the configured routes.
func New(cfg config.Config, completer Completer, opts ...Option) (*Server, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}

	timeout := cfg.Server.RequestTimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}

	s := &Server{
		completer:      completer,
		catalog:        catalog.Default(),
		logger:         slog.Default(),
		policy:         chat.Policy{AllowEmptyContent: cfg.Validation.AllowEmptyContent},
		model:          cfg.Upstream.Model,
		framing:        cfg.Server.StreamFraming,
		requestTimeout: time.Duration(timeout) * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	for _, rc := range cfg.Routes {
		variant, err := prompt.ParseVariant(rc.PromptVariant)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", rc.Name, err)
		}
		s.routes = append(s.routes, route{RouteConfig: rc, variant: variant})
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestID(), s.accessLog())
	engine.GET("/healthz", s.handleHealth)
	for _, r := range s.routes {
		engine.POST(r.Path, s.handleGenerate(r))
	}
	s.engine = engine

	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http_request",
			"request_id", c.GetString(ctxRequestID),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	info := version.Get()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"version":  info.Version,
		"commit":   info.Commit,
		"platform": info.Platform,
	})
}

func (s *Server) handleGenerate(r route) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetString(ctxRequestID)

		if r.RequireAuth {
			if err := s.authenticate(c.Request); err != nil {
				s.fail(c, r, err)
				return
			}
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
		if err != nil {
			s.fail(c, r, &failure.SchemaViolation{Reason: fmt.Sprintf("failed to read body: %v", err)})
			return
		}
		if len(body) > maxBodyBytes {
			s.fail(c, r, &failure.SchemaViolation{Reason: fmt.Sprintf("body exceeds %d bytes", maxBodyBytes)})
			return
		}

		payload, err := chat.Decode(body, s.policy)
		if err != nil {
			s.fail(c, r, err)
			return
		}

		systemPrompt, err := prompt.BuildSystemPrompt(r.variant, s.catalog)
		if err != nil {
			s.fail(c, r, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
		defer cancel()

		resp, err := s.completer.Complete(ctx, gateway.Request{
			RequestID:   requestID,
			Route:       r.Name,
			Model:       s.model,
			Messages:    prompt.BuildMessages(systemPrompt, payload.Messages),
			Temperature: r.Temperature,
			MaxTokens:   r.MaxTokens,
			Streaming:   r.Streaming,
		})
		if err != nil {
			s.fail(c, r, err)
			return
		}

		result := relay.Relay(ctx, resp, relay.Options{
			ContentType: relay.ContentTypeFor(s.framing),
			RequestID:   requestID,
			Logger:      s.logger,
		})
		if !result.Streamed() {
			c.Data(result.Status, result.ContentType, []byte(result.Text))
			return
		}
		s.writeStream(c, result)
	}
}

func (s *Server) authenticate(r *http.Request) error {
	if s.auth == nil {
		return &failure.Unauthorized{Reason: "no authenticator configured"}
	}
	if _, err := s.auth.Authenticate(r); err != nil {
		var authErr *failure.Unauthorized
		if errors.As(err, &authErr) {
			return authErr
		}
		return &failure.Unauthorized{Reason: err.Error()}
	}
	return nil
}

// writeStream commits the status, then forwards each read from the relay
// body and flushes it. A relay error ends the response early; the status is
// already on the wire.
func (s *Server) writeStream(c *gin.Context, result relay.Result) {
	defer result.Body.Close()

	c.Header("Content-Type", result.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Status(result.Status)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	sse := s.framing == relay.FramingSSE
	buf := make([]byte, readBufferSize)
	var pending []byte
	for {
		n, err := result.Body.Read(buf)
		if n > 0 {
			var werr error
			if sse {
				var chunk []byte
				chunk, pending = splitCompleteRunes(append(pending, buf[:n]...))
				if len(chunk) > 0 {
					werr = writeEvent(c.Writer, chunk)
				}
			} else {
				_, werr = c.Writer.Write(buf[:n])
			}
			if werr != nil {
				return
			}
			c.Writer.Flush()
		}
		if errors.Is(err, io.EOF) {
			if len(pending) > 0 && writeEvent(c.Writer, pending) == nil {
				c.Writer.Flush()
			}
			return
		}
		if err != nil {
			s.logger.Warn("stream_terminated",
				"request_id", c.GetString(ctxRequestID),
				"stage", "relay",
				"error", err.Error(),
			)
			return
		}
	}
}

// writeEvent frames one fragment as an SSE message whose data is a JSON
// string, so line breaks and carriage returns survive the event-stream
// line rules.
func writeEvent(w io.Writer, fragment []byte) error {
	var frame bytes.Buffer
	frame.WriteString("event: message\ndata: ")
	enc := json.NewEncoder(&frame)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(string(fragment)); err != nil {
		return err
	}
	frame.WriteString("\n")
	_, err := w.Write(frame.Bytes())
	return err
}

// splitCompleteRunes holds back a trailing partial UTF-8 sequence so a read
// that ends mid-rune is not mangled when encoded.
func splitCompleteRunes(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i], append([]byte(nil), b[i:]...)
			}
			break
		}
	}
	return b, nil
}

func (s *Server) fail(c *gin.Context, r route, err error) {
	out := failure.Surface(err)
	level := slog.LevelWarn
	if out.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(c.Request.Context(), level, "generate_request_failed",
		"request_id", c.GetString(ctxRequestID),
		"route", r.Name,
		"status", out.Status,
		"error", err.Error(),
	)
	c.Data(out.Status, out.ContentType, out.Body)
}
