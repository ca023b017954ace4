// Package server exposes the completion pipeline over HTTP.
package server

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ncecere/synthtext"
	"github.com/ncecere/synthtext/internal/metrics"
	"github.com/ncecere/synthtext/middleware"
	"github.com/ncecere/synthtext/provider"
	"github.com/ncecere/synthtext/registry"
)

// Config holds the HTTP server settings.
type Config struct {
	Addr           string        `env:"SYNTHTEXT_ADDR" envDefault:":8080"`
	ReadTimeout    time.Duration `env:"SYNTHTEXT_READ_TIMEOUT" envDefault:"30s"`
	RequestTimeout time.Duration `env:"SYNTHTEXT_REQUEST_TIMEOUT" envDefault:"5m"`
	BodyLimit      int           `env:"SYNTHTEXT_BODY_LIMIT" envDefault:"1048576"`
	// StreamStartTimeout bounds how long an opened upstream stream waits
	// for the response body writer. Zero waits until RequestTimeout.
	StreamStartTimeout time.Duration `env:"SYNTHTEXT_STREAM_START_TIMEOUT" envDefault:"10s"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Options are the collaborators of a Server.
type Options struct {
	// Transport reaches the TextSynth API. Required.
	Transport provider.Transport
	// Registry resolves the "engine" request field. Nil means presets only.
	Registry registry.Registry
	// DefaultEngine is used when a request names no engine.
	DefaultEngine synthtext.EngineDefinition
	// Logger receives access and pipeline logs.
	Logger zerolog.Logger
	// Metrics is the registry metrics are registered with and served
	// from. Nil disables /metrics.
	Metrics *prometheus.Registry
}

// Server serves completions, log probabilities and engine listings.
type Server struct {
	app           *fiber.App
	cfg           Config
	transport     provider.Transport
	registry      registry.Registry
	defaultEngine synthtext.EngineDefinition
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

// New builds a Server and its routes.
func New(cfg Config, opts Options) (*Server, error) {
	if opts.Transport == nil {
		return nil, synthtext.ErrMissingTransport
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.NewWithPresets()
	}
	def := opts.DefaultEngine
	if def.IsZero() {
		def = synthtext.DefaultEngineDefinition()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}

	s := &Server{
		cfg:           cfg,
		transport:     opts.Transport,
		registry:      reg,
		defaultEngine: def,
		logger:        opts.Logger,
	}
	if opts.Metrics != nil {
		s.metrics = metrics.New(opts.Metrics)
		s.transport = middleware.WrapTransport(s.transport, middleware.TelemetryTransport(s.metrics.Hooks()))
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "synthtext",
		BodyLimit:             cfg.BodyLimit,
		ReadTimeout:           cfg.ReadTimeout,
		DisableStartupMessage: true,
	})
	s.app.Use(recover.New())
	s.app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	s.app.Use(s.accessLog)

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	v1 := s.app.Group("/v1")
	v1.Get("/engines", s.handleEngines)
	v1.Post("/completions", s.handleCompletion)
	v1.Post("/logprob", s.handleLogProb)
	if opts.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{})))
	}

	return s, nil
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on the configured address until Shutdown.
func (s *Server) Listen() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("listening")
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown stops the server, waiting for in-flight requests until ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string)
	return id
}

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Info().
		Str("request_id", requestID(c)).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("duration", time.Since(start)).
		Msg("request")
	return err
}

func (s *Server) engine(c *fiber.Ctx, name string) (*synthtext.Engine, error) {
	def := s.defaultEngine
	if name != "" {
		var err error
		def, err = registry.Resolve(s.registry, name)
		if err != nil {
			return nil, err
		}
	}
	logger := s.logger.With().Str("request_id", requestID(c)).Logger()
	return synthtext.NewEngine(s.transport, def, synthtext.WithLogger(logger))
}

type engineInfo struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	MaxTokens int    `json:"max_tokens"`
	Custom    bool   `json:"custom"`
}

func (s *Server) handleEngines(c *fiber.Ctx) error {
	names := s.registry.Names()
	out := make([]engineInfo, 0, len(names))
	for _, name := range names {
		def, err := s.registry.Engine(name)
		if err != nil {
			continue
		}
		out = append(out, engineInfo{Name: name, ID: def.ID(), MaxTokens: def.MaxTokens(), Custom: def.IsCustom()})
	}
	return c.JSON(fiber.Map{"default": s.defaultEngine.String(), "engines": out})
}

type completionRequest struct {
	Engine      string   `json:"engine"`
	Prompt      string   `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float64 `json:"top_p"`
	Stop        []string `json:"stop"`
	Stream      bool     `json:"stream"`
}

type completionResponse struct {
	Text            string `json:"text"`
	TruncatedPrompt bool   `json:"truncated_prompt"`
	ReachedEnd      bool   `json:"reached_end"`
	TotalTokens     *int   `json:"total_tokens,omitempty"`
	InputTokens     *int   `json:"input_tokens,omitempty"`
	OutputTokens    *int   `json:"output_tokens,omitempty"`
}

func (s *Server) handleCompletion(c *fiber.Ctx) error {
	var body completionRequest
	if err := c.BodyParser(&body); err != nil {
		return s.fail(c, &synthtext.ValidationError{Parameter: "body", Value: "request", Message: err.Error()})
	}

	engine, err := s.engine(c, body.Engine)
	if err != nil {
		return s.fail(c, err)
	}
	req, err := synthtext.BuildRequest(engine, body.Prompt, synthtext.Params{
		MaxTokens:   body.MaxTokens,
		Temperature: body.Temperature,
		TopK:        body.TopK,
		TopP:        body.TopP,
	})
	if err != nil {
		return s.fail(c, err)
	}
	var stop *synthtext.Stop
	if len(body.Stop) > 0 {
		st, err := synthtext.NewStop(body.Stop)
		if err != nil {
			return s.fail(c, err)
		}
		stop = &st
	}

	if body.Stream {
		return s.streamCompletion(c, req, stop)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.RequestTimeout)
	defer cancel()

	res, err := synthtext.ExecuteNow(ctx, req, stop)
	if err != nil {
		return s.fail(c, err)
	}
	if res.TruncatedPrompt && s.metrics != nil {
		s.metrics.TruncatedPrompts.Inc()
	}
	return c.JSON(completionResponse{
		Text:            res.Text,
		TruncatedPrompt: res.TruncatedPrompt,
		ReachedEnd:      res.ReachedEnd,
		TotalTokens:     res.TotalTokens,
		InputTokens:     res.InputTokens,
		OutputTokens:    res.OutputTokens,
	})
}

func (s *Server) streamCompletion(c *fiber.Ctx, req *synthtext.CompletionRequest, stop *synthtext.Stop) error {
	// The body is written after the handler returns, so the stream must
	// not be bound to the request context.
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)

	seq, err := synthtext.ExecuteStream(ctx, req, stop)
	if err != nil {
		cancel()
		return s.fail(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	id := requestID(c)
	begin := s.guardStream(ctx, cancel, seq)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		if !begin() {
			return
		}
		defer cancel()
		err := synthtext.WriteFragmentsAsSSE(ctx, w, seq)
		if s.metrics != nil {
			s.metrics.Fragments.Add(float64(seq.Count()))
		}
		if err != nil {
			if s.metrics != nil {
				s.metrics.ObserveError(err)
			}
			s.logger.Warn().Str("request_id", id).Err(err).Msg("completion stream ended with error")
		}
	})
	return nil
}

// guardStream closes seq and cancels its context if the body writer has
// not started by the time ctx ends or StreamStartTimeout elapses, e.g.
// when the client went away before the response was written. The
// returned begin reports whether the caller still owns the stream.
func (s *Server) guardStream(ctx context.Context, cancel context.CancelFunc, seq *synthtext.FragmentSequence) (begin func() bool) {
	var claimed atomic.Bool
	release := func() {
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		if err := seq.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("closing abandoned stream")
		}
		cancel()
		s.logger.Debug().Msg("completion stream released before the body was written")
	}

	stop := context.AfterFunc(ctx, release)
	var timer *time.Timer
	if s.cfg.StreamStartTimeout > 0 {
		timer = time.AfterFunc(s.cfg.StreamStartTimeout, release)
	}
	return func() bool {
		stop()
		if timer != nil {
			timer.Stop()
		}
		return claimed.CompareAndSwap(false, true)
	}
}

type logProbRequest struct {
	Engine       string `json:"engine"`
	Context      string `json:"context"`
	Continuation string `json:"continuation"`
}

func (s *Server) handleLogProb(c *fiber.Ctx) error {
	var body logProbRequest
	if err := c.BodyParser(&body); err != nil {
		return s.fail(c, &synthtext.ValidationError{Parameter: "body", Value: "request", Message: err.Error()})
	}
	continuation, err := synthtext.NewNonEmptyString(body.Continuation)
	if err != nil {
		return s.fail(c, err)
	}
	engine, err := s.engine(c, body.Engine)
	if err != nil {
		return s.fail(c, err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.RequestTimeout)
	defer cancel()

	lp, err := engine.LogProbabilities(ctx, body.Context, continuation)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"logprob":      lp.LogProbability,
		"is_greedy":    lp.IsGreedy,
		"total_tokens": lp.TotalTokens,
	})
}

// fail writes err as a JSON error response with a status derived from
// its kind.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status, kind := classify(err)
	if s.metrics != nil {
		s.metrics.ObserveError(err)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Str("request_id", requestID(c)).Str("kind", kind).Err(err).Msg("request failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error(), "kind": kind})
}

func classify(err error) (int, string) {
	var (
		ve  *synthtext.ValidationError
		nse *registry.NoSuchEngineError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "validation"
	case errors.As(err, &nse):
		return http.StatusNotFound, "engine"
	}

	ee, ok := synthtext.AsExecutionError(err)
	if !ok {
		return http.StatusInternalServerError, "internal"
	}
	switch ee.Kind {
	case synthtext.KindTransport:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, string(ee.Kind)
		}
		return http.StatusServiceUnavailable, string(ee.Kind)
	case synthtext.KindAPI:
		// Client mistakes are passed through; upstream auth and server
		// failures are the gateway's problem.
		if ee.StatusCode >= 400 && ee.StatusCode < 500 &&
			ee.StatusCode != http.StatusUnauthorized && ee.StatusCode != http.StatusForbidden {
			return ee.StatusCode, string(ee.Kind)
		}
		return http.StatusBadGateway, string(ee.Kind)
	default:
		return http.StatusBadGateway, string(ee.Kind)
	}
}
