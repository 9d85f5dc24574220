package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	app_errors "github.com/jleechanorg/codex-plus/internal/errors"
	"github.com/jleechanorg/codex-plus/internal/hooks"
	"github.com/jleechanorg/codex-plus/internal/models"
	"github.com/jleechanorg/codex-plus/internal/reencoder"
	"github.com/jleechanorg/codex-plus/internal/response"
	"github.com/jleechanorg/codex-plus/internal/sse"
	"github.com/jleechanorg/codex-plus/internal/stream"
	"github.com/jleechanorg/codex-plus/internal/upstream"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const readChunkSize = 32 * 1024

func (ps *ProxyServer) resolveModel(env *upstream.Envelope) string {
	if model := ps.configManager.GetUpstreamConfig().Model; model != "" {
		return model
	}
	return env.Model
}

// runStream pumps the upstream body through decode, ingest and re-encode
// until a terminal event is emitted. Unparseable records are skipped up to a
// threshold; any abnormal end flows through the encoder's Abort so the
// client always sees exactly one terminal event.
func (ps *ProxyServer) runStream(
	ctx context.Context,
	adapter upstream.Adapter,
	resp *http.Response,
	enc *reencoder.Encoder,
	emit func(reencoder.Event) error,
) {
	cfg := ps.configManager.GetUpstreamConfig()
	decoder := sse.NewDecoder()

	// idle-read watchdog: a stalled upstream read unblocks by closing the
	// body, reported as its own error kind
	var idleTimedOut atomic.Bool
	var watchdog *time.Timer
	if cfg.IdleReadTimeout > 0 {
		watchdog = time.AfterFunc(cfg.IdleReadTimeout, func() {
			idleTimedOut.Store(true)
			resp.Body.Close()
		})
		defer watchdog.Stop()
	}

	abort := func(message string) {
		for _, ev := range enc.Abort(message) {
			if emit(ev) != nil {
				return
			}
		}
	}

	// feed advances the encoder; done means a terminal event went out or
	// the client went away
	feed := func(events []stream.Event) (done bool) {
		for _, canonical := range events {
			out, err := enc.Feed(canonical)
			if err != nil {
				abort("protocol error: " + err.Error())
				return true
			}
			for _, ev := range out {
				if emit(ev) != nil {
					return true
				}
			}
			if enc.Done() {
				return true
			}
		}
		return false
	}

	decodeErrors := 0
	chunk := make([]byte, readChunkSize)

	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			if watchdog != nil {
				watchdog.Reset(cfg.IdleReadTimeout)
			}
			for _, record := range decoder.Decode(chunk[:n]) {
				if record.IsDone() {
					if feed(adapter.Finish()) {
						return
					}
					abort("upstream stream ended without completion")
					return
				}

				events, err := adapter.Ingest(record)
				if err != nil {
					decodeErrors++
					logrus.WithError(err).WithField("count", decodeErrors).
						Warn("Skipping unparseable upstream record")
					if decodeErrors > maxDecodeErrors {
						abort("too many unparseable upstream records")
						return
					}
					continue
				}
				if feed(events) {
					return
				}
			}
		}

		if readErr == nil {
			continue
		}

		if readErr == io.EOF {
			if record, ok := decoder.Flush(); ok && !record.IsDone() {
				if events, err := adapter.Ingest(record); err == nil && feed(events) {
					return
				}
			}
			if feed(adapter.Finish()) {
				return
			}
			abort("upstream stream ended without completion")
			return
		}

		if idleTimedOut.Load() {
			abort("upstream idle-read timeout after " + cfg.IdleReadTimeout.String())
			return
		}
		if ctx.Err() != nil {
			// client disconnected; upstream body closes via the deferred
			// Close, nothing left to write
			logrus.Debug("Client disconnected mid-stream, aborting upstream call")
			return
		}
		abort("upstream read failed: " + readErr.Error())
		return
	}
}

// streamToClient relays the re-encoded event stream as SSE.
func (ps *ProxyServer) streamToClient(c *gin.Context, env *upstream.Envelope, adapter upstream.Adapter, resp *http.Response, audit *models.RequestLog) {
	cfg := ps.configManager.GetUpstreamConfig()

	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	audit.StatusCode = http.StatusOK

	flusher, _ := c.Writer.(http.Flusher)

	emit := func(ev reencoder.Event) error {
		recordTerminal(audit, ev)
		if _, err := c.Writer.Write(ev.Encode()); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	enc := reencoder.New(reencoder.Options{
		Model:           ps.resolveModel(env),
		ExposeReasoning: cfg.ExposeReasoning,
	})
	ps.runStream(c.Request.Context(), adapter, resp, enc, emit)
}

// collectToJSON drives the same pipeline but buffers the terminal response
// object and returns it as one JSON document, running post-output hooks on
// the finished body.
func (ps *ProxyServer) collectToJSON(c *gin.Context, env *upstream.Envelope, adapter upstream.Adapter, resp *http.Response, audit *models.RequestLog) {
	cfg := ps.configManager.GetUpstreamConfig()

	var final *reencoder.Response
	emit := func(ev reencoder.Event) error {
		recordTerminal(audit, ev)
		if ev.Type == reencoder.EventResponseCompleted || ev.Type == reencoder.EventResponseFailed {
			final = ev.Response
		}
		return nil
	}

	enc := reencoder.New(reencoder.Options{
		Model:           ps.resolveModel(env),
		ExposeReasoning: cfg.ExposeReasoning,
	})
	ps.runStream(c.Request.Context(), adapter, resp, enc, emit)

	if final == nil {
		apiErr := app_errors.NewAPIError(app_errors.ErrInternalServer, "stream ended without a terminal response")
		audit.StatusCode = apiErr.HTTPStatus
		response.Error(c, apiErr)
		return
	}
	if final.Status == "failed" {
		message := "upstream stream failed"
		if final.Error != nil {
			message = final.Error.Message
		}
		apiErr := app_errors.NewAPIError(app_errors.ErrBadGateway, message)
		audit.StatusCode = apiErr.HTTPStatus
		audit.ErrorMessage = message
		response.Error(c, apiErr)
		return
	}

	body, err := json.Marshal(final)
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, "failed to serialize response"))
		return
	}

	if !ps.passthrough(c) {
		out, hookErr := ps.hookPipeline.Run(c.Request.Context(), hooks.PhasePostOutput, string(body), map[string]string{
			"request_id": env.ID,
		})
		if hookErr != nil {
			audit.ErrorMessage = hookErr.Error()
			audit.StatusCode = respondTransformError(c, hookErr)
			return
		}
		body = []byte(out)
	}

	audit.StatusCode = http.StatusOK
	c.Data(http.StatusOK, "application/json", body)
}

// recordTerminal captures usage and failure details for the audit record.
func recordTerminal(audit *models.RequestLog, ev reencoder.Event) {
	switch ev.Type {
	case reencoder.EventResponseCompleted:
		if ev.Response != nil && ev.Response.Usage != nil {
			audit.InputTokens = ev.Response.Usage.InputTokens
			audit.OutputTokens = ev.Response.Usage.OutputTokens
			audit.TotalTokens = ev.Response.Usage.TotalTokens
		}
	case reencoder.EventResponseFailed:
		if ev.Response != nil && ev.Response.Error != nil {
			audit.ErrorMessage = ev.Response.Error.Message
		}
	}
}
