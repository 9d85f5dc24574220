// Package proxy implements the intercepting reverse proxy: request
// transformation, the upstream streaming call, and re-encoding of the
// upstream stream into the client's expected event sequence.
package proxy

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/jleechanorg/codex-plus/internal/commands"
	app_errors "github.com/jleechanorg/codex-plus/internal/errors"
	"github.com/jleechanorg/codex-plus/internal/gitstatus"
	"github.com/jleechanorg/codex-plus/internal/hooks"
	"github.com/jleechanorg/codex-plus/internal/httpclient"
	"github.com/jleechanorg/codex-plus/internal/models"
	"github.com/jleechanorg/codex-plus/internal/response"
	"github.com/jleechanorg/codex-plus/internal/services"
	"github.com/jleechanorg/codex-plus/internal/types"
	"github.com/jleechanorg/codex-plus/internal/upstream"
	"github.com/jleechanorg/codex-plus/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// maxDecodeErrors is the unparseable-record threshold past which a stream
// aborts instead of skipping.
const maxDecodeErrors = 5

// maxErrorBodySize caps how much of an upstream error body is read.
const maxErrorBodySize = 64 * 1024

// PassthroughHeader disables transformation and injection for one request.
const PassthroughHeader = "X-Plain-Passthrough"

// ProxyServer handles inbound completion requests.
type ProxyServer struct {
	configManager   types.ConfigManager
	clientManager   *httpclient.Manager
	stealthManager  *httpclient.StealthManager
	commandRegistry *commands.Registry
	hookPipeline    *hooks.Pipeline
	injector        *gitstatus.Injector
	logService      *services.RequestLogService
}

// NewProxyServer creates the proxy request handler.
func NewProxyServer(
	configManager types.ConfigManager,
	clientManager *httpclient.Manager,
	stealthManager *httpclient.StealthManager,
	commandRegistry *commands.Registry,
	hookPipeline *hooks.Pipeline,
	injector *gitstatus.Injector,
	logService *services.RequestLogService,
) *ProxyServer {
	return &ProxyServer{
		configManager:   configManager,
		clientManager:   clientManager,
		stealthManager:  stealthManager,
		commandRegistry: commandRegistry,
		hookPipeline:    hookPipeline,
		injector:        injector,
		logService:      logService,
	}
}

// HandleProxyRequest proxies one completion request.
func (ps *ProxyServer) HandleProxyRequest(c *gin.Context) {
	start := time.Now()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrBadRequest, "failed to read request body"))
		return
	}

	env, parseErr := upstream.ParseEnvelope(body)
	if parseErr != nil {
		respondParseError(c, parseErr)
		return
	}

	audit := &models.RequestLog{
		RequestID: env.ID,
		Mode:      ps.configManager.GetUpstreamConfig().Mode,
		Model:     env.Model,
		Stream:    env.Stream,
	}
	defer func() {
		audit.DurationMs = time.Since(start).Milliseconds()
		ps.logService.Record(audit)
	}()

	ctx := c.Request.Context()

	if !ps.passthrough(c) {
		env, err = ps.transformRequest(ctx, env)
		if err != nil {
			audit.ErrorMessage = err.Error()
			audit.StatusCode = respondTransformError(c, err)
			return
		}
	}

	resp, apiErr := ps.callUpstream(ctx, env)
	if apiErr != nil {
		audit.ErrorMessage = apiErr.Message
		audit.StatusCode = apiErr.HTTPStatus
		response.Error(c, apiErr)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := ps.upstreamHTTPError(resp)
		audit.ErrorMessage = apiErr.Message
		audit.StatusCode = apiErr.HTTPStatus
		response.Error(c, apiErr)
		return
	}

	adapter, err := upstream.New(ps.configManager.GetUpstreamConfig())
	if err != nil {
		// callUpstream already built one adapter, so this cannot fail here
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error()))
		return
	}

	if env.Stream {
		ps.streamToClient(c, env, adapter, resp, audit)
	} else {
		ps.collectToJSON(c, env, adapter, resp, audit)
	}
}

func (ps *ProxyServer) passthrough(c *gin.Context) bool {
	if ps.configManager.IsPlainPassthrough() {
		return true
	}
	switch c.GetHeader(PassthroughHeader) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// callUpstream builds and sends the upstream request. The returned response
// body is still streaming; the caller owns it.
func (ps *ProxyServer) callUpstream(ctx context.Context, env *upstream.Envelope) (*http.Response, *app_errors.APIError) {
	cfg := ps.configManager.GetUpstreamConfig()

	adapter, err := upstream.New(cfg)
	if err != nil {
		return nil, app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error())
	}

	req, err := adapter.BuildRequest(ctx, env)
	if err != nil {
		return nil, app_errors.NewAPIError(app_errors.ErrInternalServer, "failed to build upstream request: "+err.Error())
	}
	utils.CleanClientAuthHeaders(req)
	utils.CleanHopHeaders(req)
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	var client *http.Client
	if cfg.TLSImpersonate {
		client = ps.stealthManager.GetClient(cfg.RequestTimeout)
	} else {
		client = ps.clientManager.GetClient(httpclient.StreamConfig(cfg))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyUpstreamError(err)
	}
	return resp, nil
}

// classifyUpstreamError maps a transport failure onto the error taxonomy:
// timeouts report as 504, everything else as 502.
func classifyUpstreamError(err error) *app_errors.APIError {
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return app_errors.NewAPIError(app_errors.ErrUpstreamTimeout, "upstream request timed out: "+err.Error())
	}
	return app_errors.NewAPIError(app_errors.ErrUpstreamUnreachable, "upstream request failed: "+err.Error())
}

// upstreamHTTPError converts a non-2xx upstream response into an APIError,
// decompressing the body and extracting the provider's message.
func (ps *ProxyServer) upstreamHTTPError(resp *http.Response) *app_errors.APIError {
	buf := utils.GetBuffer()
	defer utils.PutBuffer(buf)

	if _, err := io.Copy(buf, io.LimitReader(resp.Body, maxErrorBodySize)); err != nil {
		logrus.WithError(err).Debug("Failed to read upstream error body")
	}
	body, _ := utils.DecompressResponse(resp.Header.Get("Content-Encoding"), buf.Bytes())
	message := app_errors.ParseUpstreamError(body)

	logrus.WithFields(logrus.Fields{
		"status": resp.StatusCode,
	}).Warn("Upstream returned an error response")
	return app_errors.NewAPIErrorWithUpstream(resp.StatusCode, "UPSTREAM_ERROR", message)
}

func respondParseError(c *gin.Context, err error) {
	var apiErr *app_errors.APIError
	if stderrors.As(err, &apiErr) {
		response.Error(c, apiErr)
		return
	}
	response.Error(c, app_errors.NewAPIError(app_errors.ErrBadRequest, err.Error()))
}

func respondTransformError(c *gin.Context, err error) int {
	var apiErr *app_errors.APIError
	if stderrors.As(err, &apiErr) {
		response.Error(c, apiErr)
		return apiErr.HTTPStatus
	}
	apiErr = app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error())
	response.Error(c, apiErr)
	return apiErr.HTTPStatus
}
