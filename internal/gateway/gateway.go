// Package gateway is the edge service: it terminates bearer tokens,
// delegates verification to the token authority and forwards trusted
// identity headers to the upstream services it proxies.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"authgate.dev/internal/httpapi"
	"authgate.dev/internal/obs"
	"authgate.dev/internal/resilience"
)

// Trusted identity headers stamped onto every verified upstream request.
// They are overwritten unconditionally: a client-supplied value never
// survives the gateway.
const (
	HeaderIPAddress = "ipAddress"
	HeaderUserID    = "userId"
)

const validatePath = "/api/v1/auth/validate-token"

// Gateway proxies client traffic after delegated token verification.
type Gateway struct {
	authority      *url.URL
	authorityProxy *httputil.ReverseProxy
	upstreams      map[string]*httputil.ReverseProxy
	client         *http.Client
	wrapper        *resilience.Wrapper
	version        string
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithHTTPClient overrides the verification client (tests, custom timeouts).
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.client = c
		}
	}
}

// WithResilience overrides the wrapper guarding verification calls.
func WithResilience(w *resilience.Wrapper) Option {
	return func(g *Gateway) {
		if w != nil {
			g.wrapper = w
		}
	}
}

// New builds a gateway fronting the given authority and upstream routes.
func New(authorityURL string, upstreams map[string]*url.URL, version string, opts ...Option) (*Gateway, error) {
	target, err := url.Parse(strings.TrimRight(authorityURL, "/"))
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("gateway: invalid authority url %q", authorityURL)
	}
	g := &Gateway{
		authority:      target,
		authorityProxy: httputil.NewSingleHostReverseProxy(target),
		upstreams:      make(map[string]*httputil.ReverseProxy, len(upstreams)),
		client:         &http.Client{Timeout: 5 * time.Second},
		wrapper:        resilience.New("gateway-verify", "token authority", resilience.DefaultConfig()),
		version:        version,
	}
	for name, u := range upstreams {
		g.upstreams[name] = httputil.NewSingleHostReverseProxy(u)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Handler возвращает полностью собранный http.Handler шлюза.
func (g *Gateway) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(g.serveHTTP)
	h = httpapi.Recover(h)
	h = httpapi.SecurityHeaders(h)
	h = httpapi.LoggingJSON(h)
	h = httpapi.RequestID(h)
	return obs.Instrument(h)
}

func (g *Gateway) serveHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/healthz":
		g.writeJSON(w, r, http.StatusOK, "ok", map[string]any{
			"service": "authgate-gateway",
			"version": g.version,
		})
		return
	case "/metrics":
		obs.Handler().ServeHTTP(w, r)
		return
	}

	if !IsPublicRoute(r.URL.Path) {
		if !g.verifyAndStamp(w, r) {
			return
		}
	} else {
		// Публичные маршруты тоже не могут пронести свои identity-заголовки.
		r.Header.Del(HeaderIPAddress)
		r.Header.Del(HeaderUserID)
	}

	g.forward(w, r)
}

// verifyAndStamp runs delegated verification and mutates the request headers
// on success. A false return means the response has been written.
func (g *Gateway) verifyAndStamp(w http.ResponseWriter, r *http.Request) bool {
	token, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		g.writeJSON(w, r, http.StatusUnauthorized, err.Error(), nil)
		return false
	}

	ip := ClientIP(r)
	outcome, err := g.verify(r.Context(), token, ip, r.URL.Path, r.Method, httpapi.RequestIDFromContext(r.Context()))
	if err != nil {
		g.writeVerifyFailure(w, r, err)
		return false
	}
	if !outcome.Valid {
		// Отказ authority отдаём с его сообщением, если оно есть.
		msg := strings.TrimSpace(outcome.Message)
		if msg == "" {
			msg = "Invalid token"
		}
		g.writeJSON(w, r, http.StatusUnauthorized, msg, nil)
		return false
	}

	r.Header.Set(HeaderIPAddress, outcome.IPAddress)
	r.Header.Set(HeaderUserID, outcome.UserID)
	return true
}

type verifyOutcome struct {
	Valid     bool
	Message   string
	UserID    string
	IPAddress string
}

type validateRequest struct {
	Token string `json:"token"`
	// Целевой маршрут запроса — authority пишет его в аудит.
	RequiredPermissionsAPI    string `json:"requiredPermissionsApi"`
	RequiredPermissionsMethod string `json:"requiredPermissionsMethod"`
	IPAddress                 string `json:"ipAddress"`
}

type validateResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    struct {
		IsValid   bool   `json:"isValid"`
		Message   string `json:"message"`
		IPAddress string `json:"ipAddress"`
		UserID    string `json:"userId"`
	} `json:"data"`
}

var errMalformedUpstream = errors.New("gateway: malformed verification response")

// verify calls the authority's validate-token endpoint under the resilience
// wrapper. A 403 is a definitive rejection, not a downstream failure; only
// transport errors and 5xx feed the circuit breaker.
func (g *Gateway) verify(ctx context.Context, token, ip, targetPath, targetMethod, requestID string) (verifyOutcome, error) {
	var outcome verifyOutcome
	err := g.wrapper.Do(ctx, func(ctx context.Context) error {
		payload, err := json.Marshal(validateRequest{
			Token:                     token,
			RequiredPermissionsAPI:    targetPath,
			RequiredPermissionsMethod: targetMethod,
			IPAddress:                 ip,
		})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.authority.String()+validatePath, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if requestID != "" {
			req.Header.Set("X-Request-ID", requestID)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("gateway: authority returned %d", resp.StatusCode)
		}

		var parsed validateResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
			return errMalformedUpstream
		}
		if resp.StatusCode == http.StatusOK {
			// Контракт: успешный ответ обязан нести ipAddress и userId.
			if parsed.Data.IPAddress == "" || parsed.Data.UserID == "" {
				return errMalformedUpstream
			}
			outcome = verifyOutcome{
				Valid:     true,
				Message:   parsed.Message,
				UserID:    parsed.Data.UserID,
				IPAddress: parsed.Data.IPAddress,
			}
			return nil
		}
		outcome = verifyOutcome{Valid: false, Message: parsed.Message}
		return nil
	})
	if err != nil {
		return verifyOutcome{}, err
	}
	return outcome, nil
}

func (g *Gateway) writeVerifyFailure(w http.ResponseWriter, r *http.Request, err error) {
	if msg, ok := resilience.UserMessage(err); ok {
		code := http.StatusServiceUnavailable
		if resilience.IsRateLimited(err) {
			code = http.StatusTooManyRequests
			w.Header().Set("Retry-After", "1")
		}
		obs.Log("warn", "verification_unavailable", map[string]any{
			"request_id": httpapi.RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
		g.writeJSON(w, r, code, msg, nil)
		return
	}
	obs.Log("error", "verification_failed", map[string]any{
		"request_id": httpapi.RequestIDFromContext(r.Context()),
		"error":      err.Error(),
	})
	// Всё остальное наружу — как отказ токена.
	g.writeJSON(w, r, http.StatusUnauthorized, "Invalid token", nil)
}

// forward picks the upstream and proxies. Auth endpoints always go to the
// authority; other paths route on their first segment.
func (g *Gateway) forward(w http.ResponseWriter, r *http.Request) {
	// Корреляционный id едет дальше вместе с запросом.
	if rid := httpapi.RequestIDFromContext(r.Context()); rid != "" {
		r.Header.Set("X-Request-ID", rid)
	}
	if strings.HasPrefix(r.URL.Path, "/api/v1/auth/") {
		g.authorityProxy.ServeHTTP(w, r)
		return
	}
	name, rest := splitRoute(r.URL.Path)
	proxy, ok := g.upstreams[name]
	if !ok {
		g.writeJSON(w, r, http.StatusNotFound, "no route for request", nil)
		return
	}
	r.URL.Path = rest
	proxy.ServeHTTP(w, r)
}

// splitRoute cuts "/orders/items/5" into ("orders", "/items/5").
func splitRoute(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "/")
	name, rest, found := strings.Cut(trimmed, "/")
	if !found {
		return name, "/"
	}
	return name, "/" + rest
}

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	const scheme = "Bearer "
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(scheme)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(scheme):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func (g *Gateway) writeJSON(w http.ResponseWriter, r *http.Request, code int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	payload := map[string]any{
		"status":  code,
		"message": msg,
	}
	if data != nil {
		payload["data"] = data
	}
	if rid := httpapi.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	_ = json.NewEncoder(w).Encode(payload)
}
