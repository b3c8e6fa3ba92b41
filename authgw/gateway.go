// Package authgw 是 REST 后端的认证网关：用共享 Cookie Jar 携带凭据发出请求，
// 遇到 401 时与其他并发请求共享一次刷新，刷新成功后重放原请求一次，刷新被拒绝时登出本地身份。
//
// 基本使用：
//
//	gw, _ := authgw.New(&authgw.Config{BaseURL: "http://localhost:3000/api"},
//		authgw.WithLogger(logger), authgw.WithIdentityStore(store))
//	resp, err := gw.Execute(ctx, "/protests", nil)
//	list, err := authgw.Do[[]Protest](ctx, gw, "/protests", nil)
package authgw

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/metrics"
	"github.com/ceyewan/modlink/xerrors"
)

const (
	tracerName = "github.com/ceyewan/modlink/authgw"
	refreshKey = "refresh"

	// HeaderRequestID 每个出站请求携带的请求 ID
	HeaderRequestID = "X-Request-ID"
)

// Request 单次调用的参数，nil 等价于 GET 无参数
type Request struct {
	Method string
	Query  url.Values
	Header http.Header
	// Body 非 nil 时编码为 JSON；[]byte 与 json.RawMessage 原样发送
	Body any
}

// Response 成功响应
type Response struct {
	Status int
	Header http.Header
	// Body 解析后的 JSON，空响应或非 JSON 时为 {}
	Body json.RawMessage
}

// Decode 把响应体解码到 v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return xerrors.Wrap(err, "decode response body")
	}
	return nil
}

// Gateway 认证网关，可并发使用
type Gateway struct {
	cfg    Config
	client *http.Client
	jar    http.CookieJar
	store  IdentityStore
	logger clog.Logger
	tracer trace.Tracer

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*rawResponse]

	flight    singleflight.Group
	refreshes atomic.Int64

	httpMetrics *metrics.HTTPClientMetrics
	requests    metrics.Counter
	duration    metrics.Histogram
	refreshTot  metrics.Counter
}

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

// errServerStatus 让 5xx 响应计入熔断失败，随后被还原为普通响应
var errServerStatus = xerrors.New("authgw: server error status")

// New 创建认证网关
func New(cfg *Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   c.Timeout,
		}
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, xerrors.Wrap(err, "create cookie jar")
		}
		client.Jar = jar
	}

	g := &Gateway{
		cfg:    c,
		client: client,
		jar:    client.Jar,
		store:  o.store,
		logger: o.logger.With(clog.String("base_url", c.BaseURL)),
		tracer: otel.Tracer(tracerName),
	}

	if c.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(c.RateLimit), c.RateBurst)
	}
	if c.Breaker.Enabled {
		g.breaker = g.newBreaker()
	}

	httpMetrics, err := metrics.NewHTTPClientMetrics(o.meter, metrics.DefaultHTTPClientMetricsConfig("authgw"))
	if err != nil {
		g.logger.Warn("http client metrics disabled", clog.Error(err))
	}
	g.httpMetrics = httpMetrics
	g.requests = metrics.NewCounter(o.meter, MetricRequests, "Number of gateway calls by outcome")
	g.duration = metrics.NewHistogram(o.meter, MetricRequestDuration, "Gateway call duration including refresh and retry",
		metrics.WithUnit("s"))
	g.refreshTot = metrics.NewCounter(o.meter, MetricRefresh, "Number of refresh flights by result")
	return g, nil
}

func (g *Gateway) newBreaker() *gobreaker.CircuitBreaker[*rawResponse] {
	bc := g.cfg.Breaker
	return gobreaker.NewCircuitBreaker[*rawResponse](gobreaker.Settings{
		Name:        "authgw",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinimumRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// 调用方取消不算后端故障
			return err == nil || xerrors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("circuit breaker state changed",
				clog.String("from", from.String()), clog.String("to", to.String()))
		},
	})
}

// Jar 返回凭据所在的 Cookie Jar，WebSocket 握手应共享同一个 Jar
func (g *Gateway) Jar() http.CookieJar { return g.jar }

// RefreshCount 返回已发起的刷新次数
func (g *Gateway) RefreshCount() int64 { return g.refreshes.Load() }

// Execute 发起一次认证请求。
//
// 响应为 401 且 endpoint 不是登录/刷新/登出路径时，加入（或发起）唯一的刷新；
// 刷新成功后原请求重放一次，重放再次 401 按普通错误返回。
// 刷新被拒绝时本地身份已登出，返回 ErrSessionExpired。
func (g *Gateway) Execute(ctx context.Context, endpoint string, req *Request) (*Response, error) {
	if req == nil {
		req = &Request{}
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	route := routeOf(endpoint)

	ctx, span := g.tracer.Start(ctx, "authgw "+method+" "+route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.request.method", method), attribute.String("url.path", route)))
	defer span.End()

	start := time.Now()
	resp, err := g.execute(ctx, method, endpoint, req)
	status := 0
	if resp != nil {
		status = resp.Status
	}
	var apiErr *APIError
	if xerrors.As(err, &apiErr) {
		status = apiErr.Status
	}
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	labels := []metrics.Label{
		metrics.L(metrics.LabelMethod, method),
		metrics.L(metrics.LabelRoute, route),
		metrics.L(metrics.LabelOutcome, outcome),
	}
	g.requests.Inc(ctx, labels...)
	g.duration.Record(ctx, time.Since(start).Seconds(), labels...)
	return resp, err
}

func (g *Gateway) execute(ctx context.Context, method, endpoint string, req *Request) (*Response, error) {
	payload, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	raw, err := g.send(ctx, method, endpoint, req, payload)
	if err != nil {
		return nil, err
	}

	if raw.status == http.StatusUnauthorized && g.refreshable(endpoint) {
		g.logger.Debug("unauthorized, joining refresh", clog.String("endpoint", routeOf(endpoint)))
		if err := g.refresh(ctx); err != nil {
			return nil, err
		}
		raw, err = g.send(ctx, method, endpoint, req, payload)
		if err != nil {
			return nil, err
		}
	}

	if raw.status < 200 || raw.status > 299 {
		return nil, newAPIError(raw.status, raw.body)
	}
	return &Response{Status: raw.status, Header: raw.header, Body: normalizeBody(raw.body)}, nil
}

// refreshable 认证相关路径本身返回 401 时不触发刷新
func (g *Gateway) refreshable(endpoint string) bool {
	switch routeOf(endpoint) {
	case g.cfg.RefreshPath, g.cfg.LoginPath, g.cfg.LogoutPath:
		return false
	}
	return true
}

// refresh 加入或发起刷新。调用方可因自身 ctx 取消提前离开，刷新本身不受影响。
func (g *Gateway) refresh(ctx context.Context) error {
	ch := g.flight.DoChan(refreshKey, func() (any, error) {
		return nil, g.runRefresh()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) runRefresh() error {
	g.refreshes.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.RefreshTimeout)
	defer cancel()
	ctx, span := g.tracer.Start(ctx, "authgw refresh")
	defer span.End()

	raw, err := g.send(ctx, http.MethodPost, g.cfg.RefreshPath, &Request{}, nil)
	if err != nil {
		g.refreshTot.Inc(ctx, metrics.L(LabelResult, ResultFailed))
		g.logger.Warn("session refresh failed", clog.Error(err))
		span.RecordError(err)
		return xerrors.Join(ErrRefreshFailed, err)
	}
	if raw.status >= 200 && raw.status <= 299 {
		g.refreshTot.Inc(ctx, metrics.L(LabelResult, ResultRefreshed))
		g.logger.Info("session refreshed")
		return nil
	}

	g.refreshTot.Inc(ctx, metrics.L(LabelResult, ResultExpired))
	g.logger.Warn("session refresh rejected, logging out", clog.Int("status", raw.status))
	span.SetStatus(codes.Error, "refresh rejected")
	if g.store != nil {
		if err := g.store.Logout(ctx); err != nil {
			g.logger.Error("identity logout failed", clog.Error(err))
		}
	}
	return ErrSessionExpired
}

// send 完成一次 HTTP 往返（含限流与熔断），只有网络层失败才返回 error
func (g *Gateway) send(ctx context.Context, method, endpoint string, req *Request, payload []byte) (*rawResponse, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, xerrors.Wrap(err, "rate limit wait")
		}
	}

	if g.breaker == nil {
		return g.roundTrip(ctx, method, endpoint, req, payload)
	}
	raw, err := g.breaker.Execute(func() (*rawResponse, error) {
		raw, err := g.roundTrip(ctx, method, endpoint, req, payload)
		if err == nil && raw.status >= 500 {
			return raw, errServerStatus
		}
		return raw, err
	})
	switch {
	case err == nil:
		return raw, nil
	case xerrors.Is(err, errServerStatus):
		return raw, nil
	case xerrors.Is(err, gobreaker.ErrOpenState), xerrors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, xerrors.Wrap(ErrCircuitOpen, err.Error())
	default:
		return nil, err
	}
}

func (g *Gateway) roundTrip(ctx context.Context, method, endpoint string, req *Request, payload []byte) (*rawResponse, error) {
	target, err := g.resolve(endpoint, req.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, xerrors.Wrap(err, "build request")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if payload != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if httpReq.Header.Get(HeaderRequestID) == "" {
		httpReq.Header.Set(HeaderRequestID, uuid.NewString())
	}

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.httpMetrics.Observe(ctx, method, routeOf(endpoint), 0, time.Since(start))
		return nil, xerrors.Wrapf(err, "%s %s", method, routeOf(endpoint))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	g.httpMetrics.Observe(ctx, method, routeOf(endpoint), resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, xerrors.Wrap(err, "read response body")
	}

	g.logger.Debug("request completed",
		clog.String("method", method),
		clog.String("endpoint", routeOf(endpoint)),
		clog.Int("status", resp.StatusCode),
		clog.String("request_id", httpReq.Header.Get(HeaderRequestID)))
	return &rawResponse{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func (g *Gateway) resolve(endpoint string, query url.Values) (string, error) {
	u, err := url.Parse(g.cfg.BaseURL + endpoint)
	if err != nil {
		return "", xerrors.Wrapf(err, "invalid endpoint %q", endpoint)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// LoginResult 登录响应
type LoginResult struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user"`
}

// Login 用邮箱密码登录，凭据 Cookie 写入 Jar
func (g *Gateway) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	resp, err := g.Execute(ctx, g.cfg.LoginPath, &Request{
		Method: http.MethodPost,
		Body:   map[string]string{"email": email, "password": password},
	})
	if err != nil {
		return nil, err
	}
	var out LoginResult
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	g.logger.Info("logged in", clog.String("email", email))
	return &out, nil
}

// Logout 通知后端登出并清除本地身份。后端失败不影响本地登出。
func (g *Gateway) Logout(ctx context.Context) error {
	_, remoteErr := g.Execute(ctx, g.cfg.LogoutPath, &Request{Method: http.MethodPost})
	if remoteErr != nil {
		g.logger.Warn("backend logout failed", clog.Error(remoteErr))
	}
	var localErr error
	if g.store != nil {
		localErr = g.store.Logout(ctx)
	}
	return xerrors.Combine(remoteErr, localErr)
}

// Do 执行请求并把响应体解码为 T
func Do[T any](ctx context.Context, g *Gateway, endpoint string, req *Request) (T, error) {
	var out T
	resp, err := g.Execute(ctx, endpoint, req)
	if err != nil {
		return out, err
	}
	err = resp.Decode(&out)
	return out, err
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, xerrors.Wrap(err, "encode request body")
		}
		return data, nil
	}
}

func normalizeBody(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}

func routeOf(endpoint string) string {
	if i := strings.IndexAny(endpoint, "?#"); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
