package base

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fzxiao233/VodFetch/utils"
	"github.com/fzxiao233/VodFetch/vod/interfaces"
	"go.uber.org/ratelimit"
)

const ApiTimeout = 30 * time.Second

type ResolverCtx struct {
	Client      *http.Client
	Limiter     ratelimit.Limiter
	ExtraConfig map[string]interface{}
}

func (c *ResolverCtx) mergeHeaders(header map[string]string) map[string]string {
	finalHeaders := make(map[string]string, 16)
	for k, v := range c.GetHeaders() {
		finalHeaders[k] = v
	}
	for k, v := range header {
		finalHeaders[k] = v
	}
	return finalHeaders
}

func (c *ResolverCtx) take() {
	if c.Limiter != nil {
		c.Limiter.Take()
	}
}

// HttpGet wraps the raw HttpGet with the configured extra headers and pacing
func (c *ResolverCtx) HttpGet(ctx context.Context, url string, header map[string]string) ([]byte, error) {
	c.take()
	return utils.HttpGet(ctx, c.Client, url, c.mergeHeaders(header))
}

func (c *ResolverCtx) HttpPut(ctx context.Context, url string, header map[string]string, data []byte) ([]byte, error) {
	c.take()
	return utils.HttpPut(ctx, c.Client, url, c.mergeHeaders(header), data)
}

type HeadersConfig struct {
	HttpHeaders map[string]string `mapstructure:"http_headers"`
}

func (c *ResolverCtx) GetHeaders() map[string]string {
	headerConfig := HeadersConfig{}
	_ = utils.MapToStruct(c.ExtraConfig, &headerConfig)
	return headerConfig.HttpHeaders
}

// Resolver maps one identifier to a manifest reference.
type Resolver interface {
	Resolve(ctx context.Context, video *interfaces.VideoInfo) (*interfaces.ResolvedTarget, error)
	GetCtx() *ResolverCtx
}

type BaseResolver struct {
	Ctx ResolverCtx
}

func (b *BaseResolver) GetCtx() *ResolverCtx {
	return &b.Ctx
}

// ParseProxy accepts host:port as well as full proxy URLs.
func ParseProxy(proxy string) (*url.URL, error) {
	if !strings.Contains(proxy, "://") {
		proxy = "http://" + proxy
	}
	return url.Parse(proxy)
}

// CreateHttpClient builds a client routed through proxy when set.
// timeout 0 means no overall deadline.
func CreateHttpClient(proxy string, timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: 60 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   8,
		DisableCompression:    true,
	}
	if proxy != "" {
		proxyUrl, err := ParseProxy(proxy)
		if err != nil {
			return nil, fmt.Errorf("bad proxy %s: %w", proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyUrl)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

func CreateResolverCtx(client *http.Client, apiRateLimit int, extraConfig map[string]interface{}) ResolverCtx {
	var limiter ratelimit.Limiter
	if apiRateLimit > 0 {
		limiter = ratelimit.New(apiRateLimit)
	} else {
		limiter = ratelimit.NewUnlimited()
	}
	return ResolverCtx{
		Client:      client,
		Limiter:     limiter,
		ExtraConfig: extraConfig,
	}
}

// WrapHttpErr classifies a remote call failure: 404 is ErrNotFound,
// anything else (status, transport, timeout) is ErrTransient.
func WrapHttpErr(what string, err error) error {
	var statusErr *utils.HttpStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w: %v", what, interfaces.ErrNotFound, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s timed out: %w: %v", what, interfaces.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w: %v", what, interfaces.ErrTransient, err)
}
