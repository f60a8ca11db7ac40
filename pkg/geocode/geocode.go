package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"BeaconRelay/pkg/cache"
)

// Resolver 坐标到可读地址的解析器。尽力而为：失败返回 ("", false)，
// 绝不让调用方的主流程失败
type Resolver interface {
	Resolve(ctx context.Context, lat, lng float64) (string, bool)
}

// Disabled 永远解析失败的空实现（未配置API key时使用）
type Disabled struct{}

func (Disabled) Resolve(ctx context.Context, lat, lng float64) (string, bool) { return "", false }

// GoogleConfig Google逆地理编码配置
type GoogleConfig struct {
	APIKey  string
	BaseURL string        // 默认官方endpoint，测试时可覆盖
	Timeout time.Duration // 默认5秒
}

// GoogleResolver 调用Google Maps Geocoding API
type GoogleResolver struct {
	cfg    GoogleConfig
	client *http.Client
}

// NewGoogle 创建Google解析器；APIKey为空时返回Disabled
func NewGoogle(cfg GoogleConfig) Resolver {
	if cfg.APIKey == "" {
		return Disabled{}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://maps.googleapis.com/maps/api/geocode/json"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &GoogleResolver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type googleResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
	} `json:"results"`
}

func (g *GoogleResolver) Resolve(ctx context.Context, lat, lng float64) (string, bool) {
	endpoint := fmt.Sprintf("%s?latlng=%s&key=%s",
		g.cfg.BaseURL,
		url.QueryEscape(fmt.Sprintf("%f,%f", lat, lng)),
		url.QueryEscape(g.cfg.APIKey),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var body googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", false
	}
	if body.Status != "OK" || len(body.Results) == 0 {
		return "", false
	}
	return body.Results[0].FormattedAddress, true
}

// Cached 带缓存的解析器包装：按坐标（保留5位小数，约1米精度）作键
type Cached struct {
	inner Resolver
	cache cache.Cache
	ttl   time.Duration
}

// NewCached 包装解析器，命中缓存时不再外呼
func NewCached(inner Resolver, c cache.Cache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cached{inner: inner, cache: c, ttl: ttl}
}

func (c *Cached) Resolve(ctx context.Context, lat, lng float64) (string, bool) {
	key := fmt.Sprintf("geocode:%.5f,%.5f", lat, lng)

	if v, ok := c.cache.Get(ctx, key); ok {
		if addr, ok := v.(string); ok && addr != "" {
			return addr, true
		}
	}

	addr, ok := c.inner.Resolve(ctx, lat, lng)
	if !ok {
		return "", false
	}
	_ = c.cache.Set(ctx, key, addr, c.ttl)
	return addr, true
}
