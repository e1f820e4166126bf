package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// poster sends JSON bodies to the REST gateway and returns the raw reply.
type poster struct {
	baseURL string
	http    *http.Client
}

func newPoster(baseURL string, timeout time.Duration) *poster {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &poster{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (p *poster) post(ctx context.Context, path string, body any) (gjson.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return gjson.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > 2048 {
			data = data[:2048]
		}
		return gjson.Result{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("invalid json from %s", path)
	}
	return gjson.ParseBytes(data), nil
}

func (p *poster) info(ctx context.Context, body any) (gjson.Result, error) {
	return p.post(ctx, "/info", body)
}

type userRequest struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type candleRequest struct {
	Type string           `json:"type"`
	Req  candleRequestReq `json:"req"`
}

type candleRequestReq struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

type assetInfo struct {
	Index      int
	SzDecimals int32
}

func parseMeta(res gjson.Result) map[string]assetInfo {
	out := make(map[string]assetInfo)
	for i, entry := range res.Get("universe").Array() {
		name := entry.Get("name").String()
		if name == "" {
			continue
		}
		out[name] = assetInfo{Index: i, SzDecimals: int32(entry.Get("szDecimals").Int())}
	}
	return out
}
