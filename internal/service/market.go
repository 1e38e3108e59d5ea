package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/markcheno/go-talib"

	"alertflow/conf"
	"alertflow/internal/model"
	"alertflow/pkg/errors"
	"alertflow/pkg/errors/ecode"
)

// MarketProvider 行情快照数据源
type MarketProvider interface {
	GetSnapshot(ctx context.Context, symbol string) (*model.MarketSnapshot, error)
}

// HTTPMarketProvider 基于 OKX 风格公共 REST API 的行情源，
// RSI 由最近收盘价序列在本地计算
type HTTPMarketProvider struct {
	baseURL   string
	client    *http.Client
	rsiPeriod int
}

func NewHTTPMarketProvider(cfg *conf.MarketConfig) *HTTPMarketProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	period := cfg.RsiPeriod
	if period <= 0 {
		period = 14
	}
	return &HTTPMarketProvider{
		baseURL:   cfg.BaseURL,
		client:    &http.Client{Timeout: timeout},
		rsiPeriod: period,
	}
}

// ticker 接口返回的单条行情
type tickerData struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	Open24h   string `json:"open24h"`
	VolCcy24h string `json:"volCcy24h"`
	Ts        string `json:"ts"`
}

type tickerResp struct {
	Code string       `json:"code"`
	Data []tickerData `json:"data"`
}

type candleResp struct {
	Code string     `json:"code"`
	Data [][]string `json:"data"`
}

func (p *HTTPMarketProvider) GetSnapshot(ctx context.Context, symbol string) (*model.MarketSnapshot, error) {
	tk, err := p.fetchTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}

	snap := &model.MarketSnapshot{
		Symbol:     symbol,
		Indicators: map[string]float64{},
		Timestamp:  time.Now(),
	}
	snap.Price, _ = strconv.ParseFloat(tk.Last, 64)
	snap.Volume, _ = strconv.ParseFloat(tk.VolCcy24h, 64)
	if open, err := strconv.ParseFloat(tk.Open24h, 64); err == nil && open > 0 {
		snap.ChangePercent = (snap.Price - open) / open * 100
	}
	if ms, err := strconv.ParseInt(tk.Ts, 10, 64); err == nil && ms > 0 {
		snap.Timestamp = time.UnixMilli(ms)
	}

	// RSI 失败不致命，评估侧有缺省值兜底
	if rsi, err := p.fetchRSI(ctx, symbol); err == nil {
		snap.Indicators["rsi"] = rsi
	}
	return snap, nil
}

func (p *HTTPMarketProvider) fetchTicker(ctx context.Context, symbol string) (*tickerData, error) {
	var resp tickerResp
	u := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", p.baseURL, url.QueryEscape(symbol))
	if err := p.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "0" || len(resp.Data) == 0 {
		return nil, errors.WithCode(ecode.NotFoundErr, "no ticker for %s", symbol)
	}
	return &resp.Data[0], nil
}

// fetchRSI 取最近收盘价并计算 RSI
func (p *HTTPMarketProvider) fetchRSI(ctx context.Context, symbol string) (float64, error) {
	var resp candleResp
	limit := p.rsiPeriod*3 + 1
	u := fmt.Sprintf("%s/api/v5/market/candles?instId=%s&bar=1H&limit=%d",
		p.baseURL, url.QueryEscape(symbol), limit)
	if err := p.getJSON(ctx, u, &resp); err != nil {
		return 0, err
	}
	if len(resp.Data) < p.rsiPeriod+1 {
		return 0, errors.WithCode(ecode.NotFoundErr, "not enough candles for %s", symbol)
	}

	// 接口按时间倒序返回，talib 要求正序
	closes := make([]float64, 0, len(resp.Data))
	for i := len(resp.Data) - 1; i >= 0; i-- {
		row := resp.Data[i]
		if len(row) < 5 {
			continue
		}
		c, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			continue
		}
		closes = append(closes, c)
	}
	if len(closes) < p.rsiPeriod+1 {
		return 0, errors.WithCode(ecode.NotFoundErr, "not enough closes for %s", symbol)
	}

	rsi := talib.Rsi(closes, p.rsiPeriod)
	return rsi[len(rsi)-1], nil
}

func (p *HTTPMarketProvider) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.WithCode(ecode.Unknown, "market api status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
