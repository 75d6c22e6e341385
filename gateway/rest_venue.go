package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"exchange-connector-go/order"
)

// RESTVenue 通过REST接口实现 VenueAdapter。
// HTTPClient 可注入 httptest；默认不发起真实网络调用。
type RESTVenue struct {
	BaseURL    string
	APIKey     string
	Secret     string
	HTTPClient *http.Client
	Limiter    RateLimiter
	MaxRetries int
	RetryDelay time.Duration
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

type restPlaceResp struct {
	ExchangeOrderID string `json:"exchange_order_id"`
	TxHash          string `json:"creation_transaction_hash"`
}

type restBatchPlaceResp struct {
	Results []struct {
		ClientOrderID   string `json:"client_order_id"`
		ExchangeOrderID string `json:"exchange_order_id"`
		TxHash          string `json:"creation_transaction_hash"`
		Error           string `json:"error"`
	} `json:"results"`
}

type restBatchCancelResp struct {
	Results []struct {
		ClientOrderID string `json:"client_order_id"`
		NotFound      bool   `json:"not_found"`
		Error         string `json:"error"`
	} `json:"results"`
}

type restTxResp struct {
	OrderIDs []string `json:"order_ids"`
}

// PlaceOrder 提交单笔订单。
func (v *RESTVenue) PlaceOrder(ctx context.Context, o order.Order) order.PlaceResult {
	res := order.PlaceResult{ClientOrderID: o.ClientOrderID}

	body := map[string]string{
		"client_order_id": o.ClientOrderID,
		"trading_pair":    o.TradingPair,
		"side":            string(o.Side),
		"type":            string(o.Type),
		"price":           o.Price.String(),
		"amount":          o.Amount.String(),
	}
	var pr restPlaceResp
	if err := v.call(ctx, http.MethodPost, "/api/v1/orders", nil, body, &pr); err != nil {
		res.Err = err
		return res
	}
	res.ExchangeOrderID = pr.ExchangeOrderID
	if pr.TxHash != "" {
		res.Misc = map[string]interface{}{"creation_transaction_hash": pr.TxHash}
	}
	return res
}

// CancelOrder 撤销单笔订单。404 表示交易所不认识该订单。
func (v *RESTVenue) CancelOrder(ctx context.Context, o order.Order) order.CancelResult {
	res := order.CancelResult{ClientOrderID: o.ClientOrderID}
	query := map[string]string{"client_order_id": o.ClientOrderID}
	err := v.call(ctx, http.MethodDelete, "/api/v1/orders", query, nil, nil)
	if isNotFound(err) {
		res.NotFound = true
		return res
	}
	res.Err = err
	return res
}

// BatchPlace 批量下单，结果与入参一一对应。
// 整个批次的传输失败展开为逐单失败，调用方逐条隔离处理。
func (v *RESTVenue) BatchPlace(ctx context.Context, orders []order.Order) []order.PlaceResult {
	items := make([]map[string]string, 0, len(orders))
	for _, o := range orders {
		items = append(items, map[string]string{
			"client_order_id": o.ClientOrderID,
			"trading_pair":    o.TradingPair,
			"side":            string(o.Side),
			"type":            string(o.Type),
			"price":           o.Price.String(),
			"amount":          o.Amount.String(),
		})
	}
	var br restBatchPlaceResp
	if err := v.call(ctx, http.MethodPost, "/api/v1/orders/batch",
		nil, map[string]interface{}{"orders": items}, &br); err != nil {
		results := make([]order.PlaceResult, len(orders))
		for i, o := range orders {
			results[i] = order.PlaceResult{ClientOrderID: o.ClientOrderID, Err: err}
		}
		return results
	}

	byClientID := make(map[string]order.PlaceResult, len(br.Results))
	for _, r := range br.Results {
		pr := order.PlaceResult{
			ClientOrderID:   r.ClientOrderID,
			ExchangeOrderID: r.ExchangeOrderID,
		}
		if r.Error != "" {
			pr.Err = fmt.Errorf("venue rejected order: %s", r.Error)
		}
		if r.TxHash != "" {
			pr.Misc = map[string]interface{}{"creation_transaction_hash": r.TxHash}
		}
		byClientID[r.ClientOrderID] = pr
	}
	results := make([]order.PlaceResult, len(orders))
	for i, o := range orders {
		if pr, ok := byClientID[o.ClientOrderID]; ok {
			results[i] = pr
		} else {
			results[i] = order.PlaceResult{
				ClientOrderID: o.ClientOrderID,
				Err:           fmt.Errorf("order missing from batch response"),
			}
		}
	}
	return results
}

// BatchCancel 批量撤单，结果与入参一一对应。
func (v *RESTVenue) BatchCancel(ctx context.Context, orders []order.Order) []order.CancelResult {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ClientOrderID)
	}
	var br restBatchCancelResp
	if err := v.call(ctx, http.MethodPost, "/api/v1/orders/batch-cancel",
		nil, map[string]interface{}{"client_order_ids": ids}, &br); err != nil {
		results := make([]order.CancelResult, len(orders))
		for i, o := range orders {
			results[i] = order.CancelResult{ClientOrderID: o.ClientOrderID, Err: err}
		}
		return results
	}

	byClientID := make(map[string]order.CancelResult, len(br.Results))
	for _, r := range br.Results {
		cr := order.CancelResult{ClientOrderID: r.ClientOrderID, NotFound: r.NotFound}
		if r.Error != "" {
			cr.Err = fmt.Errorf("venue cancel error: %s", r.Error)
		}
		byClientID[r.ClientOrderID] = cr
	}
	results := make([]order.CancelResult, len(orders))
	for i, o := range orders {
		if cr, ok := byClientID[o.ClientOrderID]; ok {
			results[i] = cr
		} else {
			results[i] = order.CancelResult{
				ClientOrderID: o.ClientOrderID,
				Err:           fmt.Errorf("order missing from batch response"),
			}
		}
	}
	return results
}

// OrderStatus 查询单笔订单状态。响应与推送的 order_update 同构。
func (v *RESTVenue) OrderStatus(ctx context.Context, o order.Order) (order.Update, error) {
	var raw json.RawMessage
	query := map[string]string{"client_order_id": o.ClientOrderID}
	if o.ExchangeOrderID != "" {
		query["exchange_order_id"] = o.ExchangeOrderID
	}
	err := v.call(ctx, http.MethodGet, "/api/v1/orders/status", query, nil, &raw)
	if isNotFound(err) {
		return order.Update{}, ErrOrderNotFound
	}
	if err != nil {
		return order.Update{}, err
	}
	ev, err := parseOrderUpdate(raw)
	if err != nil {
		return order.Update{}, err
	}
	return *ev.OrderUpdate, nil
}

// Fills 查询 since 之后的成交。响应与推送的 trade 同构。
func (v *RESTVenue) Fills(ctx context.Context, orders []order.Order, since time.Time) ([]order.Fill, error) {
	query := map[string]string{
		"since_ms": strconv.FormatInt(since.UnixMilli(), 10),
	}
	var raw struct {
		Trades []json.RawMessage `json:"trades"`
	}
	if err := v.call(ctx, http.MethodGet, "/api/v1/fills", query, nil, &raw); err != nil {
		return nil, err
	}
	fills := make([]order.Fill, 0, len(raw.Trades))
	for _, t := range raw.Trades {
		ev, err := parseTrade(t)
		if err != nil {
			// 坏记录跳过，其余成交照常返回
			continue
		}
		fills = append(fills, *ev.Fill)
	}
	return fills, nil
}

// TransactionResult 查询结算交易包含的订单号集合。
// 404 映射为 ErrTxNotIncluded：交易还没被打包。
func (v *RESTVenue) TransactionResult(ctx context.Context, txHash string) (map[string]struct{}, error) {
	var tr restTxResp
	query := map[string]string{"tx_hash": txHash}
	err := v.call(ctx, http.MethodGet, "/api/v1/transactions", query, nil, &tr)
	if isNotFound(err) {
		return nil, ErrTxNotIncluded
	}
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(tr.OrderIDs))
	for _, id := range tr.OrderIDs {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// statusError 携带HTTP状态码，便于上层区分not-found与其他失败。
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("venue returned status %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusNotFound
}

// call 发送一次签名请求并解码JSON响应。5xx 按配置重试。
func (v *RESTVenue) call(ctx context.Context, method, path string,
	query map[string]string, body interface{}, out interface{}) error {
	if v.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if v.Limiter != nil {
		if err := v.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	attempts := v.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := v.RetryDelay
			if delay <= 0 {
				delay = 200 * time.Millisecond
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		retry, err := v.doOnce(ctx, method, path, query, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return lastErr
}

func (v *RESTVenue) doOnce(ctx context.Context, method, path string,
	query map[string]string, payload []byte, out interface{}) (retry bool, err error) {
	values := url.Values{}
	for k, q := range query {
		values.Set(k, q)
	}
	values.Set("ts", strconv.FormatInt(time.Now().UnixMilli(), 10))
	encoded := values.Encode()
	endpoint := v.BaseURL + path + "?" + encoded + "&signature=" + v.sign(encoded, payload)

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("X-API-KEY", v.APIKey)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		return resp.StatusCode >= 500, &statusError{code: resp.StatusCode, body: buf.String()}
	}
	if out == nil {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}

// sign 对 query+body 做 HMAC-SHA256 签名。
func (v *RESTVenue) sign(query string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write([]byte(query))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
