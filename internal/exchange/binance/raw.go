package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"autoclose-bot/internal/exchange"

	"github.com/adshao/go-binance/v2/common"
)

const orderEndpoint = "/fapi/v1/order"

type rawOrderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
}

// PlaceRawOrder submits a MARKET order to the order endpoint directly,
// signing the request itself. The symbol is cleaned and the quantity
// formatted with the symbol's precision.
func (c *Client) PlaceRawOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderResponse, error) {
	symbol := exchange.CleanSymbol(req.Symbol)

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(exchange.OrderTypeMarket))
	params.Set("quantity", c.formatQuantity(ctx, symbol, req.Quantity))
	if req.PositionSide != "" {
		params.Set("positionSide", string(req.PositionSide))
	} else if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))

	payload := params.Encode()
	body := payload + "&signature=" + sign(c.cfg.SecretKey, payload)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.client.BaseURL, "/")+orderEndpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build raw order: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("raw order %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read raw order response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &common.APIError{}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Code == 0 {
			return nil, fmt.Errorf("raw order %s: http %d: %s", symbol, resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return nil, c.apiError("raw order "+symbol, apiErr)
	}

	var out rawOrderResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode raw order response: %w", err)
	}
	return &exchange.OrderResponse{
		OrderID: strconv.FormatInt(out.OrderID, 10),
		Status:  out.Status,
	}, nil
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
