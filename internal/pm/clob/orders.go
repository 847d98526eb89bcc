package clob

import (
	"context"
	"errors"
	"fmt"
)

type OrderKind string

const (
	GTC OrderKind = "GTC"
	GTD OrderKind = "GTD"
)

// OrderRequest is one order leg for the CLOB /order endpoint.
type OrderRequest struct {
	ClientID   string  `json:"client_order_id,omitempty"`
	TokenID    string  `json:"token_id"`
	Side       string  `json:"side"`
	Price      float64 `json:"price"`
	Size       float64 `json:"size"`
	Kind       string  `json:"order_type"`
	Expiration int64   `json:"expiration,omitempty"`
}

type OrderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderID"`
	Status  string `json:"status"`
	Error   string `json:"errorMsg"`
}

// PlaceOrder submits one order. GTD orders must carry an expiration.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	if OrderKind(req.Kind) == GTD && req.Expiration <= 0 {
		return OrderResponse{}, errors.New("clob: GTD order requires an expiration")
	}
	var resp OrderResponse
	if err := c.postSigned(ctx, "/order", req, &resp); err != nil {
		return OrderResponse{}, fmt.Errorf("place order: %w", err)
	}
	if !resp.Success {
		return resp, fmt.Errorf("place order rejected: %s", resp.Error)
	}
	return resp, nil
}
