package gateway

import (
	"context"
	"log"
)

// Console is a development driver that prints deliveries instead of sending
// them. Every token succeeds.
type Console struct{}

func NewConsole() *Console {
	return &Console{}
}

func (c *Console) SendBatch(ctx context.Context, tokens []string, payload Payload) (*Result, error) {
	res := &Result{}
	for _, token := range tokens {
		log.Printf("[console gateway] token=%s title=%q body=%q", token, payload.Title, payload.Body)
		res.Success++
		res.Tokens = append(res.Tokens, TokenResult{Token: token, Delivered: true})
	}
	return res, nil
}
