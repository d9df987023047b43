package messagebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	berr "github.com/next-trace/scg-edu-bus/contract/errors"
)

// Subscribe registers fn for every delivered E on E's topic. E must be a value type whose zero
// value answers Topic(). Payloads that fail to decode are logged and dropped.
func Subscribe[E cbus.IntegrationEvent](ctx context.Context, c *Client, subscriptionID string, fn func(ctx context.Context, evt E) error) (cbus.Subscription, error) {
	var zero E

	return c.SubscribeRaw(ctx, zero.Topic(), subscriptionID, func(dctx context.Context, d cbus.Delivery) error {
		var evt E
		if err := json.Unmarshal(d.Body, &evt); err != nil {
			c.logger.WarnContext(dctx, "dropping undecodable delivery",
				"module", "messagebus",
				"operation", "subscribe",
				"topic", d.Topic,
				"subscription", subscriptionID,
				"message_id", d.Headers[HeaderMessageID],
				"error", err,
			)

			return nil
		}

		return fn(dctx, evt)
	})
}

// Request sends req and decodes the correlated response into Resp.
func Request[Req cbus.IntegrationEvent, Resp any](ctx context.Context, c *Client, req Req) (Resp, error) {
	var resp Resp

	body, err := c.RequestRaw(ctx, req, cbus.PublishOptions{})
	if err != nil {
		return resp, err
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("messagebus decode %T response: %w", resp, errors.Join(berr.ErrSerializationFailed, err))
	}

	return resp, nil
}

// Respond registers fn as the responder for Req's topic. A responder error is returned to the
// transport, which drops the request; callers then observe a timeout.
func Respond[Req cbus.IntegrationEvent, Resp any](ctx context.Context, c *Client, fn func(ctx context.Context, req Req) (Resp, error)) (cbus.Subscription, error) {
	var zero Req

	return c.RespondRaw(ctx, zero.Topic(), func(dctx context.Context, d cbus.Delivery) ([]byte, error) {
		var req Req
		if err := json.Unmarshal(d.Body, &req); err != nil {
			return nil, fmt.Errorf("messagebus decode %T request: %w", req, errors.Join(berr.ErrSerializationFailed, err))
		}

		resp, err := fn(dctx, req)
		if err != nil {
			return nil, err
		}

		out, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("messagebus encode %T response: %w", resp, errors.Join(berr.ErrSerializationFailed, err))
		}

		return out, nil
	})
}
