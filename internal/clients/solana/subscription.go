package solana

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var errSubscriptionUnavailable = errors.New("signature subscription unavailable")

func isSubscriptionUnavailable(err error) bool {
	return errors.Is(err, errSubscriptionUnavailable)
}

// confirmBySubscription waits for a signatureNotification on the websocket
// endpoint. Dial and subscribe failures wrap errSubscriptionUnavailable so
// the caller can fall back to polling.
func (c *Client) confirmBySubscription(ctx context.Context, signature string) error {
	conn, _, err := websocket.Dial(ctx, c.opts.WebsocketURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %w", errSubscriptionUnavailable, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	req := c.newRequest("signatureSubscribe", signature, map[string]any{"commitment": c.opts.Commitment})
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return fmt.Errorf("%w: subscribe: %w", errSubscriptionUnavailable, err)
	}

	subscribed := false
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("confirmation of %s did not complete: %w", signature, ctx.Err())
			}
			return fmt.Errorf("%w: read: %w", errSubscriptionUnavailable, err)
		}

		msg := gjson.ParseBytes(data)

		if rpcErr := msg.Get("error"); rpcErr.Exists() && rpcErr.Type != gjson.Null {
			return fmt.Errorf("%w: %w", errSubscriptionUnavailable, &RPCError{
				Code:    rpcErr.Get("code").Int(),
				Message: rpcErr.Get("message").String(),
			})
		}

		if !subscribed && msg.Get("id").Uint() == req.ID {
			subscribed = true
			c.log.Debug().Str("signature", signature).Int64("subscription", msg.Get("result").Int()).Msg("Subscribed to signature")

			// The transaction may have landed before the subscription existed.
			if done, err := c.signatureStatus(ctx, signature); err != nil {
				var txErr *TransactionError
				if errors.As(err, &txErr) {
					return err
				}
			} else if done {
				return nil
			}
			continue
		}

		if msg.Get("method").String() != "signatureNotification" {
			continue
		}
		if txErr := msg.Get("params.result.value.err"); txErr.Exists() && txErr.Type != gjson.Null {
			return &TransactionError{Signature: signature, Detail: txErr.Raw}
		}
		return nil
	}
}
