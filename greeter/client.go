package greeter

import (
	"context"
	"encoding/json"

	"rpcbridge/client"
)

// Client is a typed wrapper for calling the greeter through a bridge client.
type Client struct {
	c *client.Client
}

func NewClient(c *client.Client) *Client {
	return &Client{c: c}
}

func (gc *Client) SayHello(ctx context.Context, name string) (string, error) {
	var reply HelloReply
	if err := gc.c.Call(ctx, "SayHello", &HelloRequest{Name: name}, &reply); err != nil {
		return "", err
	}
	return reply.Message, nil
}

// StreamMessages delivers each item to onReply and blocks until the stream ends, fails, or ctx
// ends. An item that does not decode stops the stream with the decode error.
func (gc *Client) StreamMessages(ctx context.Context, message string, count int32, onReply func(*StreamReply)) error {
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	failed := false

	cancel, err := gc.c.Stream("StreamMessages", &StreamRequest{Message: message, Count: count}, client.StreamHandler{
		OnChunk: func(p json.RawMessage) {
			if failed {
				return
			}
			var reply StreamReply
			if err := json.Unmarshal(p, &reply); err != nil {
				failed = true
				finish(err)
				return
			}
			onReply(&reply)
		},
		OnError: finish,
		OnEnd:   func() { finish(nil) },
	})
	if err != nil {
		return err
	}
	defer cancel()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
