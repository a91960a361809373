// Package greeter is the demo service served by the bridge: one unary and one streaming method.
package greeter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"rpcbridge/server"
)

// DefaultCount is the number of messages StreamMessages sends when the request asks for none.
const DefaultCount = 5

type HelloRequest struct {
	Name string `json:"name"`
}

type HelloReply struct {
	Message string `json:"message"`
}

type StreamRequest struct {
	Message string `json:"message"`
	Count   int32  `json:"count"`
}

type StreamReply struct {
	Message string `json:"message"`
	Index   int32  `json:"index"`
}

// Greeter is registered with server.RegisterName("", ...) so its methods are called by bare
// name, e.g. "SayHello".
type Greeter struct {
	logger   *zap.Logger
	interval time.Duration // Pause between stream items
}

func New(logger *zap.Logger, interval time.Duration) *Greeter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Greeter{logger: logger, interval: interval}
}

func (g *Greeter) SayHello(ctx context.Context, req *HelloRequest, reply *HelloReply) error {
	g.logger.Debug("say hello", zap.String("name", req.Name))
	reply.Message = "Hello " + req.Name
	return nil
}

// StreamMessages sends Count items (DefaultCount when Count <= 0) indexed from 1.
func (g *Greeter) StreamMessages(ctx context.Context, req *StreamRequest, stream *server.Stream) error {
	count := req.Count
	if count <= 0 {
		count = DefaultCount
	}
	g.logger.Debug("stream messages", zap.String("message", req.Message), zap.Int32("count", count))

	for i := int32(1); i <= count; i++ {
		if i > 1 && g.interval > 0 {
			select {
			case <-time.After(g.interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := stream.Send(&StreamReply{Message: req.Message, Index: i}); err != nil {
			return err
		}
	}
	return nil
}
