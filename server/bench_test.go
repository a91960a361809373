package server_test

import (
	"context"
	"net"
	"testing"

	"rpcbridge/client"
	"rpcbridge/codec"
	"rpcbridge/server"
	"rpcbridge/transport"
)

func setupServerAndClient(b *testing.B, ct codec.CodecType) *client.Client {
	srv := server.NewServer()
	if err := srv.Register(&Arith{}); err != nil {
		b.Fatal(err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}
	go srv.Serve(lis)
	b.Cleanup(func() { _ = lis.Close() })

	c := client.New(transport.FramedDialer{Addr: lis.Addr().String()}, client.WithCodec(ct))
	if err := c.Connect(context.Background()); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = c.Disconnect() })
	return c
}

// One goroutine, calls in series.
func BenchmarkSerialCall(b *testing.B) {
	c := setupServerAndClient(b, codec.CodecTypeJSON)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var reply Reply
		if err := c.Call(ctx, "Arith.Add", &Args{A: i, B: 1}, &reply); err != nil {
			b.Fatal(err)
		}
	}
}

// Many goroutines multiplexed over one connection.
func BenchmarkParallelCall(b *testing.B) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		b.Run(ct.String(), func(b *testing.B) {
			c := setupServerAndClient(b, ct)
			ctx := context.Background()
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					var reply Reply
					if err := c.Call(ctx, "Arith.Add", &Args{A: 1, B: 1}, &reply); err != nil {
						b.Error(err)
						return
					}
				}
			})
		})
	}
}
