package bus

import (
	"context"
	"fmt"
	"testing"
)

func benchmarkFanOut(b *testing.B, handlers int) {
	builder := NewBuilder()
	sink := 0
	for i := 0; i < handlers; i++ {
		builder.Subscribe(KindSendPushNotification, fmt.Sprintf("h%d", i),
			func(context.Context, Delivery) error {
				sink++
				return nil
			})
	}
	dispatcher := builder.Freeze(nil, nil)
	ctx := context.Background()
	payload := SendPushNotification{UserID: "u1", Title: "t", Body: "b"}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		dispatcher.Publish(ctx, payload)
	}
	_ = sink
}

func BenchmarkFanOut_1(b *testing.B)   { benchmarkFanOut(b, 1) }
func BenchmarkFanOut_10(b *testing.B)  { benchmarkFanOut(b, 10) }
func BenchmarkFanOut_100(b *testing.B) { benchmarkFanOut(b, 100) }
