package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit totals downloaded bytes with a custom sink.
func ExampleHub_Emit() {
	var total int64
	hub := NewHub(Config{MaxBatchEvents: 1}, sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			total += evt.Bytes
		}
		return nil
	}))

	hub.Emit(Event{
		RunID:       UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000002")),
		TS:          time.Unix(0, 0),
		Stage:       StageFetchDone,
		Site:        "example",
		StatusClass: Status2xx,
		Bytes:       512,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("bytes downloaded: %d\n", total)
	// Output:
	// bytes downloaded: 512
}
