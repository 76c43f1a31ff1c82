package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	dedupe "github.com/Khushwant-Singh1/HackOps/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When an event id is recorded twice", func() {
			d := dedupe.NewInMemoryDeduper()
			first := d.SeenAndRecord(ctx, "evt-assignment-1")
			second := d.SeenAndRecord(ctx, "evt-assignment-1")

			Convey("Then only the second call reports it as seen", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a failed delivery is unrecorded", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "evt-1")
			d.Unrecord(ctx, "evt-1")

			Convey("Then the id can be delivered again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "evt-1"), ShouldBeFalse)
			})

			Convey("Then unrecording an unknown id is harmless", func() {
				d.Unrecord(ctx, "nonexistent")
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When the bounded cache is full", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for _, id := range []string{"evt-1", "evt-2", "evt-3", "evt-4"} {
				So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
			}

			Convey("Then the oldest id is evicted first", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "evt-4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "evt-3"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "evt-1"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 3)
			})
		})

		Convey("When an unrecorded id sits in the middle of the order", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))
			d.SeenAndRecord(ctx, "evt-1")
			d.SeenAndRecord(ctx, "evt-2")
			d.Unrecord(ctx, "evt-1")
			d.SeenAndRecord(ctx, "evt-3")

			Convey("Then eviction skips the stale slot", func() {
				So(d.Size(), ShouldEqual, 2)
				So(d.SeenAndRecord(ctx, "evt-2"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "evt-3"), ShouldBeTrue)
			})
		})

		Convey("When the cache is unbounded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			for i := 0; i < 1000; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("evt-%d", i))
			}

			Convey("Then nothing is evicted", func() {
				So(d.Size(), ShouldEqual, 1000)
				So(d.SeenAndRecord(ctx, "evt-0"), ShouldBeTrue)
			})
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given a deduper shared by delivery workers", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(1000))
		const workers = 10
		const perWorker = 100

		Convey("When workers race on the same ids", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			fresh := 0
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < perWorker; j++ {
						if !d.SeenAndRecord(context.Background(), fmt.Sprintf("evt-%d", j)) {
							mu.Lock()
							fresh++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()

			Convey("Then each id is claimed exactly once", func() {
				So(fresh, ShouldEqual, perWorker)
				So(d.Size(), ShouldEqual, perWorker)
			})
		})
	})
}
