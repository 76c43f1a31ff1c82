package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func event(id string) Event {
	return model.DomainEvent{ID: id, Type: model.EventAssignmentCreated, EventID: "hack", Round: 1}
}

func TestInMemoryQueue(t *testing.T) {
	Convey("Given a queue with capacity two", t, func() {
		ctx := context.Background()
		q := NewInMemoryQueue(WithCapacity(2))

		Convey("Events come out in order", func() {
			So(q.Enqueue(ctx, event("e1")), ShouldBeTrue)
			So(q.Enqueue(ctx, event("e2")), ShouldBeTrue)
			So(q.Len(ctx), ShouldEqual, 2)

			out := q.Dequeue(ctx)
			So((<-out).ID, ShouldEqual, "e1")
			So((<-out).ID, ShouldEqual, "e2")
			So(q.Len(ctx), ShouldEqual, 0)
		})

		Convey("A full queue refuses without blocking", func() {
			q.Enqueue(ctx, event("e1"))
			q.Enqueue(ctx, event("e2"))
			So(q.Enqueue(ctx, event("e3")), ShouldBeFalse)
		})

		Convey("A cancelled context refuses", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			So(q.Enqueue(cctx, event("e1")), ShouldBeFalse)
		})

		Convey("Closing keeps queued events readable", func() {
			q.Enqueue(ctx, event("e1"))
			So(q.Close(), ShouldBeNil)
			So(q.Close(), ShouldBeNil)
			So(q.IsClosed(), ShouldBeTrue)
			So(q.Enqueue(ctx, event("e2")), ShouldBeFalse)

			var got []string
			for e := range q.Dequeue(ctx) {
				got = append(got, e.ID)
			}
			So(got, ShouldResemble, []string{"e1"})
		})
	})
}

func TestInMemoryQueueConcurrentProducers(t *testing.T) {
	Convey("Concurrent producers never exceed capacity", t, func() {
		ctx := context.Background()
		q := NewInMemoryQueue(WithCapacity(50))
		var wg sync.WaitGroup
		var mu sync.Mutex
		accepted := 0
		for p := 0; p < 10; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					if q.Enqueue(ctx, event(fmt.Sprintf("e%d-%d", p, i))) {
						mu.Lock()
						accepted++
						mu.Unlock()
					}
				}
			}(p)
		}
		wg.Wait()
		So(accepted, ShouldEqual, 50)
		So(q.Len(ctx), ShouldEqual, 50)
	})
}
