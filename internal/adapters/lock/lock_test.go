package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/lock"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLocalLocker(t *testing.T) {
	Convey("Given a local locker", t, func() {
		ctx := context.Background()
		l := lock.NewLocalLocker()

		Convey("When a key is taken", func() {
			release, err := l.TryLock(ctx, "spring-hack/1", time.Minute)
			So(err, ShouldBeNil)

			Convey("Then a second taker fails fast", func() {
				_, err := l.TryLock(ctx, "spring-hack/1", time.Minute)
				So(errors.Is(err, lock.ErrHeld), ShouldBeTrue)
			})

			Convey("Then other keys are independent", func() {
				other, err := l.TryLock(ctx, "spring-hack/2", time.Minute)
				So(err, ShouldBeNil)
				So(other(ctx), ShouldBeNil)
			})

			Convey("Then releasing frees the key and a double release is harmless", func() {
				So(release(ctx), ShouldBeNil)
				So(release(ctx), ShouldBeNil)
				So(l.Held("spring-hack/1"), ShouldBeFalse)
				again, err := l.TryLock(ctx, "spring-hack/1", time.Minute)
				So(err, ShouldBeNil)
				So(again(ctx), ShouldBeNil)
			})
		})

		Convey("When many goroutines race for one key", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			winners := 0
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := l.TryLock(ctx, "race", time.Minute); err == nil {
						mu.Lock()
						winners++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one wins", func() {
				So(winners, ShouldEqual, 1)
			})
		})
	})
}
