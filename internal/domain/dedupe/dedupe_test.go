package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/credrank/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSeenAndRecord(t *testing.T) {
	ctx := context.Background()

	Convey("Given a fresh deduper", t, func() {
		d := dedupe.New()

		Convey("Then the first sighting records and the second reports seen", func() {
			So(d.SeenAndRecord(ctx, "cand-1"), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, "cand-1"), ShouldBeTrue)
			So(d.Size(), ShouldEqual, 1)
		})

		Convey("And unrecording lets an id through again", func() {
			So(d.SeenAndRecord(ctx, "cand-1"), ShouldBeFalse)
			d.Unrecord(ctx, "cand-1")
			So(d.SeenAndRecord(ctx, "cand-1"), ShouldBeFalse)
		})
	})
}

func TestBoundedEviction(t *testing.T) {
	ctx := context.Background()

	Convey("Given a deduper bounded to 3 ids", t, func() {
		d := dedupe.New(dedupe.WithMaxSize(3))
		for i := 0; i < 4; i++ {
			So(d.SeenAndRecord(ctx, fmt.Sprintf("cand-%d", i)), ShouldBeFalse)
		}

		Convey("Then the oldest id was evicted and is accepted again", func() {
			So(d.Size(), ShouldEqual, 3)
			So(d.SeenAndRecord(ctx, "cand-0"), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, "cand-3"), ShouldBeTrue)
		})
	})
}

func TestUnboundedMode(t *testing.T) {
	ctx := context.Background()

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.New(dedupe.WithMaxSize(0))
		for i := 0; i < 100; i++ {
			So(d.SeenAndRecord(ctx, fmt.Sprintf("cand-%d", i)), ShouldBeFalse)
		}

		Convey("Then nothing is evicted", func() {
			So(d.Size(), ShouldEqual, 100)
			So(d.SeenAndRecord(ctx, "cand-0"), ShouldBeTrue)
		})
	})
}

func TestConcurrentRecording(t *testing.T) {
	ctx := context.Background()

	Convey("Given many goroutines racing on the same id", t, func() {
		d := dedupe.New()
		const goroutines = 32

		var wg sync.WaitGroup
		var mu sync.Mutex
		recorded := 0
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !d.SeenAndRecord(ctx, "cand-1") {
					mu.Lock()
					recorded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one wins the record", func() {
			So(recorded, ShouldEqual, 1)
			So(d.Size(), ShouldEqual, 1)
		})
	})
}
