package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Khushwant-Singh1/HackOps/pkg/tracing"
	. "github.com/smartystreets/goconvey/convey"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup(t *testing.T) {
	Convey("Given no endpoint", t, func() {
		shutdown, err := tracing.Setup(context.Background(), "", "hackops")

		Convey("Then setup is a no-op", func() {
			So(err, ShouldBeNil)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			So(shutdown(ctx), ShouldBeNil)
		})
	})

	Convey("Given an unreachable endpoint", t, func() {
		shutdown, err := tracing.Setup(context.Background(), "http://192.0.2.1:4318", "hackops")

		Convey("Then the provider still shuts down cleanly", func() {
			So(err, ShouldBeNil)
			So(shutdown(context.Background()), ShouldBeNil)
		})
	})
}

func TestEnd(t *testing.T) {
	Convey("Given a recording provider", t, func() {
		rec := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
		prev := otel.GetTracerProvider()
		otel.SetTracerProvider(tp)
		defer otel.SetTracerProvider(prev)

		Convey("When a span ends with an error", func() {
			_, span := tracing.Start(context.Background(), "normalize")
			tracing.End(span, errors.New("stale version"))

			Convey("Then the error status is recorded", func() {
				ended := rec.Ended()
				So(len(ended), ShouldEqual, 1)
				So(ended[0].Name(), ShouldEqual, "normalize")
				So(ended[0].Status().Code, ShouldEqual, codes.Error)
			})
		})
	})
}
