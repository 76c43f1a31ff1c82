package site

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSiteHandler(t *testing.T) {
	Convey("Given a registered site", t, func() {
		mux := http.NewServeMux()
		Register(context.Background(), mux)

		get := func(path string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
			return w
		}

		Convey("Then the root serves the landing page", func() {
			w := get("/")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldContainSubstring, "text/html")
			So(w.Body.String(), ShouldContainSubstring, "/api-docs")
		})

		Convey("Then assets are served under /site", func() {
			w := get("/site/style.css")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldContainSubstring, "text/css")
		})

		Convey("Then other paths are left alone", func() {
			So(get("/v1/unknown").Code, ShouldEqual, http.StatusNotFound)
		})
	})

	Convey("Given a nil mux", t, func() {
		So(func() { Register(context.Background(), nil) }, ShouldPanic)
	})
}
