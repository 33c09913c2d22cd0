package dispatch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/mesh-gateway/internal/backend"
	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/mesh-gateway/internal/dispatch"
)

var _ = Describe("FanOut", func() {
	var (
		dispatcher *dispatch.Dispatcher
		users      *httptest.Server
		lists      *httptest.Server
	)

	BeforeEach(func() {
		reg := newRegistry()
		dispatcher = dispatch.New(reg, circuitbreaker.NewTable(3, time.Minute), quietLogger())

		users = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(50 * time.Millisecond)
			w.Write([]byte(`{"user":"alice"}`))
		}))
		lists = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(50 * time.Millisecond)
			w.Write([]byte(`{"lists":[]}`))
		}))
		registerServer(reg, backend.UserService, users)
		registerServer(reg, backend.ListService, lists)
	})

	AfterEach(func() {
		users.Close()
		lists.Close()
	})

	get := func(path string) func(ctx context.Context, base *url.URL) ([]byte, error) {
		return func(ctx context.Context, base *url.URL) ([]byte, error) {
			return dispatcher.Client().Get(ctx, base, path, nil, nil)
		}
	}

	It("should return every success and one error entry for the failed service", func() {
		outcomes := dispatcher.FanOut(context.Background(),
			dispatch.Request{Service: backend.UserService, Run: get("/users/1")},
			dispatch.Request{Service: backend.ItemService, Run: get("/items")},
			dispatch.Request{Service: backend.ListService, Label: "stats", Run: get("/stats")},
		)

		Expect(outcomes).To(HaveLen(3))
		Expect(outcomes[0].OK()).To(BeTrue())
		Expect(string(outcomes[0].Body)).To(Equal(`{"user":"alice"}`))
		Expect(outcomes[1].OK()).To(BeFalse())
		Expect(outcomes[2].OK()).To(BeTrue())
		Expect(outcomes[2].Label).To(Equal("stats"))

		Expect(dispatch.Errors(outcomes)).To(Equal([]dispatch.ErrorEntry{{
			Service: "item-service",
			Error:   "item-service is not available: not registered",
		}}))
	})

	It("should run the calls concurrently", func() {
		start := time.Now()
		dispatcher.FanOut(context.Background(),
			dispatch.Request{Service: backend.UserService, Run: get("/a")},
			dispatch.Request{Service: backend.UserService, Run: get("/b")},
			dispatch.Request{Service: backend.ListService, Run: get("/c")},
			dispatch.Request{Service: backend.ListService, Run: get("/d")},
		)
		Expect(time.Since(start)).To(BeNumerically("<", 180*time.Millisecond))
	})

	It("should wait for every call even when one fails fast", func() {
		var finished atomic.Int32
		outcomes := dispatcher.FanOut(context.Background(),
			dispatch.Request{Service: backend.ItemService, Run: get("/items")},
			dispatch.Request{Service: backend.UserService, Run: func(ctx context.Context, base *url.URL) ([]byte, error) {
				body, err := get("/users/1")(ctx, base)
				finished.Add(1)
				return body, err
			}},
		)
		Expect(finished.Load()).To(Equal(int32(1)))
		Expect(outcomes[1].OK()).To(BeTrue())
	})

	It("should return empty error lists as empty slices", func() {
		Expect(dispatch.Errors(nil)).To(BeEmpty())
		Expect(dispatch.Errors(nil)).NotTo(BeNil())
	})
})
