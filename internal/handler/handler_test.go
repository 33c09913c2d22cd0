package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/angeloszaimis/mesh-gateway/internal/backend"
	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/mesh-gateway/internal/dispatch"
	"github.com/angeloszaimis/mesh-gateway/internal/handler"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

var _ = Describe("GatewayHandler", func() {
	var (
		reg      *registry.Registry
		breakers *circuitbreaker.Table
		h        *handler.GatewayHandler
		users    *httptest.Server
		items    *httptest.Server
		lists    *httptest.Server
	)

	BeforeEach(func() {
		store, err := registry.OpenStore("", quietLogger())
		Expect(err).NotTo(HaveOccurred())
		reg = registry.New(store, nil, registry.CurrentIdentity(), quietLogger())
		breakers = circuitbreaker.NewTable(5, 30*time.Second)
		d := dispatch.New(reg, breakers, quietLogger(), dispatch.WithTimeout(time.Second))
		h = handler.NewGatewayHandler(quietLogger(), d, reg, breakers, handler.GatewayInfo{
			Address:     ":3000",
			Environment: "dev",
		})

		users = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodPost && r.URL.Path == "/auth/verify":
				var body map[string]string
				json.NewDecoder(r.Body).Decode(&body)
				if body["token"] != "good" {
					w.WriteHeader(http.StatusUnauthorized)
					w.Write([]byte(`{"error":"Invalid token"}`))
					return
				}
				w.Write([]byte(`{"valid":true,"user":{"id":"u-1"}}`))
			case r.URL.Path == "/users/u-1":
				w.Write([]byte(`{"id":"u-1","username":"alice"}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		items = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/search" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(`{"items":[{"name":"` + r.URL.Query().Get("q") + `","limit":"` + r.URL.Query().Get("limit") + `"}]}`))
		}))
		lists = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			switch r.URL.Path {
			case "/lists":
				w.Write([]byte(`{"limit":"` + r.URL.Query().Get("limit") + `","lists":[
					{"id":1,"name":"Weekly Groceries"},
					{"id":2,"name":"Party"},
					{"id":3,"name":"groceries backup"},
					{"id":4,"name":"More GROCERIES"}]}`))
			case "/stats":
				w.Write([]byte(`{"totalLists":4}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))

		registerServer(reg, backend.UserService, users)
		registerServer(reg, backend.ItemService, items)
		registerServer(reg, backend.ListService, lists)
	})

	AfterEach(func() {
		users.Close()
		items.Close()
		lists.Close()
	})

	do := func(hf http.HandlerFunc, method, target string, body []byte, header http.Header) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, bytes.NewReader(body))
		for k, v := range header {
			req.Header[k] = v
		}
		rec := httptest.NewRecorder()
		hf(rec, req)
		return rec
	}

	authed := http.Header{"Authorization": {"Bearer good"}}

	Describe("Dashboard", func() {
		It("should require an Authorization header", func() {
			rec := do(h.Dashboard, http.MethodGet, "/api/dashboard", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(gjson.Get(rec.Body.String(), "error").String()).To(Equal("Authorization header required"))
		})

		It("should combine every service", func() {
			rec := do(h.Dashboard, http.MethodGet, "/api/dashboard", nil, authed)
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := rec.Body.String()
			Expect(gjson.Get(body, "user.username").String()).To(Equal("alice"))
			Expect(gjson.Get(body, "recentLists.#").Int()).To(Equal(int64(4)))
			Expect(gjson.Get(body, "statistics.totalLists").Int()).To(Equal(int64(4)))
			Expect(gjson.Get(body, "errors").Raw).To(Equal("[]"))
			Expect(gjson.Get(body, "timestamp").Exists()).To(BeTrue())
		})

		It("should degrade a failing service to its empty value", func() {
			reg.Unregister(backend.ListService.String())

			rec := do(h.Dashboard, http.MethodGet, "/api/dashboard", nil, authed)
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := rec.Body.String()
			Expect(gjson.Get(body, "user.id").String()).To(Equal("u-1"))
			Expect(gjson.Get(body, "recentLists").Raw).To(Equal("[]"))
			Expect(gjson.Get(body, "statistics").Type).To(Equal(gjson.Null))
			Expect(gjson.Get(body, "errors.#.service").String()).To(Equal(`["list-service","stats"]`))
		})

		It("should report a rejected token without tripping the breaker", func() {
			rec := do(h.Dashboard, http.MethodGet, "/api/dashboard", nil, http.Header{"Authorization": {"Bearer bad"}})
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := rec.Body.String()
			Expect(gjson.Get(body, "user").Type).To(Equal(gjson.Null))
			Expect(gjson.Get(body, "errors.#").Int()).To(Equal(int64(1)))
			Expect(gjson.Get(body, "errors.0.service").String()).To(Equal("user-service"))
			Expect(breakers.Get(backend.UserService).Snapshot().FailureCount).To(BeZero())
		})
	})

	Describe("GlobalSearch", func() {
		DescribeTable("input validation",
			func(target string) {
				rec := do(h.GlobalSearch, http.MethodGet, target, nil, nil)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
			},
			Entry("missing query", "/api/global-search"),
			Entry("short query", "/api/global-search?q=a"),
			Entry("blank query", "/api/global-search?q=%20%20a%20"),
			Entry("zero limit", "/api/global-search?q=milk&limit=0"),
			Entry("negative limit", "/api/global-search?q=milk&limit=-3"),
			Entry("non-numeric limit", "/api/global-search?q=milk&limit=ten"),
		)

		It("should search items only when anonymous", func() {
			rec := do(h.GlobalSearch, http.MethodGet, "/api/global-search?q=milk", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := rec.Body.String()
			Expect(gjson.Get(body, "query").String()).To(Equal("milk"))
			Expect(gjson.Get(body, "items.0.name").String()).To(Equal("milk"))
			Expect(gjson.Get(body, "items.0.limit").String()).To(Equal("10"))
			Expect(gjson.Get(body, "lists").Raw).To(Equal("[]"))
			Expect(gjson.Get(body, "errors").Raw).To(Equal("[]"))
		})

		It("should filter lists by name when authenticated", func() {
			rec := do(h.GlobalSearch, http.MethodGet, "/api/global-search?q=Groceries&limit=2", nil, authed)
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := rec.Body.String()
			Expect(gjson.Get(body, "items.0.limit").String()).To(Equal("2"))
			Expect(gjson.Get(body, "lists.#.id").String()).To(Equal("[1,3]"))
		})

		It("should report a failing service and keep the other results", func() {
			items.Close()

			rec := do(h.GlobalSearch, http.MethodGet, "/api/global-search?q=party", nil, authed)
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := rec.Body.String()
			Expect(gjson.Get(body, "items").Raw).To(Equal("[]"))
			Expect(gjson.Get(body, "lists.#.name").String()).To(Equal(`["Party"]`))
			Expect(gjson.Get(body, "errors.#").Int()).To(Equal(int64(1)))
			Expect(gjson.Get(body, "errors.0.service").String()).To(Equal("item-service"))
		})
	})

	Describe("introspection", func() {
		It("should report the gateway, services and breakers in /health", func() {
			rec := do(h.Health, http.MethodGet, "/health", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := rec.Body.String()
			Expect(gjson.Get(body, "gateway.status").String()).To(Equal("healthy"))
			Expect(gjson.Get(body, "gateway.port").Int()).To(Equal(int64(3000)))
			Expect(gjson.Get(body, "services.#").Int()).To(Equal(int64(3)))
			Expect(gjson.Get(body, "circuitBreakers.#.serviceName").String()).
				To(Equal(`["user-service","item-service","list-service"]`))
		})

		It("should list the registry with a total", func() {
			rec := do(h.Registry, http.MethodGet, "/registry", nil, nil)
			body := rec.Body.String()

			Expect(gjson.Get(body, "total").Int()).To(Equal(int64(3)))
			Expect(gjson.Get(body, "services.0.name").String()).To(Equal("item-service"))
			Expect(gjson.Get(body, "services.0.url").String()).To(Equal(items.URL))
		})

		It("should expose breaker snapshots", func() {
			rec := do(h.CircuitBreakers, http.MethodGet, "/api/circuit-breakers", nil, nil)
			body := rec.Body.String()

			Expect(gjson.Get(body, "circuitBreakers.#").Int()).To(Equal(int64(3)))
			Expect(gjson.Get(body, "circuitBreakers.0.state").String()).To(Equal("CLOSED"))
			Expect(gjson.Get(body, "circuitBreakers.0.lastFailureTime").Type).To(Equal(gjson.Null))
		})

		It("should list the available routes when nothing matches", func() {
			rec := do(h.NotFound, http.MethodGet, "/nope", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(gjson.Get(rec.Body.String(), "error").String()).To(Equal("Endpoint not found"))
			Expect(gjson.Get(rec.Body.String(), "availableRoutes").Array()).To(ContainElement(
				HaveField("Str", "GET /health")))
		})
	})

	Describe("registry API", func() {
		withName := func(hf http.HandlerFunc, name string) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				r.SetPathValue("name", name)
				hf(w, r)
			}
		}

		It("should register with the caller's identity", func() {
			payload := `{"name":"notification-service","host":"localhost","port":3004,
				"metadata":{"version":"1.0.0"},"instance":"abc","pid":99}`
			rec := do(h.RegisterService, http.MethodPost, "/registry/services", []byte(payload), nil)
			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(gjson.Get(rec.Body.String(), "url").String()).To(Equal("http://localhost:3004"))

			stored, ok := reg.Discover("notification-service")
			Expect(ok).To(BeTrue())
			Expect(stored.Metadata).To(HaveKeyWithValue("version", "1.0.0"))
			Expect(stored.Metadata).To(HaveKeyWithValue(registry.MetaInstance, "abc"))
			Expect(stored.Metadata).To(HaveKeyWithValue(registry.MetaPID, "99"))
		})

		It("should never stamp remote registrations with the gateway identity", func() {
			payload := `{"name":"notification-service","host":"localhost","port":3004}`
			do(h.RegisterService, http.MethodPost, "/registry/services", []byte(payload), nil)

			stored, _ := reg.Discover("notification-service")
			Expect(stored.Metadata[registry.MetaInstance]).NotTo(BeEmpty())
			Expect(stored.Metadata[registry.MetaInstance]).NotTo(Equal(reg.Owner().Instance))
		})

		DescribeTable("rejecting invalid registrations",
			func(payload string) {
				rec := do(h.RegisterService, http.MethodPost, "/registry/services", []byte(payload), nil)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
			},
			Entry("not JSON", `{`),
			Entry("missing name", `{"host":"localhost","port":1}`),
			Entry("bad name", `{"name":"Bad Name","host":"localhost","port":1}`),
			Entry("missing host", `{"name":"svc","port":1}`),
			Entry("port out of range", `{"name":"svc","host":"localhost","port":70000}`),
		)

		It("should discover registered services", func() {
			rec := do(withName(h.DiscoverService, "item-service"), http.MethodGet, "/registry/services/item-service", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(gjson.Get(rec.Body.String(), "status").String()).To(Equal("healthy"))

			rec = do(withName(h.DiscoverService, "ghost"), http.MethodGet, "/registry/services/ghost", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("should accept heartbeats only from registered services", func() {
			rec := do(withName(h.Heartbeat, "item-service"), http.MethodPut, "/registry/services/item-service/heartbeat", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(gjson.Get(rec.Body.String(), "status").String()).To(Equal("healthy"))

			rec = do(withName(h.Heartbeat, "ghost"), http.MethodPut, "/registry/services/ghost/heartbeat", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			_, ok := reg.Discover("ghost")
			Expect(ok).To(BeFalse())
		})

		It("should unregister services", func() {
			rec := do(withName(h.UnregisterService, "item-service"), http.MethodDelete, "/registry/services/item-service", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusNoContent))

			rec = do(withName(h.UnregisterService, "item-service"), http.MethodDelete, "/registry/services/item-service", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(strings.Contains(rec.Body.String(), "Service not registered")).To(BeTrue())
		})
	})
})
