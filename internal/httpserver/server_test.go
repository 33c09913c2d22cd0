package httpserver_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/mesh-gateway/internal/httpserver"
)

var _ = Describe("HTTP Server", func() {
	noop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	Context("server creation", func() {
		DescribeTable("address validation",
			func(addr string, valid bool) {
				srv, err := httpserver.New(addr, noop)
				if valid {
					Expect(err).NotTo(HaveOccurred())
					Expect(srv.Addr()).To(Equal(addr))
				} else {
					Expect(err).To(HaveOccurred())
					Expect(srv).To(BeNil())
				}
			},
			Entry("hostname", "localhost:9999", true),
			Entry("IP address", "127.0.0.1:9999", true),
			Entry("port only", ":3000", true),
			Entry("too many colons", "invalid:host:port", false),
			Entry("missing port", "localhost", false),
			Entry("empty port", "localhost:", false),
			Entry("non-numeric port", "localhost:http", false),
			Entry("bad host", "bad_host!:80", false),
		)
	})

	Context("server lifecycle", func() {
		var (
			testServer *httpserver.Server
			listener   net.Listener
		)

		BeforeEach(func() {
			var err error
			listener, err = net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			if testServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
				defer cancel()
				_ = testServer.Shutdown(ctx)
			}
		})

		It("starts and handles requests", func() {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("test"))
			})
			var err error
			testServer, err = httpserver.New(listener.Addr().String(), handler)
			Expect(err).NotTo(HaveOccurred())

			go testServer.Serve(listener)

			resp, err := http.Get("http://" + listener.Addr().String())
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("test"))
		})

		It("shuts down gracefully", func() {
			var err error
			testServer, err = httpserver.New(listener.Addr().String(), noop)
			Expect(err).NotTo(HaveOccurred())

			served := make(chan error, 1)
			go func() { served <- testServer.Serve(listener) }()

			Eventually(func() error {
				resp, err := http.Get("http://" + listener.Addr().String())
				if err == nil {
					resp.Body.Close()
				}
				return err
			}).Should(Succeed())

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			Expect(testServer.Shutdown(ctx)).To(Succeed())
			Eventually(served).Should(Receive(BeNil()))
		})
	})
})
