package api_test

import (
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meyrevived/mpc-dev-studio/internal/daemon/api"
)

var _ = Describe("Router", func() {
	var router *http.ServeMux

	BeforeEach(func() {
		router = api.NewRouter(api.NewHandlers(&MockOrchestrator{}, &MockChecker{}))
	})

	serve := func(method, path string) *httptest.ResponseRecorder {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(method, path, nil))
		return recorder
	}

	It("should route every registered endpoint", func() {
		routes := []struct {
			method string
			path   string
			status int
		}{
			{http.MethodGet, "/api/status", http.StatusOK},
			{http.MethodGet, "/api/prerequisites", http.StatusOK},
			{http.MethodGet, "/api/cluster/status", http.StatusOK},
			{http.MethodPost, "/api/cluster/start", http.StatusAccepted},
			{http.MethodPost, "/api/cluster/stop", http.StatusAccepted},
			{http.MethodPost, "/api/rebuild", http.StatusAccepted},
			{http.MethodPost, "/api/smoke-test", http.StatusAccepted},
			{http.MethodPost, "/api/mpc/deploy", http.StatusAccepted},
			{http.MethodPost, "/api/metrics/deploy", http.StatusAccepted},
			{http.MethodPost, "/api/git/sync", http.StatusAccepted},
		}

		for _, route := range routes {
			recorder := serve(route.method, route.path)
			Expect(recorder.Code).To(Equal(route.status),
				"unexpected status for %s %s", route.method, route.path)
		}
	})

	It("should return 404 for unknown paths", func() {
		Expect(serve(http.MethodGet, "/api/nope").Code).To(Equal(http.StatusNotFound))
	})

	It("should enforce methods per endpoint", func() {
		Expect(serve(http.MethodPost, "/api/status").Code).To(Equal(http.StatusMethodNotAllowed))
		Expect(serve(http.MethodGet, "/api/rebuild").Code).To(Equal(http.StatusMethodNotAllowed))
	})
})
