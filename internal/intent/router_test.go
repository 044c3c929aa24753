package intent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxbridge/voxbridge/internal/llmengine"
)

func newChatOllamaStub(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/chat" {
			fmt.Fprintf(w, `{"message":{"content":%q},"done":false}`+"\n", reply)
			fmt.Fprint(w, `{"message":{"content":""},"done":true}`+"\n")
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
}

func TestRouterHandleDeviceBranch(t *testing.T) {
	esp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer esp.Close()

	router := NewRouter(NewDeviceRelay(esp.URL), NewSensorProbe(esp.URL), nil, llmengine.NewClient("http://unused", "m"))
	reply, err := router.Handle(context.Background(), "turn on the kitchen light", nil)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if reply.Branch != BranchDevice {
		t.Fatalf("branch = %q, want device", reply.Branch)
	}
}

func TestRouterHandleSensorBranch(t *testing.T) {
	esp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"temperature_c":20,"humidity":40}`))
	}))
	defer esp.Close()

	router := NewRouter(NewDeviceRelay(esp.URL), NewSensorProbe(esp.URL), nil, llmengine.NewClient("http://unused", "m"))
	reply, err := router.Handle(context.Background(), "what is the temperature", nil)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if reply.Branch != BranchSensor {
		t.Fatalf("branch = %q, want sensor", reply.Branch)
	}
}

func TestRouterHandleFreeformCleanReply(t *testing.T) {
	llmSrv := newChatOllamaStub(t, "It is a sunny day.")
	defer llmSrv.Close()

	router := NewRouter(NewDeviceRelay("http://unused"), NewSensorProbe("http://unused"), nil, llmengine.NewClient(llmSrv.URL, "m"))
	reply, err := router.Handle(context.Background(), "what is the weather like", nil)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if reply.Branch != BranchFreeform {
		t.Fatalf("branch = %q, want freeform", reply.Branch)
	}
	if reply.Text != "It is a sunny day." {
		t.Fatalf("text = %q", reply.Text)
	}
}

func TestRouterHandleFreeformSanitizesResidualViolations(t *testing.T) {
	llmSrv := newChatOllamaStub(t, "**Sure!** Here is the weather 🌤️ today")
	defer llmSrv.Close()

	router := NewRouter(NewDeviceRelay("http://unused"), NewSensorProbe("http://unused"), nil, llmengine.NewClient(llmSrv.URL, "m"), WithRuleGuard(200, 3, 0))
	reply, err := router.Handle(context.Background(), "what is the weather like", nil)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if reply.Text != "Sure! Here is the weather today." {
		t.Fatalf("text = %q", reply.Text)
	}
}
