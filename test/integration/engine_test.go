package integration

import (
	"net/http"
	"testing"
)

type engineStatusJSON struct {
	State        string `json:"state"`
	Backend      string `json:"backend"`
	Model        string `json:"model"`
	LastError    string `json:"last_error"`
	LoadAttempts int    `json:"load_attempts"`
}

func TestEngineStatus(t *testing.T) {
	resp := getURL(t, testEnv.BaseURL()+"/v1/engine")
	var st engineStatusJSON
	decodeJSON(t, resp, &st)
	if st.State != "ready" {
		t.Errorf("state = %q, want ready", st.State)
	}
	if st.Model != "mock-model" {
		t.Errorf("model = %q, want mock-model", st.Model)
	}
}

func TestEngineInitIsIdempotent(t *testing.T) {
	before := engineStatusJSON{}
	decodeJSON(t, getURL(t, testEnv.BaseURL()+"/v1/engine"), &before)

	resp := postJSON(t, testEnv.BaseURL()+"/v1/engine/init", nil)
	events := parseSSEEvents(t, resp)
	if len(events) == 0 || events[len(events)-1].Event != "ready" {
		t.Fatalf("events = %v, want ready", eventNames(events))
	}

	after := engineStatusJSON{}
	decodeJSON(t, getURL(t, testEnv.BaseURL()+"/v1/engine"), &after)
	if after.LoadAttempts != before.LoadAttempts {
		t.Errorf("load attempts %d -> %d, a ready engine must not reload", before.LoadAttempts, after.LoadAttempts)
	}
}

// TestEngineLifecycle runs a fresh server through not-ready, load with
// progress, and chat.
func TestEngineLifecycle(t *testing.T) {
	a, srv, err := newServer(testConfig(testEnv.MockBackend.URL))
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	defer a.Close()
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/chat", chatBody("Hi"), "application/json")
	var ej errorJSON
	decodeJSON(t, resp, &ej)
	if resp.StatusCode != http.StatusServiceUnavailable || ej.Error.Type != "engine_unavailable" {
		t.Errorf("chat before init = %d %+v, want 503 engine_unavailable", resp.StatusCode, ej.Error)
	}

	resp = getURL(t, srv.URL+"/readyz")
	readBody(t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz before init = %d, want 503", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/v1/engine/init", nil)
	events := parseSSEEvents(t, resp)
	if len(events) < 2 {
		t.Fatalf("events = %v, want progress then ready", eventNames(events))
	}
	if events[0].Event != "progress" {
		t.Errorf("first event = %q, want progress", events[0].Event)
	}
	last := events[len(events)-1]
	if last.Event != "ready" {
		t.Fatalf("last event = %q, want ready", last.Event)
	}
	var st engineStatusJSON
	last.decode(t, &st)
	if st.State != "ready" || st.LoadAttempts != 1 {
		t.Errorf("status = %+v", st)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/chat", chatBody("Hi"), "application/json")
	var final finalJSON
	decodeJSON(t, resp, &final)
	if final.Message.Content != "Hello, nice day!" {
		t.Errorf("chat after init = %q", final.Message.Content)
	}
}

// TestEngineInitFailureIsRetryable points a server at a model the backend
// does not serve.
func TestEngineInitFailureIsRetryable(t *testing.T) {
	cfg := testConfig(testEnv.MockBackend.URL)
	cfg.Engine.Model = "missing-model"
	a, srv, err := newServer(cfg)
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	defer a.Close()
	defer srv.Close()

	for attempt := 1; attempt <= 2; attempt++ {
		resp := doJSON(t, http.MethodPost, srv.URL+"/v1/engine/init", nil, "application/json")
		var ej errorJSON
		decodeJSON(t, resp, &ej)
		if resp.StatusCode == http.StatusOK {
			t.Fatalf("attempt %d: init succeeded for a missing model", attempt)
		}
		if ej.Error.Type != "model_error" {
			t.Errorf("attempt %d: error type = %q, want model_error", attempt, ej.Error.Type)
		}
	}

	var st engineStatusJSON
	decodeJSON(t, getURL(t, srv.URL+"/v1/engine"), &st)
	if st.State != "absent" || st.LoadAttempts != 2 || st.LastError == "" {
		t.Errorf("status = %+v, want absent after 2 failed attempts", st)
	}
}
