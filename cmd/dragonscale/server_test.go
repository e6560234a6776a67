package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*httptest.Server, *runtime) {
	t.Helper()
	rt, err := buildRuntime(context.Background(), options{provider: "scripted"}, nil, nil)
	if err != nil {
		t.Fatalf("buildRuntime failed: %v", err)
	}
	t.Cleanup(rt.Close)
	ts := httptest.NewServer((&server{engine: rt.engine, gatherer: rt.metrics}).buildRouter())
	t.Cleanup(ts.Close)
	return ts, rt
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestServer_Health(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestServer_Parse(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/dsl/parse", parseRequest{DSL: `retrieve_screw(count=F("a few"), length=ASK("what length?"))`})
	defer resp.Body.Close()
	var got parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || got.Placeholders != 2 || got.Resolved {
		t.Errorf("unexpected response %d %+v", resp.StatusCode, got)
	}

	bad := postJSON(t, ts.URL+"/v1/dsl/parse", parseRequest{DSL: `retrieve_screw(count=`})
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", bad.StatusCode)
	}
}

func TestServer_SessionLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/sessions", sessionRequest{
		DSL:     `retrieve_screw(count=2, length=ASK("what length?"))`,
		Answers: []string{"12"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var started sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		r, err := http.Get(ts.URL + "/v1/sessions/" + started.ID)
		if err != nil {
			t.Fatal(err)
		}
		var got sessionResponse
		err = json.NewDecoder(r.Body).Decode(&got)
		r.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if got.Report != nil {
			if got.Report.Status != "SUCCESS" || len(got.Report.Results) != 1 {
				t.Errorf("unexpected report %+v", got.Report)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session did not finish, status %+v", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/"+started.ID, nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer del.Body.Close()
	var cancelled map[string]bool
	if err := json.NewDecoder(del.Body).Decode(&cancelled); err != nil || cancelled["cancelled"] {
		t.Errorf("a finished session cannot be cancelled: %v %v", cancelled, err)
	}

	missing, err := http.Get(ts.URL + "/v1/sessions/missing")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", missing.StatusCode)
	}
}

func TestServer_Metrics(t *testing.T) {
	ts, rt := newTestServer(t)
	s, err := rt.engine.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.RunDSL(context.Background(), `organize()`); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		var body bytes.Buffer
		body.ReadFrom(resp.Body)
		resp.Body.Close()
		if strings.Contains(body.String(), `dragonscale_intents_total{outcome="success",tool="organize"} 1`) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("intent metric not exported:\n%s", body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
