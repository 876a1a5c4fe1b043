//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/stemsi/olpm-engine/internal/model"
)

const defaultBaseURL = "http://localhost:8080/api/v1"

// The flow runs against a live server wired to a real Assessment Repository.
// E2E_TEST_LINK must name a published test; E2E_TOKEN is sent as the bearer.
var (
	baseURL  string
	testLink string
	token    string
)

func TestMain(m *testing.M) {
	// Load .env if present (ignore error)
	_ = godotenv.Load("../../.env")

	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	testLink = os.Getenv("E2E_TEST_LINK")
	token = os.Getenv("E2E_TOKEN")
	if testLink == "" {
		fmt.Println("E2E_TEST_LINK not set, skipping e2e suite")
		os.Exit(0)
	}

	os.Exit(m.Run())
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func TestE2EFlow(t *testing.T) {
	var (
		attemptID string
		def       *model.TestDefinition
	)

	t.Run("CreateAttempt", func(t *testing.T) {
		var view model.AttemptView
		call(t, http.MethodPost, "/attempts", map[string]string{"link": testLink}, http.StatusCreated, &view)
		attemptID, def = view.AttemptID, view.Test
		if attemptID == "" || def == nil || len(def.Questions) == 0 {
			t.Fatalf("unexpected attempt view: %+v", view)
		}
		if view.Snapshot.Phase != model.PhaseNotStarted {
			t.Fatalf("phase %s, want NOT_STARTED", view.Snapshot.Phase)
		}
	})

	t.Run("Start", func(t *testing.T) {
		var snap model.Snapshot
		call(t, http.MethodPost, "/attempts/"+attemptID+"/start", nil, http.StatusOK, &snap)
		if snap.Phase != model.PhaseInProgress {
			t.Fatalf("phase %s, want IN_PROGRESS", snap.Phase)
		}
	})

	t.Run("AnswerFirstQuestion", func(t *testing.T) {
		body := map[string]string{"question_id": def.Questions[0].ID, "option": "A"}
		var snap model.Snapshot
		call(t, http.MethodPut, "/attempts/"+attemptID+"/answers", body, http.StatusOK, &snap)
		if snap.Answers[def.Questions[0].ID] != model.OptionA {
			t.Fatalf("answer not recorded: %+v", snap.Answers)
		}
	})

	t.Run("Countdown", func(t *testing.T) {
		var before, after model.Snapshot
		call(t, http.MethodGet, "/attempts/"+attemptID, nil, http.StatusOK, &before)
		time.Sleep(2200 * time.Millisecond)
		call(t, http.MethodGet, "/attempts/"+attemptID, nil, http.StatusOK, &after)
		if after.RemainingSeconds >= before.RemainingSeconds {
			t.Fatalf("countdown did not advance: %d -> %d", before.RemainingSeconds, after.RemainingSeconds)
		}
	})

	t.Run("SubmitOnce", func(t *testing.T) {
		var first, second model.SubmitView
		call(t, http.MethodPost, "/attempts/"+attemptID+"/submit", nil, http.StatusOK, &first)
		call(t, http.MethodPost, "/attempts/"+attemptID+"/submit", nil, http.StatusOK, &second)
		if first.AlreadySubmitted || !second.AlreadySubmitted {
			t.Fatalf("already_submitted flags: %v, %v", first.AlreadySubmitted, second.AlreadySubmitted)
		}
		if first.Result == nil || len(first.Result.Answers) != len(def.Questions) {
			t.Fatalf("unexpected result: %+v", first.Result)
		}
	})

	t.Run("CommandsAfterSubmitConflict", func(t *testing.T) {
		resp := do(t, http.MethodPost, "/attempts/"+attemptID+"/pause", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	t.Run("UnknownLink", func(t *testing.T) {
		resp := do(t, http.MethodPost, "/attempts", map[string]string{"link": "e2e-does-not-exist"})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})
}

func call(t *testing.T, method, path string, body interface{}, wantStatus int, out interface{}) {
	t.Helper()
	resp := do(t, method, path, body)
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: status %d: %s", method, path, resp.StatusCode, readBody(resp))
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}

func do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+path, bodyReader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
