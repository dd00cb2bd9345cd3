package resolver

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/build"
)

func TestCommandPayloadExpansion(t *testing.T) {
	payload := map[string]any{"job": "A", "count": float64(3)}
	out := Command("deploy ${payload}", payload)

	if !strings.HasPrefix(out, "deploy ") {
		t.Fatalf("unexpected output: %s", out)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(strings.TrimPrefix(out, "deploy ")), &decoded); err != nil {
		t.Fatalf("expanded payload is not valid JSON: %v", err)
	}
	if decoded["job"] != "A" {
		t.Errorf("expected job A, got %v", decoded["job"])
	}
}

func TestCommandTimestampExpansion(t *testing.T) {
	out := Command("echo ${timestamp}", nil)
	stamp := strings.TrimPrefix(out, "echo ")
	if _, err := time.Parse(time.RFC3339, stamp); err != nil {
		t.Errorf("expected RFC3339 timestamp, got %q: %v", stamp, err)
	}
}

func TestCommandLeavesOtherTokensAlone(t *testing.T) {
	out := Command("echo $HOME %status%", map[string]any{"HOME": "x"})
	if out != "echo $HOME %status%" {
		t.Errorf("command resolution must not touch variable tokens, got %q", out)
	}
}

func TestVariable(t *testing.T) {
	t.Setenv("BR_RESOLVER_ENV", "from-env")
	payload := map[string]any{
		"branch":          "main",
		"BR_RESOLVER_GAP": "from-payload",
		"retries":         float64(2),
		"flag":            true,
		"nothing":         nil,
	}

	cases := []struct {
		name     string
		variable string
		want     string
	}{
		{"status literal", "%status%", "queued"},
		{"socket token", "%socket_token%", "tok123"},
		{"env wins", "$BR_RESOLVER_ENV", "from-env"},
		{"payload fallback for dollar", "$BR_RESOLVER_GAP", "from-payload"},
		{"dollar miss is empty", "$BR_RESOLVER_MISSING", ""},
		{"bare key hit", "branch", "main"},
		{"bare key number", "retries", "2"},
		{"bare key bool", "flag", "true"},
		{"bare null is empty", "nothing", ""},
		{"bare miss stays verbatim", "unset_key", "unset_key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Variable(tc.variable, payload, "tok123"); got != tc.want {
				t.Errorf("Variable(%q) = %q, want %q", tc.variable, got, tc.want)
			}
		})
	}
}

func TestWebhookURL(t *testing.T) {
	payload := map[string]any{"job": "A"}
	result := &build.Result{
		ID:          "b1",
		ProjectName: "p",
		Status:      build.StatusFailed,
	}

	out := WebhookURL("https://hooks.example/notify?r=${result}&p=${payload}&s=%status%", payload, result, "tok")
	if !strings.Contains(out, `"id":"b1"`) {
		t.Errorf("expected result JSON in URL, got %s", out)
	}
	if !strings.Contains(out, `"job":"A"`) {
		t.Errorf("expected payload JSON in URL, got %s", out)
	}
	if !strings.Contains(out, "s=failed") {
		t.Errorf("expected terminal status in URL, got %s", out)
	}
}

func TestCoerceComposite(t *testing.T) {
	got := Coerce(map[string]any{"a": float64(1)})
	if got != `{"a":1}` {
		t.Errorf("expected JSON fallback, got %q", got)
	}
}
