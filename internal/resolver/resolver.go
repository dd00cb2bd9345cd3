// Package resolver expands the placeholder tokens used in command templates,
// webhook URLs, and response return-fields. Resolution is pure and total:
// missing values yield empty strings, never errors. No shell escaping is
// performed; command templates are trusted as written.
package resolver

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/build"
)

// Command expands a command template. Only the literal tokens ${payload}
// (JSON serialization of the full payload) and ${timestamp} (RFC3339 now)
// are substituted here.
func Command(template string, payload map[string]any) string {
	out := strings.ReplaceAll(template, "${payload}", payloadJSON(payload))
	out = strings.ReplaceAll(out, "${timestamp}", time.Now().UTC().Format(time.RFC3339))
	return out
}

// Variable expands a return-field or webhook-URL variable:
//
//	%status%        the literal "queued" (submit-time status)
//	%socket_token%  the build's socket token
//	$NAME           env NAME if set, else payload[NAME] coerced, else ""
//	anything else   payload[variable] coerced, else the variable unchanged
func Variable(variable string, payload map[string]any, socketToken string) string {
	switch {
	case variable == "%status%":
		return "queued"
	case variable == "%socket_token%":
		return socketToken
	case strings.HasPrefix(variable, "$"):
		name := variable[1:]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if v, ok := payload[name]; ok {
			return Coerce(v)
		}
		return ""
	default:
		if v, ok := payload[variable]; ok {
			return Coerce(v)
		}
		return variable
	}
}

// WebhookURL expands a webhook URL template. In addition to the Variable
// tokens it supports ${payload} and ${result} (full JSON of the BuildResult).
func WebhookURL(template string, payload map[string]any, result *build.Result, socketToken string) string {
	out := strings.ReplaceAll(template, "${payload}", payloadJSON(payload))
	if result != nil {
		if data, err := json.Marshal(result); err == nil {
			out = strings.ReplaceAll(out, "${result}", string(data))
		}
	}
	out = strings.ReplaceAll(out, "%status%", string(statusOf(result)))
	out = strings.ReplaceAll(out, "%socket_token%", socketToken)
	return out
}

func statusOf(result *build.Result) build.Status {
	if result == nil {
		return build.StatusQueued
	}
	return result.Status
}

// Coerce converts a decoded JSON payload value to its string form. Strings
// pass through, numbers and booleans print naturally, null and absent values
// become empty, and composites fall back to their JSON encoding.
func Coerce(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func payloadJSON(payload map[string]any) string {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}
