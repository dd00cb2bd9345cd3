package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyProject    = "project"
	KeyBuildID    = "build_id"
	KeyUniqueID   = "unique_id"
	KeyStep       = "step"
	KeyState      = "state"
	KeyStatus     = "status"
	KeyCommand    = "command"
	KeyQueueLen   = "queue_length"
	KeyDurationMS = "duration_ms"
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyHTTPStatus = "http_status"
	KeyUserAgent  = "user_agent"
	KeyRemoteAddr = "remote_addr"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Project(name string) slog.Attr    { return slog.String(KeyProject, name) }
func BuildID(id string) slog.Attr      { return slog.String(KeyBuildID, id) }
func UniqueID(id string) slog.Attr     { return slog.String(KeyUniqueID, id) }
func Step(n int) slog.Attr             { return slog.Int(KeyStep, n) }
func State(s string) slog.Attr         { return slog.String(KeyState, s) }
func Status(s string) slog.Attr        { return slog.String(KeyStatus, s) }
func Command(c string) slog.Attr       { return slog.String(KeyCommand, c) }
func QueueLength(n int) slog.Attr      { return slog.Int(KeyQueueLen, n) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func HTTPStatus(code int) slog.Attr    { return slog.Int(KeyHTTPStatus, code) }
func UserAgent(ua string) slog.Attr    { return slog.String(KeyUserAgent, ua) }
func RemoteAddr(addr string) slog.Attr { return slog.String(KeyRemoteAddr, addr) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
