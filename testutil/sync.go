package testutil

import (
	"encoding/json"
	"testing"
	"time"
)

// WaitClosed fails the test unless done closes within timeout.
func WaitClosed(t testing.TB, done <-chan struct{}, timeout time.Duration) {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		t.Fatalf("channel not closed within %s", timeout)
	}
}

// MustParseJSON 解码 s，失败直接 panic；用于断言响应体
func MustParseJSON[T any](s string) T {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}
