package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Keys written by the loop.
const (
	KeyRunning         = "loop:running"
	KeyCyclesCompleted = "loop:cycles_completed"
	KeyLastHandoffAt   = "loop:last_handoff_at"
	KeyGoals           = "goals"
	KeyChatHistory     = "chat:history"
	keyTracePrefix     = "loop:trace:"
	keyNotePrefix      = "note:"
)

// TraceKey returns the key for the trace of cycle n.
func TraceKey(n int64) string {
	return keyTracePrefix + strconv.FormatInt(n, 10)
}

// NoteKey returns the key under which a handler stores a free-form note.
func NoteKey(name string) string {
	return keyNotePrefix + name
}

// PutJSON marshals v and stores it under key.
func PutJSON(ctx context.Context, s StateStore, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// GetJSON loads key into v. It returns found=false without error when the
// key does not exist.
func GetJSON(ctx context.Context, s StateStore, key string, v any) (bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidInput)
	}
	return nil
}
