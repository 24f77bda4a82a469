package context

import (
	stdctx "context"
	"errors"
	"testing"
	"time"
)

func TestDebugCallback(t *testing.T) {
	var got []string
	ctx := WithDebugCallback(stdctx.Background(), func(msg string) {
		got = append(got, msg)
	})

	Debug(ctx, "hello")
	Debug(stdctx.Background(), "dropped")

	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("expected one message, got %v", got)
	}

	if _, ok := GetDebugCallback(stdctx.Background()); ok {
		t.Error("expected no callback on a bare context")
	}
}

func TestRetryObserver(t *testing.T) {
	if _, ok := GetRetryObserver(stdctx.Background()); ok {
		t.Error("expected no observer on a bare context")
	}

	var attempts []int
	ctx := WithRetryObserver(stdctx.Background(), func(attempt int, delay time.Duration, err error) {
		attempts = append(attempts, attempt)
	})

	obs, ok := GetRetryObserver(ctx)
	if !ok {
		t.Fatal("expected observer")
	}
	obs(1, time.Second, errors.New("boom"))
	if len(attempts) != 1 || attempts[0] != 1 {
		t.Errorf("unexpected attempts %v", attempts)
	}

	if _, ok := GetRetryObserver(WithRetryObserver(stdctx.Background(), nil)); ok {
		t.Error("nil observer should not be reported")
	}
}
