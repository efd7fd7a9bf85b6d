package race

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFirst_FastestSuccessWins(t *testing.T) {
	attempts := []Attempt[string]{
		{Label: "slow", Run: func(ctx context.Context) (string, error) {
			select {
			case <-time.After(time.Second):
				return "slow", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}},
		{Label: "fast", Run: func(ctx context.Context) (string, error) {
			return "fast", nil
		}},
	}

	start := time.Now()
	res, err := First(context.Background(), attempts)
	if err != nil {
		t.Fatalf("First failed: %v", err)
	}
	if res.Label != "fast" || res.Value != "fast" {
		t.Errorf("expected fast winner, got %+v", res)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("loser was not cancelled promptly")
	}
}

func TestFirst_FailureFallsThroughToSuccess(t *testing.T) {
	attempts := []Attempt[int]{
		{Label: "broken", Run: func(ctx context.Context) (int, error) {
			return 0, errors.New("down")
		}},
		{Label: "ok", Run: func(ctx context.Context) (int, error) {
			time.Sleep(10 * time.Millisecond)
			return 9, nil
		}},
	}

	res, err := First(context.Background(), attempts)
	if err != nil {
		t.Fatalf("First failed: %v", err)
	}
	if res.Label != "ok" || res.Value != 9 {
		t.Errorf("expected ok winner, got %+v", res)
	}
}

func TestFirst_AllFailJoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	errB := errors.New("b down")
	attempts := []Attempt[int]{
		{Label: "a", Run: func(ctx context.Context) (int, error) { return 0, errA }},
		{Label: "b", Run: func(ctx context.Context) (int, error) { return 0, errB }},
	}

	_, err := First(context.Background(), attempts)
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("joined error missing causes: %v", err)
	}
}

func TestFirst_NoAttempts(t *testing.T) {
	if _, err := First[int](context.Background(), nil); err == nil {
		t.Fatal("expected error for empty attempt set")
	}
}
