package delivery_test

import (
	"testing"
	"time"

	"github.com/xraph/courier/delivery"
)

func TestRetrierDecide(t *testing.T) {
	retrier := delivery.NewRetrier(nil)

	tests := []struct {
		name     string
		result   delivery.Result
		attempts int
		want     delivery.Decision
	}{
		{"200 OK → Delivered", delivery.Result{StatusCode: 200}, 1, delivery.Delivered},
		{"204 No Content → Delivered", delivery.Result{StatusCode: 204}, 1, delivery.Delivered},
		{"299 → Delivered", delivery.Result{StatusCode: 299}, 6, delivery.Delivered},
		{"301 → Retry", delivery.Result{StatusCode: 301}, 1, delivery.Retry},
		{"410 Gone → Retry", delivery.Result{StatusCode: 410}, 1, delivery.Retry},
		{"429 → Retry", delivery.Result{StatusCode: 429}, 2, delivery.Retry},
		{"500 → Retry", delivery.Result{StatusCode: 500}, 5, delivery.Retry},
		{"transport error → Retry", delivery.Result{Error: "connection refused"}, 1, delivery.Retry},
		{"500 on 6th attempt → Dead", delivery.Result{StatusCode: 500}, 6, delivery.Dead},
		{"timeout on 6th attempt → Dead", delivery.Result{Error: "timeout"}, 6, delivery.Dead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retrier.Decide(tt.result, tt.attempts); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetrierDefaultSchedule(t *testing.T) {
	retrier := delivery.NewRetrier(nil)

	want := []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute, 2 * time.Hour, 12 * time.Hour}
	for i, w := range want {
		got, ok := retrier.Delay(i + 1)
		if !ok || got != w {
			t.Fatalf("attempt %d: got %v (%v), want %v", i+1, got, ok, w)
		}
	}
	if _, ok := retrier.Delay(6); ok {
		t.Fatal("schedule should be exhausted after 5 retries")
	}
	if _, ok := retrier.Delay(0); ok {
		t.Fatal("attempt 0 has no delay")
	}
	if retrier.MaxAttempts() != 6 {
		t.Fatalf("expected 6 max attempts, got %d", retrier.MaxAttempts())
	}
}

func TestRetrierCustomSchedule(t *testing.T) {
	retrier := delivery.NewRetrier([]time.Duration{time.Second})

	if got := retrier.Decide(delivery.Result{StatusCode: 503}, 1); got != delivery.Retry {
		t.Fatalf("first failure: got %v", got)
	}
	if got := retrier.Decide(delivery.Result{StatusCode: 503}, 2); got != delivery.Dead {
		t.Fatalf("second failure: got %v", got)
	}
}

func TestDecisionString(t *testing.T) {
	if delivery.Delivered.String() != "success" || delivery.Retry.String() != "retry" || delivery.Dead.String() != "dead" {
		t.Fatal("unexpected decision labels")
	}
}
