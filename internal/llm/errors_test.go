package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", &TransportError{Provider: "gemini", Status: 503}, true},
		{"wrapped transport", fmt.Errorf("invoke: %w", &TransportError{Provider: "openai"}), true},
		{"auth", &AuthError{Provider: "anthropic"}, false},
		{"wrapped auth", fmt.Errorf("invoke: %w", &AuthError{Provider: "openai"}), false},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantAuth  bool
		wantTrans bool
	}{
		{401, true, false},
		{403, true, false},
		{408, false, true},
		{429, false, true},
		{500, false, true},
		{503, false, true},
		{200, false, false},
		{400, false, false},
		{404, false, false},
	}

	for _, tt := range tests {
		err := classifyStatus("test", tt.status, "body")
		var authErr *AuthError
		var transErr *TransportError
		if errors.As(err, &authErr) != tt.wantAuth {
			t.Errorf("status %d: auth classification wrong (%v)", tt.status, err)
		}
		if errors.As(err, &transErr) != tt.wantTrans {
			t.Errorf("status %d: transport classification wrong (%v)", tt.status, err)
		}
		if !tt.wantAuth && !tt.wantTrans && err != nil {
			t.Errorf("status %d: expected nil, got %v", tt.status, err)
		}
	}
}

func TestClassifyStatus_TruncatesBody(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err := classifyStatus("test", 500, string(long))
	var transErr *TransportError
	if !errors.As(err, &transErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(transErr.Message) > 210 {
		t.Errorf("body not truncated: %d chars", len(transErr.Message))
	}
}
