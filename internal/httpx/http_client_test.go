package httpx

import (
	"testing"
	"time"
)

func TestConfigureExternalHTTPClient(t *testing.T) {
	original := externalHTTPClient.Timeout
	t.Cleanup(func() { externalHTTPClient.Timeout = original })

	tests := []struct {
		seconds int
		want    time.Duration
	}{
		{0, defaultExternalHTTPTimeout},
		{-3, defaultExternalHTTPTimeout},
		{120, 120 * time.Second},
	}
	for _, tt := range tests {
		if got := ConfigureExternalHTTPClient(tt.seconds); got != tt.want {
			t.Fatalf("ConfigureExternalHTTPClient(%d) = %s, want %s", tt.seconds, got, tt.want)
		}
		if ExternalHTTPClient().Timeout != tt.want {
			t.Fatalf("shared client timeout = %s after %d, want %s", ExternalHTTPClient().Timeout, tt.seconds, tt.want)
		}
	}
}

func TestExternalHTTPClientIsShared(t *testing.T) {
	if ExternalHTTPClient() != ExternalHTTPClient() {
		t.Fatal("every integration must get the same client")
	}
}
