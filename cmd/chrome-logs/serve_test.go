package main

import "testing"

func TestReconnectAttempts(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, -1},
		{3, 3},
		{7, 7},
	}
	for _, tt := range tests {
		if got := reconnectAttempts(tt.in); got != tt.want {
			t.Errorf("reconnectAttempts(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
