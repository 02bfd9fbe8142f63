package domain

import "testing"

func TestAuthPolicy(t *testing.T) {
	policy := NewAuthPolicy([]int64{42}, []string{"@Editor", " "})
	tests := []struct {
		name     string
		userID   int64
		username string
		want     bool
	}{
		{name: "by id", userID: 42, want: true},
		{name: "by username case insensitive", userID: 7, username: "editor", want: true},
		{name: "unknown", userID: 7, username: "guest", want: false},
		{name: "empty username", userID: 7, username: "", want: false},
		{name: "zero id", userID: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.IsPrivileged(tt.userID, tt.username); got != tt.want {
				t.Fatalf("IsPrivileged(%d, %q) = %v, want %v", tt.userID, tt.username, got, tt.want)
			}
		})
	}
}

func TestAuthPolicyEmptyGrantsNothing(t *testing.T) {
	policy := NewAuthPolicy(nil, nil)
	if !policy.Empty() {
		t.Fatalf("ожидали пустую политику")
	}
	if policy.IsPrivileged(1, "admin") {
		t.Fatalf("пустая политика не должна выдавать права")
	}
}
