package domain

import "testing"

func TestStatusCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusIdle, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusError, true},
		{StatusIdle, StatusCompleted, false},
		{StatusCompleted, StatusRunning, false},
		{StatusCompleted, StatusIdle, false},
		{StatusError, StatusRunning, false},
		{StatusRunning, StatusIdle, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestMessageValidate(t *testing.T) {
	valid := Message{Role: RoleUser, Content: "hi", Kind: KindText}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid message, got %v", err)
	}

	badRole := Message{Role: "robot", Content: "hi", Kind: KindText}
	if err := badRole.Validate(); err == nil {
		t.Error("Expected role validation error, got nil")
	}

	badKind := Message{Role: RoleUser, Content: "hi", Kind: "video"}
	if err := badKind.Validate(); err == nil {
		t.Error("Expected kind validation error, got nil")
	}

	emptyText := Message{Role: RoleUser, Kind: KindText}
	if err := emptyText.Validate(); err == nil {
		t.Error("Expected content validation error, got nil")
	}

	emptyToolResult := Message{Role: RoleTool, Kind: KindToolResult}
	if err := emptyToolResult.Validate(); err != nil {
		t.Errorf("Empty content should be allowed for tool_result, got %v", err)
	}
}
