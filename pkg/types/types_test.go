package types

import "testing"

func TestIsValidCommandType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ct   CommandType
		want bool
	}{
		{"place order", CmdPlaceOrder, true},
		{"withdraw", CmdWithdraw, true},
		{"unknown", CommandType("NotACommand"), false},
		{"empty", CommandType(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsValidCommandType(tt.ct); got != tt.want {
				t.Errorf("IsValidCommandType(%q) = %v, want %v", tt.ct, got, tt.want)
			}
		})
	}
}

func TestIsTradingClass(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ct   CommandType
		want bool
	}{
		{CmdPlaceOrder, true},
		{CmdCancelAll, true},
		{CmdPauseEngine, false},
		{CmdUpdateConfig, false},
	}

	for _, tt := range tests {
		if got := tt.ct.IsTradingClass(); got != tt.want {
			t.Errorf("%s.IsTradingClass() = %v, want %v", tt.ct, got, tt.want)
		}
	}
}

func TestClientOrderID(t *testing.T) {
	t.Parallel()
	cmd := Command{CommandID: "abc-123"}
	if got, want := cmd.ClientOrderID(), "ae-abc-123"; got != want {
		t.Errorf("ClientOrderID() = %q, want %q", got, want)
	}
}

func TestReduceOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload map[string]any
		want    bool
	}{
		{"missing", map[string]any{}, false},
		{"true", map[string]any{"reduce_only": true}, true},
		{"false", map[string]any{"reduce_only": false}, false},
		{"wrong type", map[string]any{"reduce_only": "yes"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cmd := Command{Payload: tt.payload}
			if got := cmd.ReduceOnly(); got != tt.want {
				t.Errorf("ReduceOnly() = %v, want %v", got, tt.want)
			}
		})
	}
}
