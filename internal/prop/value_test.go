package prop

import "testing"

func TestPayloadEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Payload
		want bool
	}{
		{"empty payloads", EmptyPayload(), EmptyPayload(), true},
		{"same int32s", Int32s(1, 2, 3), Int32s(1, 2, 3), true},
		{"different int32s", Int32s(1, 2, 3), Int32s(1, 2, 4), false},
		{"different lengths", Int32s(1, 2), Int32s(1, 2, 3), false},
		{"kind mismatch", Int32s(1), Int64s(1), false},
		{"nil vs empty slice", Payload{Kind: KindInt32s}, Int32s(), true},
		{"same floats", Floats(1.5, 2.5), Floats(1.5, 2.5), true},
		{"same bytes", Bytes([]byte{0xde, 0xad}), Bytes([]byte{0xde, 0xad}), true},
		{"same strings", Str("hello"), Str("hello"), true},
		{"different strings", Str("hello"), Str("world"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
			if got := tt.b.Equal(tt.a); got != tt.want {
				t.Errorf("Equal() not symmetric: %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPayloadLen(t *testing.T) {
	tests := []struct {
		name string
		p    Payload
		want int
	}{
		{"empty", EmptyPayload(), 0},
		{"three int32s", Int32s(1, 2, 3), 3},
		{"one int64", Int64s(9), 1},
		{"two floats", Floats(0.5, 1.5), 2},
		{"four bytes", Bytes([]byte{1, 2, 3, 4}), 4},
		{"non-empty string", Str("x"), 1},
		{"empty string", Str(""), 0},
		{"empty int32 list", Int32s(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Len(); got != tt.want {
				t.Errorf("Len() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValueEqualIgnoresTimestamp(t *testing.T) {
	a := Value{Prop: 0x1100, Area: 1, Payload: Int32s(42), Timestamp: 1000}
	b := Value{Prop: 0x1100, Area: 1, Payload: Int32s(42), Timestamp: 9999}

	if !a.Equal(b) {
		t.Error("values differing only in timestamp should compare equal")
	}

	c := Value{Prop: 0x1100, Area: 2, Payload: Int32s(42)}
	if a.Equal(c) {
		t.Error("values with different areas should not compare equal")
	}
}

func TestGetResultEqual(t *testing.T) {
	v := Value{Prop: 0x1100, Payload: Int32s(7)}

	tests := []struct {
		name string
		a, b GetResult
		want bool
	}{
		{
			"both ok with same value",
			GetResult{RequestID: 1, Status: StatusOK, Value: &v},
			GetResult{RequestID: 1, Status: StatusOK, Value: &v},
			true,
		},
		{
			"value present vs absent",
			GetResult{RequestID: 1, Status: StatusOK, Value: &v},
			GetResult{RequestID: 1, Status: StatusOK},
			false,
		},
		{
			"both absent",
			GetResult{RequestID: 2, Status: StatusTryAgain},
			GetResult{RequestID: 2, Status: StatusTryAgain},
			true,
		},
		{
			"status differs",
			GetResult{RequestID: 2, Status: StatusTryAgain},
			GetResult{RequestID: 2, Status: StatusInvalidArg},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}
