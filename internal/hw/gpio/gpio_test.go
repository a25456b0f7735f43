package gpio

import "testing"

func TestNewDriver_Mock(t *testing.T) {
	d, err := NewDriver(true)
	if err != nil {
		t.Fatalf("NewDriver(true): %v", err)
	}
	if _, ok := d.(*MockDriver); !ok {
		t.Fatalf("NewDriver(true) = %T, want *MockDriver", d)
	}
}

func TestMockDriver_RemembersLevels(t *testing.T) {
	m := &MockDriver{}
	if err := m.SetupPin(17, Output); err != nil {
		t.Fatalf("SetupPin: %v", err)
	}

	tests := []Level{High, Low, High}
	for i, lvl := range tests {
		if err := m.WritePin(17, lvl); err != nil {
			t.Fatalf("WritePin: %v", err)
		}
		got, err := m.ReadPin(17)
		if err != nil {
			t.Fatalf("ReadPin: %v", err)
		}
		if got != lvl {
			t.Errorf("write %d: ReadPin = %v, want %v", i, got, lvl)
		}
	}
	if m.Writes() != 3 {
		t.Errorf("Writes = %d, want 3", m.Writes())
	}
	if lvl, _ := m.ReadPin(4); lvl != Low {
		t.Errorf("untouched pin = %v, want Low", lvl)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
