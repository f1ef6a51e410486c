package mqtt

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"slclink/config"
)

func TestNewPublisher(t *testing.T) {
	cfg := &config.MQTTConfig{
		Name:    "plant",
		Broker:  "localhost",
		Port:    1883,
		Enabled: true,
	}
	pub := NewPublisher(cfg, "slclink")

	if pub == nil {
		t.Fatal("expected non-nil publisher")
	}
	if pub.Name() != "plant" {
		t.Errorf("expected name 'plant', got %q", pub.Name())
	}
	if pub.IsRunning() {
		t.Error("new publisher should not be running")
	}
}

func TestRootTopic(t *testing.T) {
	plain := &config.MQTTConfig{Name: "a"}
	if got := RootTopic("slclink", plain); got != "slclink" {
		t.Errorf("RootTopic without selector = %q", got)
	}

	selected := &config.MQTTConfig{Name: "b", Selector: "line2"}
	if got := RootTopic("slclink", selected); got != "slclink/line2" {
		t.Errorf("RootTopic with selector = %q", got)
	}
}

func TestBuildTopic(t *testing.T) {
	pub := NewPublisher(&config.MQTTConfig{Name: "a"}, "slclink/line2")

	got := pub.BuildTopic("press1", "Counter")
	if got != "slclink/line2/press1/tags/Counter" {
		t.Errorf("BuildTopic = %q", got)
	}

	// Raw addresses with colons are legal topic segments
	got = pub.BuildTopic("press1", "N7:0")
	if got != "slclink/line2/press1/tags/N7:0" {
		t.Errorf("BuildTopic with address = %q", got)
	}
}

func TestPublisherAddress(t *testing.T) {
	t.Run("tcp address", func(t *testing.T) {
		pub := NewPublisher(&config.MQTTConfig{Broker: "localhost", Port: 1883}, "slclink")
		if addr := pub.Address(); addr != "tcp://localhost:1883" {
			t.Errorf("expected 'tcp://localhost:1883', got %q", addr)
		}
	})

	t.Run("ssl address", func(t *testing.T) {
		pub := NewPublisher(&config.MQTTConfig{Broker: "localhost", Port: 8883, UseTLS: true}, "slclink")
		if addr := pub.Address(); addr != "ssl://localhost:8883" {
			t.Errorf("expected 'ssl://localhost:8883', got %q", addr)
		}
	})

	t.Run("default port", func(t *testing.T) {
		pub := NewPublisher(&config.MQTTConfig{Broker: "broker.local"}, "slclink")
		if addr := pub.Address(); addr != "tcp://broker.local:1883" {
			t.Errorf("expected default port 1883, got %q", addr)
		}
	})
}

// TestChangeDetectionTypes tests change detection across the value types
// that come back from data table reads.
func TestChangeDetectionTypes(t *testing.T) {
	tests := []struct {
		name      string
		value1    interface{}
		value2    interface{}
		shouldPub bool
	}{
		{"int16_same", int16(50), int16(50), false},
		{"int16_diff", int16(50), int16(60), true},
		{"int32_same", int32(100), int32(100), false},
		{"int32_diff", int32(100), int32(200), true},
		{"float32_same", float32(3.14), float32(3.14), false},
		{"float32_diff", float32(3.14), float32(2.71), true},
		{"bool_same", true, true, false},
		{"bool_diff", true, false, true},
		{"string_same", "RUNNING", "RUNNING", false},
		{"string_diff", "RUNNING", "FAULT", true},
		{"zero_int", int16(0), int16(0), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cache := map[string]interface{}{"plc/tag": tc.value1}

			lastValue := cache["plc/tag"]
			shouldPublish := fmt.Sprintf("%v", lastValue) != fmt.Sprintf("%v", tc.value2)

			if shouldPublish != tc.shouldPub {
				t.Errorf("expected publish=%v, got %v", tc.shouldPub, shouldPublish)
			}
		})
	}
}

// TestTagMessagePayload tests the JSON message structure.
func TestTagMessagePayload(t *testing.T) {
	t.Run("message includes all fields", func(t *testing.T) {
		msg := TagMessage{
			Topic:     "slclink",
			PLC:       "press1",
			Tag:       "Counter",
			MemLoc:    "N7:0",
			Value:     int16(100),
			Type:      "N",
			Writable:  true,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal error: %v", err)
		}

		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal error: %v", err)
		}

		for _, field := range []string{"topic", "plc", "tag", "memloc", "value", "type", "writable", "timestamp"} {
			if _, ok := decoded[field]; !ok {
				t.Errorf("missing field: %s", field)
			}
		}
		if decoded["memloc"] != "N7:0" {
			t.Errorf("memloc = %v, want N7:0", decoded["memloc"])
		}
	})

	t.Run("unaliased message omits memloc", func(t *testing.T) {
		msg := TagMessage{
			Topic:     "slclink",
			PLC:       "press1",
			Tag:       "F8:2",
			Value:     float32(1.5),
			Type:      "F",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		data, _ := json.Marshal(msg)
		var decoded map[string]interface{}
		json.Unmarshal(data, &decoded)

		if _, ok := decoded["memloc"]; ok {
			t.Error("memloc should be omitted when empty")
		}
	})
}

// TestConvertValueForType tests JSON value conversion for write requests.
func TestConvertValueForType(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		fileType string
		expected interface{}
		hasError bool
	}{
		// Word files (N, S, B, T, C, O, I)
		{"word_valid", float64(1000), "N", int16(1000), false},
		{"word_min", float64(-32768), "N", int16(-32768), false},
		{"word_max", float64(32767), "N", int16(32767), false},
		{"word_overflow", float64(32768), "N", nil, true},
		{"word_underflow", float64(-32769), "N", nil, true},
		{"word_fractional", float64(1.5), "N", nil, true},
		{"binary_word", float64(255), "B", int16(255), false},
		{"timer_word", float64(500), "T", int16(500), false},
		{"counter_word", float64(12), "C", int16(12), false},
		{"status_word", float64(1), "S", int16(1), false},
		{"output_word", float64(3), "O", int16(3), false},
		{"word_lowercase", float64(7), "n", int16(7), false},
		{"word_from_string", "7", "N", nil, true},

		// Bit writes within word files arrive as booleans
		{"bit_true", true, "B", true, false},
		{"bit_false", false, "N", false, false},

		// Long files
		{"long_valid", float64(100000), "L", int32(100000), false},
		{"long_negative", float64(-100000), "L", int32(-100000), false},
		{"long_max", float64(2147483647), "L", int32(2147483647), false},
		{"long_overflow", float64(2147483648), "L", nil, true},
		{"long_from_bool", true, "L", nil, true},

		// Float files
		{"float_valid", float64(3.14), "F", float32(3.14), false},
		{"float_whole", float64(42), "F", float32(42), false},
		{"float_from_string", "3.14", "F", nil, true},

		// String files
		{"string_valid", "RUNNING", "ST", "RUNNING", false},
		{"ascii_valid", "AB", "A", "AB", false},
		{"string_from_num", float64(123), "ST", nil, true},

		// Unknown file types pass through
		{"unknown_type", float64(5), "Z", float64(5), false},
		{"unsupported_value", []interface{}{1, 2}, "N", nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := convertValueForType(tc.value, tc.fileType)

			if tc.hasError {
				if err == nil {
					t.Errorf("expected error for %s", tc.name)
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if fmt.Sprintf("%v (%T)", result, result) != fmt.Sprintf("%v (%T)", tc.expected, tc.expected) {
				t.Errorf("expected %v (%T), got %v (%T)", tc.expected, tc.expected, result, result)
			}
		})
	}
}

func TestManagerAddRemove(t *testing.T) {
	m := NewManager()

	pub := NewPublisher(&config.MQTTConfig{Name: "plant"}, "slclink")
	m.Add(pub)

	if m.Get("plant") != pub {
		t.Error("Get should return the added publisher")
	}
	if len(m.List()) != 1 {
		t.Errorf("List = %d entries, want 1", len(m.List()))
	}
	if m.AnyRunning() {
		t.Error("no publisher is started")
	}

	m.Remove("plant")
	if m.Get("plant") != nil {
		t.Error("publisher still present after remove")
	}
}

func TestManagerLoadFromConfig(t *testing.T) {
	m := NewManager()
	m.LoadFromConfig("slclink", []config.MQTTConfig{
		{Name: "plant", Broker: "localhost"},
		{Name: "cloud", Broker: "broker.example.com", Selector: "line2"},
	})

	if len(m.List()) != 2 {
		t.Fatalf("List = %d entries, want 2", len(m.List()))
	}
	if got := m.Get("cloud").BuildTopic("press1", "Counter"); got != "slclink/line2/press1/tags/Counter" {
		t.Errorf("selector topic = %q", got)
	}
}

func TestManagerCallbackPropagation(t *testing.T) {
	m := NewManager()

	// Settings applied before Add must reach publishers added later.
	m.SetWriteValidator(func(plc, tag string) bool { return tag == "Counter" })
	m.SetTagTypeLookup(func(plc, tag string) string { return "N" })
	m.SetPLCNames([]string{"press1"})

	pub := NewPublisher(&config.MQTTConfig{Name: "plant"}, "slclink")
	m.Add(pub)

	pub.mu.RLock()
	defer pub.mu.RUnlock()
	if pub.writeValidator == nil || !pub.writeValidator("press1", "Counter") {
		t.Error("validator not propagated")
	}
	if pub.tagTypeLookup == nil || pub.tagTypeLookup("press1", "Counter") != "N" {
		t.Error("type lookup not propagated")
	}
	if len(pub.plcNames) != 1 || pub.plcNames[0] != "press1" {
		t.Error("PLC names not propagated")
	}
}
