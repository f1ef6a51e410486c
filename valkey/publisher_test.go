package valkey

import (
	"encoding/json"
	"testing"
	"time"

	"slclink/config"
)

func TestJoinKey(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		want     string
	}{
		{"simple", []string{"slclink", "press1", "tags", "Counter"}, "slclink:press1:tags:Counter"},
		{"empty segment dropped", []string{"slclink", "", "health"}, "slclink:health"},
		{"stray colons trimmed", []string{":slclink:", "press1:"}, "slclink:press1"},
		{"address as last segment", []string{"slclink", "press1", "tags", "N7:0"}, "slclink:press1:tags:N7:0"},
		{"all empty", []string{"", ":"}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := joinKey(tc.segments...); got != tc.want {
				t.Errorf("joinKey(%v) = %q, want %q", tc.segments, got, tc.want)
			}
		})
	}
}

func TestKeyRoot(t *testing.T) {
	plain := &config.ValkeyConfig{Name: "a"}
	if got := KeyRoot("slclink", plain); got != "slclink" {
		t.Errorf("KeyRoot without selector = %q", got)
	}

	selected := &config.ValkeyConfig{Name: "b", Selector: "line2"}
	if got := KeyRoot("slclink", selected); got != "slclink:line2" {
		t.Errorf("KeyRoot with selector = %q", got)
	}
}

func TestPublisherAddress(t *testing.T) {
	pub := NewPublisher(&config.ValkeyConfig{Address: "localhost:6379"}, "slclink")
	if addr := pub.Address(); addr != "redis://localhost:6379" {
		t.Errorf("Address = %q", addr)
	}

	pub = NewPublisher(&config.ValkeyConfig{Address: "cache.local:6380", UseTLS: true}, "slclink")
	if addr := pub.Address(); addr != "rediss://cache.local:6380" {
		t.Errorf("TLS address = %q", addr)
	}
}

func TestPublishNotRunning(t *testing.T) {
	pub := NewPublisher(&config.ValkeyConfig{Name: "cache", Address: "localhost:6379"}, "slclink")

	if pub.IsRunning() {
		t.Fatal("new publisher should not be running")
	}
	// Publishing while stopped is a silent no-op, not an error
	if err := pub.Publish("press1", "Counter", "N7:0", "N", int16(5), true); err != nil {
		t.Errorf("Publish while stopped: %v", err)
	}
	if err := pub.PublishHealth("press1", "EtherNet/IP connected (PCCC)", false, "Disconnected", ""); err != nil {
		t.Errorf("PublishHealth while stopped: %v", err)
	}
	if err := pub.Stop(); err != nil {
		t.Errorf("Stop while stopped: %v", err)
	}
}

func TestTagMessageShape(t *testing.T) {
	msg := TagMessage{
		Namespace: "slclink",
		PLC:       "press1",
		Tag:       "Counter",
		MemLoc:    "N7:0",
		Value:     int16(42),
		Type:      "N",
		Writable:  true,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	json.Unmarshal(data, &decoded)
	for _, field := range []string{"namespace", "plc", "tag", "memloc", "value", "type", "writable", "timestamp"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("missing field: %s", field)
		}
	}

	// Unaliased messages omit memloc
	msg.MemLoc = ""
	data, _ = json.Marshal(msg)
	decoded = nil
	json.Unmarshal(data, &decoded)
	if _, ok := decoded["memloc"]; ok {
		t.Error("memloc should be omitted when empty")
	}
}

func TestManagerOperations(t *testing.T) {
	m := NewManager()

	m.LoadFromConfig("slclink", []config.ValkeyConfig{
		{Name: "cache", Address: "localhost:6379"},
		{Name: "remote", Address: "cache.local:6379", Selector: "line2"},
	})

	if len(m.List()) != 2 {
		t.Fatalf("List = %d entries, want 2", len(m.List()))
	}
	if m.Get("cache") == nil {
		t.Error("Get(cache) returned nil")
	}
	if m.Get("remote").keyRoot != "slclink:line2" {
		t.Errorf("selector key root = %q", m.Get("remote").keyRoot)
	}
	if m.AnyRunning() {
		t.Error("no publisher is started")
	}

	if !m.Remove("cache") {
		t.Error("Remove(cache) = false")
	}
	if m.Remove("cache") {
		t.Error("second Remove(cache) = true")
	}
	if len(m.List()) != 1 {
		t.Errorf("List after remove = %d entries, want 1", len(m.List()))
	}
}

func TestManagerCallbackPropagation(t *testing.T) {
	m := NewManager()
	m.SetWriteValidator(func(plc, tag string) bool { return tag == "Counter" })
	m.SetWriteHandler(func(plc, tag string, value interface{}) error { return nil })

	pub := m.Add(&config.ValkeyConfig{Name: "cache", Address: "localhost:6379"}, "slclink")

	pub.mu.RLock()
	defer pub.mu.RUnlock()
	if pub.writeValidator == nil || !pub.writeValidator("press1", "Counter") {
		t.Error("validator not propagated")
	}
	if pub.writeHandler == nil {
		t.Error("handler not propagated")
	}
}
