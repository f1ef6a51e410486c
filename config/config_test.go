package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPLCConfig_GetFamily(t *testing.T) {
	t.Run("returns set family", func(t *testing.T) {
		plc := PLCConfig{Family: FamilyMicroLogix}
		if plc.GetFamily() != FamilyMicroLogix {
			t.Error("expected FamilyMicroLogix")
		}
	})

	t.Run("defaults to slc500", func(t *testing.T) {
		plc := PLCConfig{}
		if plc.GetFamily() != FamilySLC500 {
			t.Error("expected FamilySLC500 as default")
		}
	})

	t.Run("unknown family falls back to slc500", func(t *testing.T) {
		plc := PLCConfig{Family: "plc9000"}
		if plc.GetFamily() != FamilySLC500 {
			t.Error("expected FamilySLC500 for unknown family")
		}
	})
}

func TestPLCConfig_GetTimeout(t *testing.T) {
	plc := PLCConfig{}
	if plc.GetTimeout() != 5*time.Second {
		t.Errorf("expected 5s default, got %v", plc.GetTimeout())
	}
	plc.Timeout = 2 * time.Second
	if plc.GetTimeout() != 2*time.Second {
		t.Errorf("expected 2s, got %v", plc.GetTimeout())
	}
}

func TestPLCConfig_FindTag(t *testing.T) {
	plc := PLCConfig{
		Tags: []TagSelection{
			{Address: "N7:0", Alias: "Counter"},
			{Address: "B3/5"},
		},
	}

	if plc.FindTag("N7:0") == nil {
		t.Error("expected to find tag by address")
	}
	if plc.FindTag("Counter") == nil {
		t.Error("expected to find tag by alias")
	}
	if plc.FindTag("B3/5") == nil {
		t.Error("expected to find alias-less tag by address")
	}
	if plc.FindTag("F8:0") != nil {
		t.Error("expected nil for unknown tag")
	}
}

func TestTagSelection_Key(t *testing.T) {
	tag := TagSelection{Address: "N7:0"}
	if tag.Key() != "N7:0" {
		t.Errorf("expected address as key, got %s", tag.Key())
	}
	tag.Alias = "Counter"
	if tag.Key() != "Counter" {
		t.Errorf("expected alias as key, got %s", tag.Key())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.PollRate != time.Second {
		t.Errorf("expected 1s poll rate, got %v", cfg.PollRate)
	}
	if !cfg.Web.Enabled {
		t.Error("expected Web.Enabled true by default")
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected Web port 8080, got %d", cfg.Web.Port)
	}
	if cfg.Web.Host != "0.0.0.0" {
		t.Errorf("expected Web host 0.0.0.0, got %s", cfg.Web.Host)
	}
	if len(cfg.PLCs) != 0 {
		t.Errorf("expected empty PLCs slice")
	}
}

func TestWebConfigAddr(t *testing.T) {
	w := WebConfig{Host: "127.0.0.1", Port: 9090}
	if w.Addr() != "127.0.0.1:9090" {
		t.Errorf("Addr() = %s", w.Addr())
	}

	w = WebConfig{}
	if w.Addr() != ":8080" {
		t.Errorf("expected default :8080, got %s", w.Addr())
	}
}

func TestLoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("returns default for nonexistent file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(tmpDir, "nonexistent.yaml"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.PollRate != time.Second {
			t.Error("expected default config")
		}
	})

	t.Run("save and load roundtrip", func(t *testing.T) {
		path := filepath.Join(tmpDir, "test.yaml")

		cfg := &Config{
			Namespace: "plant1",
			PollRate:  500 * time.Millisecond,
			PLCs: []PLCConfig{
				{Name: "TestPLC", Address: "192.168.1.100", Family: FamilyMicroLogix, Enabled: true,
					Tags: []TagSelection{{Address: "N7:0", Alias: "Counter", Writable: true}}},
			},
			MQTT: []MQTTConfig{
				{Name: "TestMQTT", Broker: "mqtt.local", Port: 1883},
			},
		}

		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if loaded.PollRate != 500*time.Millisecond {
			t.Errorf("expected 500ms poll rate, got %v", loaded.PollRate)
		}
		if len(loaded.PLCs) != 1 || loaded.PLCs[0].Name != "TestPLC" {
			t.Error("PLC config not preserved")
		}
		if loaded.PLCs[0].GetFamily() != FamilyMicroLogix {
			t.Error("PLC family not preserved")
		}
		if len(loaded.PLCs[0].Tags) != 1 || loaded.PLCs[0].Tags[0].Alias != "Counter" {
			t.Error("tag selection not preserved")
		}
		if len(loaded.MQTT) != 1 || loaded.MQTT[0].Broker != "mqtt.local" {
			t.Error("MQTT config not preserved")
		}
	})

	t.Run("creates directory if needed", func(t *testing.T) {
		path := filepath.Join(tmpDir, "subdir", "nested", "config.yaml")
		cfg := DefaultConfig()

		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Error("config file was not created")
		}
	})

	t.Run("returns error for invalid yaml", func(t *testing.T) {
		path := filepath.Join(tmpDir, "invalid.yaml")
		os.WriteFile(path, []byte("invalid: yaml: content: ["), 0644)

		_, err := Load(path)
		if err == nil {
			t.Error("expected error for invalid YAML")
		}
	})

	t.Run("rejects duplicate plc names", func(t *testing.T) {
		path := filepath.Join(tmpDir, "dupes.yaml")
		os.WriteFile(path, []byte(`
namespace: test
plcs:
  - name: line1
    address: 10.0.0.1
  - name: line1
    address: 10.0.0.2
`), 0644)

		if _, err := Load(path); err == nil {
			t.Error("expected error for duplicate PLC names")
		}
	})

	t.Run("rejects unknown family", func(t *testing.T) {
		path := filepath.Join(tmpDir, "family.yaml")
		os.WriteFile(path, []byte(`
namespace: test
plcs:
  - name: line1
    address: 10.0.0.1
    family: controllogix
`), 0644)

		if _, err := Load(path); err == nil {
			t.Error("expected error for unknown family")
		}
	})
}

func TestPLCOperations(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("AddPLC and FindPLC", func(t *testing.T) {
		plc := PLCConfig{Name: "PLC1", Address: "192.168.1.1"}
		cfg.AddPLC(plc)

		found := cfg.FindPLC("PLC1")
		if found == nil {
			t.Fatal("FindPLC returned nil")
		}
		if found.Address != "192.168.1.1" {
			t.Errorf("expected address '192.168.1.1', got %s", found.Address)
		}
	})

	t.Run("FindPLC returns nil for nonexistent", func(t *testing.T) {
		if cfg.FindPLC("nonexistent") != nil {
			t.Error("expected nil for nonexistent PLC")
		}
	})

	t.Run("UpdatePLC", func(t *testing.T) {
		updated := PLCConfig{Name: "PLC1", Address: "192.168.1.2", Enabled: true}
		if !cfg.UpdatePLC("PLC1", updated) {
			t.Error("UpdatePLC returned false")
		}

		found := cfg.FindPLC("PLC1")
		if found.Address != "192.168.1.2" {
			t.Error("PLC not updated")
		}
	})

	t.Run("UpdatePLC returns false for nonexistent", func(t *testing.T) {
		if cfg.UpdatePLC("nonexistent", PLCConfig{}) {
			t.Error("expected false for nonexistent PLC")
		}
	})

	t.Run("RemovePLC", func(t *testing.T) {
		if !cfg.RemovePLC("PLC1") {
			t.Error("RemovePLC returned false")
		}
		if cfg.FindPLC("PLC1") != nil {
			t.Error("PLC not removed")
		}
	})

	t.Run("RemovePLC returns false for nonexistent", func(t *testing.T) {
		if cfg.RemovePLC("nonexistent") {
			t.Error("expected false for nonexistent PLC")
		}
	})
}

func TestMQTTOperations(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("AddMQTT and FindMQTT", func(t *testing.T) {
		mqtt := MQTTConfig{Name: "Broker1", Broker: "mqtt.local"}
		cfg.AddMQTT(mqtt)

		found := cfg.FindMQTT("Broker1")
		if found == nil {
			t.Fatal("FindMQTT returned nil")
		}
		if found.Broker != "mqtt.local" {
			t.Errorf("expected broker 'mqtt.local', got %s", found.Broker)
		}
	})

	t.Run("UpdateMQTT", func(t *testing.T) {
		updated := MQTTConfig{Name: "Broker1", Broker: "mqtt2.local", Port: 8883}
		if !cfg.UpdateMQTT("Broker1", updated) {
			t.Error("UpdateMQTT returned false")
		}

		found := cfg.FindMQTT("Broker1")
		if found.Port != 8883 {
			t.Error("MQTT not updated")
		}
	})

	t.Run("RemoveMQTT", func(t *testing.T) {
		if !cfg.RemoveMQTT("Broker1") {
			t.Error("RemoveMQTT returned false")
		}
		if cfg.FindMQTT("Broker1") != nil {
			t.Error("MQTT not removed")
		}
	})
}

func TestValkeyOperations(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("AddValkey and FindValkey", func(t *testing.T) {
		valkey := ValkeyConfig{Name: "Redis1", Address: "localhost:6379"}
		cfg.AddValkey(valkey)

		found := cfg.FindValkey("Redis1")
		if found == nil {
			t.Fatal("FindValkey returned nil")
		}
		if found.Address != "localhost:6379" {
			t.Errorf("expected address 'localhost:6379', got %s", found.Address)
		}
	})

	t.Run("UpdateValkey", func(t *testing.T) {
		updated := ValkeyConfig{Name: "Redis1", Address: "redis.local:6380"}
		if !cfg.UpdateValkey("Redis1", updated) {
			t.Error("UpdateValkey returned false")
		}

		found := cfg.FindValkey("Redis1")
		if found.Address != "redis.local:6380" {
			t.Error("Valkey not updated")
		}
	})

	t.Run("RemoveValkey", func(t *testing.T) {
		if !cfg.RemoveValkey("Redis1") {
			t.Error("RemoveValkey returned false")
		}
		if cfg.FindValkey("Redis1") != nil {
			t.Error("Valkey not removed")
		}
	})
}

func TestKafkaOperations(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("AddKafka and FindKafka", func(t *testing.T) {
		kafka := KafkaConfig{Name: "Cluster1", Brokers: []string{"kafka:9092"}}
		cfg.AddKafka(kafka)

		found := cfg.FindKafka("Cluster1")
		if found == nil {
			t.Fatal("FindKafka returned nil")
		}
		if len(found.Brokers) != 1 || found.Brokers[0] != "kafka:9092" {
			t.Errorf("expected brokers ['kafka:9092'], got %v", found.Brokers)
		}
	})

	t.Run("UpdateKafka", func(t *testing.T) {
		updated := KafkaConfig{Name: "Cluster1", Brokers: []string{"kafka1:9092", "kafka2:9092"}}
		if !cfg.UpdateKafka("Cluster1", updated) {
			t.Error("UpdateKafka returned false")
		}

		found := cfg.FindKafka("Cluster1")
		if len(found.Brokers) != 2 {
			t.Error("Kafka not updated")
		}
	})

	t.Run("RemoveKafka", func(t *testing.T) {
		if !cfg.RemoveKafka("Cluster1") {
			t.Error("RemoveKafka returned false")
		}
		if cfg.FindKafka("Cluster1") != nil {
			t.Error("Kafka not removed")
		}
	})
}

func TestIsValidNamespace(t *testing.T) {
	valid := []string{"plant1", "line-3", "cell_7", "site.north", "A1"}
	for _, ns := range valid {
		if !IsValidNamespace(ns) {
			t.Errorf("IsValidNamespace(%q) = false, want true", ns)
		}
	}

	invalid := []string{"", "has space", "slash/here", "colon:here", "hash#"}
	for _, ns := range invalid {
		if IsValidNamespace(ns) {
			t.Errorf("IsValidNamespace(%q) = true, want false", ns)
		}
	}
}

func TestDefaultPath(t *testing.T) {
	path := DefaultPath()
	if path == "" {
		t.Error("DefaultPath returned empty string")
	}
	if !filepath.IsAbs(path) && path != "config.yaml" {
		t.Error("expected absolute path or 'config.yaml'")
	}
}
