package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.MulticastGroup != "224.1.1.1:5007" {
		t.Fatalf("expected default multicast group, got %s", cfg.MulticastGroup)
	}
	if cfg.BroadcastInterval != 250*time.Millisecond {
		t.Fatalf("expected default broadcast interval 250ms, got %s", cfg.BroadcastInterval)
	}
	if cfg.PeerTimeout != 2*time.Second {
		t.Fatalf("expected default peer timeout 2s, got %s", cfg.PeerTimeout)
	}
	if cfg.MinQuorum != 2 {
		t.Fatalf("expected default min quorum 2, got %d", cfg.MinQuorum)
	}
	if cfg.HistoryLen != 100 {
		t.Fatalf("expected default history length 100, got %d", cfg.HistoryLen)
	}
	if len(cfg.NodeID) != 8 {
		t.Fatalf("expected generated 8-char node id, got %q", cfg.NodeID)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("NODE_ID", "test-node")
	t.Setenv("MULTICAST_GROUP", "239.0.0.7:9999")
	t.Setenv("PEER_TIMEOUT", "5s")
	t.Setenv("SIM_SIGNAL", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.NodeID != "test-node" {
		t.Fatalf("NodeID = %q", cfg.NodeID)
	}
	if cfg.MulticastGroup != "239.0.0.7:9999" {
		t.Fatalf("MulticastGroup = %q", cfg.MulticastGroup)
	}
	if cfg.PeerTimeout != 5*time.Second {
		t.Fatalf("PeerTimeout = %s", cfg.PeerTimeout)
	}
	if !cfg.SimulateSignal {
		t.Fatal("SimulateSignal not parsed")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"bad group":              {"MULTICAST_GROUP", "not-a-hostport"},
		"alpha out of range":     {"EMA_ALPHA", "7"},
		"zero quorum":            {"MIN_QUORUM", "0"},
		"timeout under window":   {"PEER_TIMEOUT", "100ms"},
		"zero history":           {"HISTORY_LEN", "0"},
		"threshold out of range": {"OUTLIER_THRESHOLD", "1.5"},
	}
	for name, kv := range cases {
		t.Run(strings.ReplaceAll(name, " ", "_"), func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("%s: expected validation error", name)
			}
		})
	}
}
