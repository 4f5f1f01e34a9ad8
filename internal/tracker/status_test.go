package tracker

import "testing"

func TestStatusStartsOnline(t *testing.T) {
	s := newConnectionStatus()
	if !s.online() {
		t.Fatal("status should start online")
	}
}

func TestOnlineUpdateEdgeOnly(t *testing.T) {
	s := newConnectionStatus()

	// Redundant online while already online: no edge.
	if s.onlineUpdate(UpdateMessage{Kind: GatewayOnline}) {
		t.Error("onlineUpdate fired while already online")
	}

	s.gatewayOnline = false
	s.queueOnline = false

	// Only one flag back up: still not fully online.
	if s.onlineUpdate(UpdateMessage{Kind: QueueOnline}) {
		t.Error("onlineUpdate fired with gateway still down")
	}

	// Second flag completes the edge.
	if !s.onlineUpdate(UpdateMessage{Kind: GatewayOnline}) {
		t.Error("onlineUpdate missed the online edge")
	}
}

func TestOfflineUpdateEdgeOnly(t *testing.T) {
	s := newConnectionStatus()

	// First flag down fires the edge.
	if !s.offlineUpdate(UpdateMessage{Kind: GatewayOffline}) {
		t.Error("offlineUpdate missed the offline edge")
	}

	// Second flag down: already offline, no edge.
	if s.offlineUpdate(UpdateMessage{Kind: QueueOffline}) {
		t.Error("offlineUpdate fired while already offline")
	}
}

func TestStatusDownUpCycleFiresOncePerEdge(t *testing.T) {
	s := newConnectionStatus()

	offlineEdges, onlineEdges := 0, 0
	steps := []struct {
		kind   MessageKind
		online bool
	}{
		{GatewayOffline, false},
		{QueueOffline, false},
		{QueueOnline, false},
		{GatewayOnline, true},
	}
	for _, step := range steps {
		switch step.kind {
		case GatewayOffline, QueueOffline:
			if s.offlineUpdate(UpdateMessage{Kind: step.kind}) {
				offlineEdges++
			}
		case GatewayOnline, QueueOnline:
			if s.onlineUpdate(UpdateMessage{Kind: step.kind}) {
				onlineEdges++
			}
		}
		if s.online() != step.online {
			t.Errorf("after %v: online() = %v, want %v", step.kind, s.online(), step.online)
		}
	}

	if offlineEdges != 1 {
		t.Errorf("offline edges = %d, want 1", offlineEdges)
	}
	if onlineEdges != 1 {
		t.Errorf("online edges = %d, want 1", onlineEdges)
	}
}

func TestStatusIgnoresNonConnectivityKinds(t *testing.T) {
	s := newConnectionStatus()
	s.gatewayOnline = false

	if s.onlineUpdate(UpdateMessage{Kind: GuildOnline, GuildID: 1}) {
		t.Error("onlineUpdate changed state on a guild message")
	}
	if s.online() {
		t.Error("guild message flipped a connectivity flag")
	}
}
