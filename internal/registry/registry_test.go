package registry

import (
	"testing"

	"github.com/rs/zerolog"

	"meshcall/native/internal/domain"
)

func TestInsertSnapshot_AddsWithMediaEnabled(t *testing.T) {
	r := New(zerolog.Nop())

	r.InsertSnapshot([]domain.PeerInfo{
		{SocketID: "s1", UserName: "bob", UserID: "u1"},
		{SocketID: "s2", UserName: "alice", UserID: "u2"},
	})

	if r.Len() != 2 {
		t.Fatalf("expected 2 participants, got %d", r.Len())
	}
	p, ok := r.Get("s1")
	if !ok {
		t.Fatal("expected s1 to be present")
	}
	if !p.AudioEnabled || !p.VideoEnabled {
		t.Errorf("expected media enabled by default, got audio=%v video=%v", p.AudioEnabled, p.VideoEnabled)
	}
	list := r.List()
	if list[0].DisplayName != "alice" || list[1].DisplayName != "bob" {
		t.Errorf("expected list sorted by name, got %q, %q", list[0].DisplayName, list[1].DisplayName)
	}
}

func TestInsert_RepeatedKeepsToggles(t *testing.T) {
	r := New(zerolog.Nop())
	r.Insert(domain.PeerInfo{SocketID: "s1", UserName: "bob"})
	r.SetMedia("s1", domain.MediaAudio, false)

	r.Insert(domain.PeerInfo{SocketID: "s1", UserName: "bobby", UserID: "u1"})

	p, _ := r.Get("s1")
	if p.AudioEnabled {
		t.Error("expected repeated insert to keep audio disabled")
	}
	if p.DisplayName != "bobby" || p.UserID != "u1" {
		t.Errorf("expected refreshed identity, got %q/%q", p.DisplayName, p.UserID)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 participant, got %d", r.Len())
	}
}

func TestInsert_IgnoresMissingConnID(t *testing.T) {
	r := New(zerolog.Nop())
	r.Insert(domain.PeerInfo{UserName: "ghost"})
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestSetMedia_LastWriteWins(t *testing.T) {
	r := New(zerolog.Nop())
	r.Insert(domain.PeerInfo{SocketID: "s1", UserName: "bob"})

	r.SetMedia("s1", domain.MediaVideo, false)
	r.SetMedia("s1", domain.MediaVideo, true)
	r.SetMedia("s1", domain.MediaVideo, false)

	p, _ := r.Get("s1")
	if p.VideoEnabled {
		t.Error("expected video disabled after last toggle")
	}
	if !p.AudioEnabled {
		t.Error("expected audio untouched")
	}
}

func TestSetMedia_UnknownParticipantOrKind(t *testing.T) {
	r := New(zerolog.Nop())
	if r.SetMedia("missing", domain.MediaAudio, false) {
		t.Error("expected false for unknown participant")
	}
	r.Insert(domain.PeerInfo{SocketID: "s1"})
	if r.SetMedia("s1", domain.MediaKind("screen"), false) {
		t.Error("expected false for unknown media kind")
	}
}

func TestMarkUnreachable_ClearedOnConnected(t *testing.T) {
	r := New(zerolog.Nop())
	r.Insert(domain.PeerInfo{SocketID: "s1"})

	r.MarkUnreachable("s1")
	p, _ := r.Get("s1")
	if !p.Unreachable || p.Linked {
		t.Fatalf("expected unreachable and unlinked, got %+v", p)
	}

	r.SetConnection("s1", domain.ConnectionConnected)
	p, _ = r.Get("s1")
	if p.Unreachable || !p.Linked {
		t.Errorf("expected reachable and linked, got %+v", p)
	}
}

func TestRemove(t *testing.T) {
	r := New(zerolog.Nop())
	r.Insert(domain.PeerInfo{SocketID: "s1"})

	if !r.Remove("s1") {
		t.Error("expected first remove to report true")
	}
	if r.Remove("s1") {
		t.Error("expected second remove to report false")
	}
	if r.Has("s1") {
		t.Error("expected s1 to be gone")
	}
}
