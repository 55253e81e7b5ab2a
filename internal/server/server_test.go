package server

import (
	"testing"

	"tetrecs/internal/lobby"
	"tetrecs/internal/protocol"
	"tetrecs/internal/storage"
)

func TestListChannels(t *testing.T) {
	env := setupTestEnv(t)
	c, err := env.mgr.Create("room")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c.AddPlayer("a", "alice", nil)

	var infos []lobby.Info
	getJSON(t, env.ts.URL+"/api/channels", 200, &infos)
	if len(infos) != 1 || infos[0].Name != "room" {
		t.Fatalf("expected [room], got %v", infos)
	}
	if infos[0].Host != "alice" || infos[0].Status != lobby.StatusWaiting {
		t.Fatalf("unexpected info %+v", infos[0])
	}
}

func TestListChannelsEmpty(t *testing.T) {
	env := setupTestEnv(t)
	var infos []lobby.Info
	getJSON(t, env.ts.URL+"/api/channels", 200, &infos)
	if len(infos) != 0 {
		t.Fatalf("expected no channels, got %v", infos)
	}
}

func TestGetChannelFound(t *testing.T) {
	env := setupTestEnv(t)
	c, _ := env.mgr.Create("room")
	c.AddPlayer("a", "alice", nil)
	c.AddPlayer("b", "bob", nil)

	var info lobby.Info
	getJSON(t, env.ts.URL+"/api/channels/room", 200, &info)
	if len(info.Players) != 2 || info.Players[1] != "bob" {
		t.Fatalf("expected alice and bob, got %v", info.Players)
	}
}

func TestGetChannelNotFound(t *testing.T) {
	env := setupTestEnv(t)
	getJSON(t, env.ts.URL+"/api/channels/nope", 404, nil)
}

func TestChannelResults(t *testing.T) {
	env := setupTestEnv(t)
	env.mgr.Create("room")
	err := env.store.SaveResults([]storage.ResultRow{
		{Channel: "room", Player: "alice", Score: 200, Rank: 1},
		{Channel: "room", Player: "bob", Score: 50, Rank: 2},
	})
	if err != nil {
		t.Fatalf("save results: %v", err)
	}

	var rows []resultJSON
	getJSON(t, env.ts.URL+"/api/channels/room/results", 200, &rows)
	if len(rows) != 2 || rows[0] != (resultJSON{Player: "alice", Score: 200, Rank: 1}) {
		t.Fatalf("unexpected results %v", rows)
	}
	getJSON(t, env.ts.URL+"/api/channels/nope/results", 404, nil)
}

func TestHiScoresAPI(t *testing.T) {
	env := setupTestEnv(t)
	for _, ns := range []protocol.NameScore{{Name: "alice", Score: 100}, {Name: "bob", Score: 300}, {Name: "alice", Score: 200}} {
		if err := env.store.AddHiScore(ns.Name, ns.Score); err != nil {
			t.Fatalf("add hiscore: %v", err)
		}
	}

	var all []protocol.NameScore
	getJSON(t, env.ts.URL+"/api/hiscores", 200, &all)
	if len(all) != 3 || all[0].Score != 300 {
		t.Fatalf("unexpected scores %v", all)
	}

	var unique []protocol.NameScore
	getJSON(t, env.ts.URL+"/api/hiscores?unique=true&limit=5", 200, &unique)
	want := []protocol.NameScore{{Name: "bob", Score: 300}, {Name: "alice", Score: 200}}
	if len(unique) != 2 || unique[0] != want[0] || unique[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, unique)
	}
}

func TestHiScoresBadLimit(t *testing.T) {
	env := setupTestEnv(t)
	getJSON(t, env.ts.URL+"/api/hiscores?limit=0", 400, nil)
	getJSON(t, env.ts.URL+"/api/hiscores?limit=abc", 400, nil)
}
