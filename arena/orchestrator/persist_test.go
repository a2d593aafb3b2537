package orchestrator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"snake-arena/arena/ladder"
	"snake-arena/arena/rating"
	"snake-arena/arena/store"
)

// silentServer accepts connections and never answers, like a hung database.
func silentServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var conns []net.Conn
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, c)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		<-done
		for _, c := range conns {
			c.Close()
		}
	})
	return ln.Addr().String()
}

func TestDBMirrorGivesUpOnHungDatabase(t *testing.T) {
	addr := silentServer(t)
	db, err := store.Open(context.Background(), "postgres://arena@"+addr+"/arena?sslmode=disable")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	m := dbMirror{db: db, model: "trueskill", runID: uuid.New(), timeout: 200 * time.Millisecond}
	snap := ladder.Snapshot{Ratings: rating.Table{"a": {Mu: 25, Sigma: 8}}}

	errc := make(chan error, 1)
	start := time.Now()
	go func() { errc <- m.Persist(context.WithoutCancel(context.Background()), snap) }()
	select {
	case err := <-errc:
		if err == nil {
			t.Fatalf("Persist succeeded against a silent server")
		}
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Fatalf("Persist took %v", elapsed)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Persist still blocked after 10s")
	}
}
