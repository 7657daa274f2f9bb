package routedb_test

import (
	"path/filepath"
	"testing"

	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/routedb"
)

func newTestStore(t *testing.T) *routedb.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := routedb.Open(filepath.Join(dir, "route.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutPeerAndList(t *testing.T) {
	store := newTestStore(t)

	if err := store.PutPeer(routedb.PeerRow{Peer: "http://bob/", Fee: 10}); err != nil {
		t.Fatal(err)
	}
	if err := store.PutPeer(routedb.PeerRow{Peer: "http://carol/", Fee: 5}); err != nil {
		t.Fatal(err)
	}

	rows, err := store.Peers()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 peer rows, got %d", len(rows))
	}

	if err := store.DeletePeer("http://bob/"); err != nil {
		t.Fatal(err)
	}
	rows, err = store.Peers()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Peer != "http://carol/" {
		t.Fatalf("unexpected peer rows after delete: %+v", rows)
	}
}

func TestRouteNotFoundReturnsNilNil(t *testing.T) {
	store := newTestStore(t)

	row, err := store.Route("http://nowhere/")
	if err != nil {
		t.Fatal(err)
	}
	if row != nil {
		t.Fatalf("expected nil route, got %+v", row)
	}
}

func TestRoutes(t *testing.T) {
	store := newTestStore(t)

	if err := store.PutRoute(routedb.RouteRow{Destination: "http://dave/", Cost: 15, NextHop: "http://bob/"}); err != nil {
		t.Fatal(err)
	}
	if err := store.PutRoute(routedb.RouteRow{Destination: "http://erin/", Cost: 8, NextHop: "http://carol/"}); err != nil {
		t.Fatal(err)
	}

	rows, err := store.Routes()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(rows))
	}
}

func TestPutRouteAndOverwrite(t *testing.T) {
	store := newTestStore(t)
	dest := lnpeer.Identity("http://dave/")

	err := store.PutRoute(routedb.RouteRow{Destination: dest, Cost: 15, NextHop: "http://bob/"})
	if err != nil {
		t.Fatal(err)
	}

	row, err := store.Route(dest)
	if err != nil {
		t.Fatal(err)
	}
	if row == nil || row.Cost != 15 || row.NextHop != "http://bob/" {
		t.Fatalf("unexpected route: %+v", row)
	}

	// A cheaper route for the same destination replaces the old one -
	// the store itself holds no tie-break policy, that belongs to the
	// routing package; it just persists whatever it is told.
	err = store.PutRoute(routedb.RouteRow{Destination: dest, Cost: 9, NextHop: "http://carol/"})
	if err != nil {
		t.Fatal(err)
	}
	row, err = store.Route(dest)
	if err != nil {
		t.Fatal(err)
	}
	if row.Cost != 9 || row.NextHop != "http://carol/" {
		t.Fatalf("expected overwritten route, got %+v", row)
	}
}
