package channeldb_test

import (
	"path/filepath"
	"testing"

	"github.com/hashplex/lightningd/channeldb"
	"github.com/hashplex/lightningd/lnpeer"
)

func newTestStore(t *testing.T) *channeldb.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := channeldb.Open(filepath.Join(dir, "channel.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecord(peer lnpeer.Identity) *channeldb.Record {
	return &channeldb.Record{
		Peer:         peer,
		AnchorPoint:  channeldb.AnchorPoint{Vout: 0},
		MyIndex:      0,
		OurBalance:   50000000,
		TheirBalance: 25000000,
		State:        channeldb.StateNormal,
	}
}

func TestCreateGetUpdateDelete(t *testing.T) {
	store := newTestStore(t)
	peer := lnpeer.Identity("http://bob/")

	if err := store.Create(sampleRecord(peer)); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(peer)
	if err != nil {
		t.Fatal(err)
	}
	if got.OurBalance != 50000000 {
		t.Fatalf("got balance %d", got.OurBalance)
	}

	err = store.Update(peer, func(r *channeldb.Record) error {
		r.OurBalance -= 5000000
		r.TheirBalance += 5000000
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err = store.Get(peer)
	if err != nil {
		t.Fatal(err)
	}
	if got.OurBalance != 45000000 || got.TheirBalance != 30000000 {
		t.Fatalf("unexpected balances after update: %+v", got)
	}

	if err := store.Delete(peer); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(peer); err == nil {
		t.Fatal("expected error after delete")
	}
}

func TestCreateDuplicateAnchorPointRejected(t *testing.T) {
	store := newTestStore(t)

	r1 := sampleRecord(lnpeer.Identity("http://alice/"))
	r2 := sampleRecord(lnpeer.Identity("http://carol/"))
	r2.AnchorPoint = r1.AnchorPoint

	if err := store.Create(r1); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(r2); err == nil {
		t.Fatal("expected duplicate anchor point to be rejected")
	}
}

func TestUpdateFailureDoesNotPersist(t *testing.T) {
	store := newTestStore(t)
	peer := lnpeer.Identity("http://bob/")
	if err := store.Create(sampleRecord(peer)); err != nil {
		t.Fatal(err)
	}

	wantErr := errAbort
	err := store.Update(peer, func(r *channeldb.Record) error {
		r.OurBalance = 0
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected abort error, got %v", err)
	}

	got, err := store.Get(peer)
	if err != nil {
		t.Fatal(err)
	}
	if got.OurBalance != 50000000 {
		t.Fatalf("update should have rolled back, got balance %d", got.OurBalance)
	}
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

var errAbort = sentinelError("abort")
