// Package routedb persists the router's PeerRow and RouteRow tables (§3),
// grounded on the same bbolt bucket convention as channeldb and on the
// PEERS/ROUTES tables of original_source/lightning.py.
package routedb

import (
	"encoding/json"
	"fmt"

	"github.com/coreos/bbolt"

	"github.com/hashplex/lightningd/lnpeer"
)

var (
	peerBucket  = []byte("peer-bucket")
	routeBucket = []byte("route-bucket")
)

// PeerRow records the fee we charge to forward across a direct channel.
type PeerRow struct {
	Peer lnpeer.Identity
	Fee  int64
}

// RouteRow records the best known path to a destination.
type RouteRow struct {
	Destination lnpeer.Identity
	Cost        int64
	NextHop     lnpeer.Identity
}

// Store is the persistent peer/route table.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens a route store at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(peerBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(routeBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutPeer inserts or replaces a PeerRow, created when a channel reaches
// `normal` per §3's lifecycle rule.
func (s *Store) PutPeer(row PeerRow) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		encoded, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return tx.Bucket(peerBucket).Put([]byte(row.Peer), encoded)
	})
}

// DeletePeer removes a PeerRow, destroyed when the channel is deleted.
func (s *Store) DeletePeer(peer lnpeer.Identity) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(peerBucket).Delete([]byte(peer))
	})
}

// Peers returns every direct peer we forward across, along with the fee we
// charge.
func (s *Store) Peers() ([]PeerRow, error) {
	var rows []PeerRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(peerBucket).ForEach(func(_, raw []byte) error {
			var row PeerRow
			if err := json.Unmarshal(raw, &row); err != nil {
				return err
			}
			rows = append(rows, row)
			return nil
		})
	})
	return rows, err
}

// Route looks up the current best route to destination, if any.
func (s *Store) Route(destination lnpeer.Identity) (*RouteRow, error) {
	var row RouteRow
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(routeBucket).Get([]byte(destination))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &row)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &row, nil
}

// Routes returns every known RouteRow, used by the router to replay its
// full table to a newly opened peer (§4.3's "brute-force convergence").
func (s *Store) Routes() ([]RouteRow, error) {
	var rows []RouteRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(routeBucket).ForEach(func(_, raw []byte) error {
			var row RouteRow
			if err := json.Unmarshal(raw, &row); err != nil {
				return err
			}
			rows = append(rows, row)
			return nil
		})
	})
	return rows, err
}

// PutRoute inserts or replaces the RouteRow for its destination.
func (s *Store) PutRoute(row RouteRow) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		encoded, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return tx.Bucket(routeBucket).Put([]byte(row.Destination), encoded)
	})
}

// ErrNoRoute is returned when a route lookup finds nothing and the caller
// requires one to exist.
type ErrNoRoute struct {
	Destination lnpeer.Identity
}

func (e *ErrNoRoute) Error() string {
	return fmt.Sprintf("no route to %s", e.Destination)
}
