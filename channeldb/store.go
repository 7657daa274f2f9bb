package channeldb

import (
	"encoding/json"
	"fmt"

	"github.com/coreos/bbolt"

	"github.com/hashplex/lightningd/lnpeer"
)

var (
	// channelBucket holds one key per live channel, keyed by peer
	// identity, value is the JSON-encoded Record.
	channelBucket = []byte("channel-bucket")

	// anchorIndexBucket maps an anchor point's string form to the owning
	// peer identity, enforcing the "at most one channel record per
	// anchor_point" invariant from §3.
	anchorIndexBucket = []byte("anchor-index-bucket")
)

// ErrNoSuchChannel is returned when an operation targets a peer with no
// channel record.
type ErrNoSuchChannel struct {
	Peer lnpeer.Identity
}

func (e *ErrNoSuchChannel) Error() string {
	return fmt.Sprintf("no channel record for peer %s", e.Peer)
}

// ErrAnchorPointInUse is returned by Create when the anchor point is already
// claimed by a different channel record.
type ErrAnchorPointInUse struct {
	Point AnchorPoint
}

func (e *ErrAnchorPointInUse) Error() string {
	return fmt.Sprintf("anchor point %s already in use", e.Point)
}

// Store is the persistent mapping from peer identity to ChannelRecord,
// backed by a bbolt database exactly as channeldb.DB wraps one in the
// teacher.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens a channel store at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(channelBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(anchorIndexBucket)
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

// Create inserts a brand new Record, failing if one already exists for this
// peer or if the anchor point is already claimed by another record.
func (s *Store) Create(r *Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		chans := tx.Bucket(channelBucket)
		if chans.Get([]byte(r.Peer)) != nil {
			return fmt.Errorf("channel record for peer %s already exists", r.Peer)
		}

		anchors := tx.Bucket(anchorIndexBucket)
		anchorKey := []byte(r.AnchorPoint.String())
		if owner := anchors.Get(anchorKey); owner != nil && string(owner) != string(r.Peer) {
			return &ErrAnchorPointInUse{Point: r.AnchorPoint}
		}

		encoded, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := chans.Put([]byte(r.Peer), encoded); err != nil {
			return err
		}
		return anchors.Put(anchorKey, []byte(r.Peer))
	})
}

// Get fetches the Record for peer.
func (s *Store) Get(peer lnpeer.Identity) (*Record, error) {
	var r Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(channelBucket).Get([]byte(peer))
		if raw == nil {
			return &ErrNoSuchChannel{Peer: peer}
		}
		return json.Unmarshal(raw, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Update performs an atomic read-modify-write on the Record for peer: it
// loads the current record, passes it to mutate, and persists whatever
// mutate leaves behind unless mutate returns an error, in which case no
// write occurs. This is the only way callers should change a Record once
// created, satisfying §5's atomic-per-key requirement.
func (s *Store) Update(peer lnpeer.Identity, mutate func(*Record) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		chans := tx.Bucket(channelBucket)
		raw := chans.Get([]byte(peer))
		if raw == nil {
			return &ErrNoSuchChannel{Peer: peer}
		}

		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		oldAnchorKey := []byte(r.AnchorPoint.String())

		if err := mutate(&r); err != nil {
			return err
		}

		// Move the anchor-point index entry when mutate changes the anchor.
		if newAnchorKey := []byte(r.AnchorPoint.String()); string(newAnchorKey) != string(oldAnchorKey) {
			anchors := tx.Bucket(anchorIndexBucket)
			if owner := anchors.Get(newAnchorKey); owner != nil && string(owner) != string(peer) {
				return &ErrAnchorPointInUse{Point: r.AnchorPoint}
			}
			if err := anchors.Delete(oldAnchorKey); err != nil {
				return err
			}
			if err := anchors.Put(newAnchorKey, []byte(peer)); err != nil {
				return err
			}
		}

		encoded, err := json.Marshal(&r)
		if err != nil {
			return err
		}
		return chans.Put([]byte(peer), encoded)
	})
}

// Delete removes the Record for peer along with its anchor-point index
// entry, per the lifecycle rule in §3 ("destroyed when settlement broadcast
// succeeds or a cooperative close ACK is received").
func (s *Store) Delete(peer lnpeer.Identity) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		chans := tx.Bucket(channelBucket)
		raw := chans.Get([]byte(peer))
		if raw == nil {
			return &ErrNoSuchChannel{Peer: peer}
		}
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}

		if err := chans.Delete([]byte(peer)); err != nil {
			return err
		}
		return tx.Bucket(anchorIndexBucket).Delete([]byte(r.AnchorPoint.String()))
	})
}

// Exists reports whether a Record is present for peer.
func (s *Store) Exists(peer lnpeer.Identity) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(channelBucket).Get([]byte(peer)) != nil
		return nil
	})
	return found, err
}

// ForEach calls fn once per stored Record. fn must not mutate the store.
func (s *Store) ForEach(fn func(*Record) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(channelBucket).ForEach(func(_, raw []byte) error {
			var r Record
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			return fn(&r)
		})
	})
}
