package paste

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultTombstones = 4096

// tombstones remembers identifiers already refused as expired. Expiry is
// permanent, so a hit can be answered without touching the store or the
// per-id lock. Missing ids are never recorded because they may be created
// later.
type tombstones struct {
	c *lru.Cache[string, Reason]
}

func newTombstones(size int) (*tombstones, error) {
	if size < 0 {
		return &tombstones{}, nil
	}
	if size == 0 {
		size = defaultTombstones
	}
	c, err := lru.New[string, Reason](size)
	if err != nil {
		return nil, err
	}
	return &tombstones{c: c}, nil
}

func (t *tombstones) add(id string, reason Reason) {
	if t == nil || t.c == nil || reason == ReasonMissing {
		return
	}
	t.c.Add(id, reason)
}

func (t *tombstones) get(id string) (Reason, bool) {
	if t == nil || t.c == nil {
		return "", false
	}
	return t.c.Get(id)
}
