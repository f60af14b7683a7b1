package storage

import (
	"path/filepath"
)

// resolver caches fid → parent-fid mappings so the hot path resolves a FID
// in O(depth) map lookups. The cache is volatile: after a restart it is
// empty and the first resolution of each FID falls back to a breadth-first
// scan of the data directory, which repopulates the cache along the
// discovered path.
//
// Entries are inserted on create and BFS discovery, updated on rename, and
// removed on delete. Readers share the lock; every mutation takes it
// exclusively. Rename performs its host rename inside the write critical
// section; delete unlinks the numbered file first and then drops the entry
// under the write lock, before unlinking the named file (see Store.remove,
// Store.Rename).
type resolver struct {
	parent map[uint64]uint64
}

func newResolver() *resolver {
	return &resolver{parent: make(map[uint64]uint64)}
}

// maxResolveDepth bounds the cached-chain walk. A chain longer than this
// means the cache is corrupt; fall back to the disk scan.
const maxResolveDepth = 4096

// resolve maps a FID to its host path. Returns false when no object with
// that FID exists (deleted, never created, or an orphan from a crash
// window).
func (s *Store) resolve(fid uint64) (string, bool, error) {
	if fid == RootFID {
		return s.rootPath(), true, nil
	}

	// Hot path: walk the cached parent chain up to the root.
	s.mu.RLock()
	chain := make([]uint64, 0, 8)
	cur := fid
	complete := true
	for cur != RootFID {
		p, ok := s.res.parent[cur]
		if !ok || len(chain) > maxResolveDepth {
			complete = false
			break
		}
		chain = append(chain, cur)
		cur = p
	}
	s.mu.RUnlock()

	if complete {
		path := s.rootPath()
		for i := len(chain) - 1; i >= 0; i-- {
			path = filepath.Join(path, numberedName(chain[i]))
		}
		return path, true, nil
	}

	return s.bfsFind(fid)
}

// bfsFind scans the tree from the root, breadth first, looking for the
// numbered file whose FID is target. Only children with a matching named
// sibling are considered (crash orphans are invisible). On success the
// parent links along the discovered path are inserted into the cache.
func (s *Store) bfsFind(target uint64) (string, bool, error) {
	parentOf := make(map[uint64]uint64)
	pathOf := map[uint64]string{RootFID: s.rootPath()}
	queue := []uint64{RootFID}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		pairs, err := listPairs(pathOf[cur])
		if err != nil {
			// The directory may have been deleted while we scanned;
			// treat its subtree as absent.
			continue
		}

		for _, pair := range pairs {
			if _, seen := pathOf[pair.FID]; seen {
				continue
			}
			parentOf[pair.FID] = cur
			pathOf[pair.FID] = filepath.Join(pathOf[cur], numberedName(pair.FID))

			if pair.FID == target {
				s.mu.Lock()
				for f := target; f != RootFID; {
					p, ok := parentOf[f]
					if !ok {
						break
					}
					s.res.parent[f] = p
					f = p
				}
				s.mu.Unlock()
				return pathOf[pair.FID], true, nil
			}

			if pair.IsDir {
				queue = append(queue, pair.FID)
			}
		}
	}

	return "", false, nil
}

// cacheInsert records fid → parent after a successful create.
func (s *Store) cacheInsert(fid, parent uint64) {
	s.mu.Lock()
	s.res.parent[fid] = parent
	s.mu.Unlock()
}
