package archive

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	repoarchive "github.com/wolfeidau/repo-archive"
)

func gitSnapshot(tag string, n int) Snapshot[*GitIndex] {
	records := make([]RepoRecord, n)
	for i := range records {
		records[i] = RepoRecord{
			RawURL:    fmt.Sprintf("https://example.com/%s/%d", tag, i),
			LocalPath: "/" + tag,
		}
	}
	return Snapshot[*GitIndex]{
		Index:    NewGitIndex(records...),
		Digest:   repoarchive.DigestBytes([]byte(tag)),
		LoadedAt: time.Now(),
	}
}

func TestStoreReplace(t *testing.T) {
	first := gitSnapshot("a", 2)
	s := NewStore(first)
	require.Equal(t, first.Digest, s.Snapshot().Digest)

	second := gitSnapshot("b", 3)
	s.Replace(second)
	got := s.Snapshot()
	require.Equal(t, second.Digest, got.Digest)
	require.Equal(t, 3, got.Entries())
}

// Readers racing a writer must observe either the old or the new snapshot,
// never a mix of the two.
func TestStoreConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	a := gitSnapshot("a", 10)
	b := gitSnapshot("b", 20)
	s := NewStore(a)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				switch snap.Digest {
				case a.Digest:
					if snap.Entries() != 10 {
						t.Errorf("snapshot a has %d entries", snap.Entries())
						return
					}
					if _, ok := snap.Index.Get("https://example.com/a/0"); !ok {
						t.Error("snapshot a missing its own record")
						return
					}
				case b.Digest:
					if snap.Entries() != 20 {
						t.Errorf("snapshot b has %d entries", snap.Entries())
						return
					}
					if _, ok := snap.Index.Get("https://example.com/b/19"); !ok {
						t.Error("snapshot b missing its own record")
						return
					}
				default:
					t.Error("unknown snapshot digest")
					return
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		if i%2 == 0 {
			s.Replace(b)
		} else {
			s.Replace(a)
		}
	}
	close(stop)
	wg.Wait()
}
