package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestTrackerTally(t *testing.T) {
	var buf bytes.Buffer
	tr := NewWithWriter(&buf)
	tr.Start(3)
	tr.TableDone(true)
	tr.TableDone(false)
	tr.TableDone(true)

	if tr.Done() != 3 || tr.Failed() != 1 {
		t.Errorf("Done() = %d, Failed() = %d", tr.Done(), tr.Failed())
	}

	tr.Finish()
	if !strings.Contains(buf.String(), "Verified 3/3 tables") || !strings.Contains(buf.String(), "1 not OK") {
		t.Errorf("unexpected finish line: %q", buf.String())
	}
}

func TestTrackerWithoutStart(t *testing.T) {
	tr := NewWithWriter(new(bytes.Buffer))
	tr.TableDone(false)
	if tr.Done() != 1 || tr.Failed() != 1 {
		t.Errorf("Done() = %d, Failed() = %d", tr.Done(), tr.Failed())
	}
}

func TestTrackerConcurrentWorkers(t *testing.T) {
	tr := NewWithWriter(new(bytes.Buffer))
	tr.Start(100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.TableDone(i%10 != 0)
		}(i)
	}
	wg.Wait()

	if tr.Done() != 100 || tr.Failed() != 10 {
		t.Errorf("Done() = %d, Failed() = %d", tr.Done(), tr.Failed())
	}
}
