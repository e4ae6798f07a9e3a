package transcript_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/earshotlabs/earshot/pkg/transcript"
)

func TestAppend_AssignsSequentialSeq(t *testing.T) {
	l := transcript.NewLog(10)
	for i := 1; i <= 5; i++ {
		e := l.Append(fmt.Sprintf("entry %d", i))
		if e.Seq != uint64(i) {
			t.Errorf("entry %d: seq = %d, want %d", i, e.Seq, i)
		}
	}
	if l.LastSeq() != 5 {
		t.Errorf("LastSeq = %d, want 5", l.LastSeq())
	}
}

func TestAppend_EvictsOldestAtCapacity(t *testing.T) {
	l := transcript.NewLog(100)
	for i := 1; i <= 150; i++ {
		l.Append(fmt.Sprintf("line %d", i))
	}

	snap := l.Snapshot()
	if len(snap) != 100 {
		t.Fatalf("snapshot length = %d, want 100", len(snap))
	}
	if snap[0].Text != "line 51" {
		t.Errorf("oldest retained entry = %q, want \"line 51\"", snap[0].Text)
	}
	if snap[99].Text != "line 150" {
		t.Errorf("newest retained entry = %q, want \"line 150\"", snap[99].Text)
	}
	// Sequence numbers survive eviction untouched.
	if snap[0].Seq != 51 || snap[99].Seq != 150 {
		t.Errorf("seq range = [%d, %d], want [51, 150]", snap[0].Seq, snap[99].Seq)
	}
}

func TestSnapshot_IsOwnedCopy(t *testing.T) {
	l := transcript.NewLog(10)
	l.Append("original")

	snap := l.Snapshot()
	snap[0].Text = "mutated"

	if got := l.Snapshot()[0].Text; got != "original" {
		t.Errorf("log entry changed through snapshot: %q", got)
	}
}

func TestSnapshot_OrderedOldestFirst(t *testing.T) {
	l := transcript.NewLog(3)
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		l.Append(text)
	}
	snap := l.Snapshot()
	want := []string{"c", "d", "e"}
	if len(snap) != len(want) {
		t.Fatalf("snapshot length = %d, want %d", len(snap), len(want))
	}
	for i, w := range want {
		if snap[i].Text != w {
			t.Errorf("snapshot[%d] = %q, want %q", i, snap[i].Text, w)
		}
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].Seq <= snap[i-1].Seq {
			t.Errorf("seq not increasing at %d: %d then %d", i, snap[i-1].Seq, snap[i].Seq)
		}
	}
}

func TestCurrentText(t *testing.T) {
	l := transcript.NewLog(2)
	if got := l.CurrentText(); got != "" {
		t.Errorf("empty log CurrentText = %q, want empty", got)
	}
	l.Append("first")
	l.Append("second")
	l.Append("third") // evicts "first"
	if got := l.CurrentText(); got != "third" {
		t.Errorf("CurrentText = %q, want third", got)
	}
}

func TestNewLog_DefaultCapacity(t *testing.T) {
	l := transcript.NewLog(0)
	if l.Capacity() != transcript.DefaultCapacity {
		t.Errorf("capacity = %d, want %d", l.Capacity(), transcript.DefaultCapacity)
	}
}

func TestWithClock(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := transcript.NewLog(4, transcript.WithClock(func() time.Time { return fixed }))
	e := l.Append("stamped")
	if !e.Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, fixed)
	}
}

func TestConcurrentAppendAndSnapshot(t *testing.T) {
	l := transcript.NewLog(50)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	// One writer in the role of the capture loop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				l.Append(fmt.Sprintf("line %d", i))
			}
		}
	}()

	// Readers in the role of display and persistence loops. Observed
	// length must never shrink and snapshots must stay seq-ordered.
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prevLen := 0
			for i := 0; i < 200; i++ {
				snap := l.Snapshot()
				if len(snap) < prevLen {
					t.Errorf("snapshot shrank: %d then %d", prevLen, len(snap))
					return
				}
				prevLen = len(snap)
				for j := 1; j < len(snap); j++ {
					if snap[j].Seq != snap[j-1].Seq+1 {
						t.Errorf("seq gap in snapshot: %d then %d", snap[j-1].Seq, snap[j].Seq)
						return
					}
				}
				_ = l.CurrentText()
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	close(stop)
	wg.Wait()
}
