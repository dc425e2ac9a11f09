package snowflake

import (
	"testing"
	"time"
)

func TestNewRejectsBadWorker(t *testing.T) {
	if _, err := New(MaxWorkerID + 1); err == nil {
		t.Error("Expected error for worker ID above maximum")
	}
	if _, err := New(-1); err == nil {
		t.Error("Expected error for negative worker ID")
	}
}

func TestGenerateSnowflake(t *testing.T) {
	g, err := New(3)
	if err != nil {
		t.Fatal(err)
	}

	id, err := g.Generate()
	if err != nil {
		t.Fatal(err)
	}

	parts := Extract(id)
	if parts.WorkerID != 3 {
		t.Errorf("got worker ID %d, want 3", parts.WorkerID)
	}
	if ExtractTimestamp(id) != parts.Timestamp {
		t.Errorf("ExtractTimestamp disagrees with Extract")
	}
}

func TestSnowflakesAreIncreasing(t *testing.T) {
	g, err := New(0)
	if err != nil {
		t.Fatal(err)
	}

	var last int64
	for i := 0; i < 3000; i++ {
		id, err := g.Generate()
		if err != nil {
			t.Fatal(err)
		}
		if id <= last {
			t.Fatalf("id %d is not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestSnowflakeIncrementOverflow(t *testing.T) {
	g, err := New(0)
	if err != nil {
		t.Fatal(err)
	}
	frozen := time.UnixMilli(1_700_000_000_000)
	g.now = func() time.Time { return frozen }

	for i := 0; i < 100000; i++ {
		_, err := g.Generate()
		if err != nil {
			return
		}
	}
	t.Error("Expected increment overflow, but there wasn't")
}

func TestSnowflakeClockBackwards(t *testing.T) {
	g, err := New(0)
	if err != nil {
		t.Fatal(err)
	}

	current := time.UnixMilli(1_700_000_000_500)
	g.now = func() time.Time { return current }

	first, err := g.Generate()
	if err != nil {
		t.Fatal(err)
	}

	current = current.Add(-time.Second)
	second, err := g.Generate()
	if err != nil {
		t.Fatal(err)
	}

	if second <= first {
		t.Errorf("id %d issued after clock skew is not greater than %d", second, first)
	}
}
