package endpoint

import (
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/PrusaCam/internal/config"
)

func TestNewTable_Empty(t *testing.T) {
	_, err := NewTable(nil)
	if !errors.Is(err, ErrNoEndpoints) {
		t.Errorf("expected ErrNoEndpoints, got %v", err)
	}
}

func TestNewTable_MinInterval(t *testing.T) {
	tbl, err := NewTable([]Endpoint{
		{Name: "slow", Interval: 30},
		{Name: "fast", Interval: 10},
		{Name: "medium", Interval: 20},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if tbl.MinInterval() != 10 {
		t.Errorf("MinInterval = %d, want 10", tbl.MinInterval())
	}
	if tbl.Len() != 3 {
		t.Errorf("Len = %d, want 3", tbl.Len())
	}
}

func TestNewTable_CopiesEntries(t *testing.T) {
	entries := []Endpoint{{Name: "a", Interval: 5}}
	tbl, _ := NewTable(entries)
	entries[0].Interval = 1

	if tbl.MinInterval() != 5 || tbl.All()[0].Interval != 5 {
		t.Error("table must not alias the caller's slice")
	}
}

func TestTable_Due(t *testing.T) {
	tbl, _ := NewTable([]Endpoint{
		{Name: "ten", Interval: 10},
		{Name: "thirty", Interval: 30},
	})

	cases := []struct {
		name  string
		since time.Duration
		want  []string
	}{
		{"never_ran", 100 * 365 * 24 * time.Hour, []string{"ten", "thirty"}},
		{"exactly_ten", 10 * time.Second, nil},
		{"eleven", 11 * time.Second, []string{"ten"}},
		{"thirty_one", 31 * time.Second, []string{"ten", "thirty"}},
		{"zero", 0, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			due := tbl.Due(tc.since)
			if len(due) != len(tc.want) {
				t.Fatalf("due = %v, want %v", due, tc.want)
			}
			for i, e := range due {
				if e.Name != tc.want[i] {
					t.Errorf("due[%d] = %s, want %s", i, e.Name, tc.want[i])
				}
			}
		})
	}
}

func TestEndpoint_HasInfo(t *testing.T) {
	if (Endpoint{InfoURL: ""}).HasInfo() {
		t.Error("empty info URL should not have info")
	}
	if !(Endpoint{InfoURL: "http://x/info"}).HasInfo() {
		t.Error("info URL should have info")
	}
}

func TestFromConfig(t *testing.T) {
	tbl, err := FromConfig([]config.EndpointConfig{
		{Name: "connect", Interval: 30, SnapshotURL: "https://c/snap", InfoURL: "https://c/info"},
		{Name: "local", Interval: 10, SnapshotURL: "http://l/snap"},
	})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	all := tbl.All()
	if all[0].Name != "connect" || all[1].Name != "local" {
		t.Errorf("order not preserved: %+v", all)
	}
	if all[0].InfoURL != "https://c/info" || all[1].HasInfo() {
		t.Errorf("info URLs not mapped: %+v", all)
	}
	if tbl.MinInterval() != 10 {
		t.Errorf("MinInterval = %d, want 10", tbl.MinInterval())
	}
}

func TestFromConfig_Empty(t *testing.T) {
	if _, err := FromConfig(nil); !errors.Is(err, ErrNoEndpoints) {
		t.Errorf("expected ErrNoEndpoints, got %v", err)
	}
}
