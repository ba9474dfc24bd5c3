package schedule

import (
	"testing"
	"time"

	"untisched/internal/model"
)

func entry(date, start, end int, subject string) model.Entry {
	return model.Entry{
		Date:      date,
		StartTime: start,
		EndTime:   end,
		Subjects:  []model.Element{{Name: subject}},
	}
}

func defaultPrefs() model.Preferences {
	return model.Preferences{Settings: model.DefaultSettings()}
}

// referenceDate is Monday 2024-06-10; its week starts Sunday 2024-06-09.
var (
	reference = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	fixedNow  = func() time.Time { return time.Date(2024, 6, 10, 7, 0, 0, 0, time.UTC) }
)

func TestOrganizeBucketShape(t *testing.T) {
	entries := []model.Entry{
		entry(20240610, 800, 845, "Math"),
		entry(20240611, 900, 945, "English"),
	}

	t.Run("all buckets when empty days requested", func(t *testing.T) {
		days := Organize(entries, defaultPrefs(), reference, 14, Options{Now: fixedNow, IncludeEmptyDays: true})
		if len(days) != 14 {
			t.Fatalf("got %d buckets, want 14", len(days))
		}
	})

	t.Run("first week always emitted, later empty days dropped", func(t *testing.T) {
		days := Organize(entries, defaultPrefs(), reference, 14, Options{Now: fixedNow})
		if len(days) != 7 {
			t.Fatalf("got %d buckets, want 7", len(days))
		}
	})

	t.Run("non-empty second-week day survives", func(t *testing.T) {
		withLate := append(entries, entry(20240618, 1000, 1045, "Physics"))
		days := Organize(withLate, defaultPrefs(), reference, 14, Options{Now: fixedNow})
		if len(days) != 8 {
			t.Fatalf("got %d buckets, want 8", len(days))
		}
		last := days[len(days)-1]
		if len(last.Entries) != 1 || last.Entries[0].Date != 20240618 {
			t.Errorf("last bucket = %+v, want the 2024-06-18 entry", last)
		}
	})
}

func TestOrganizeSortsByStartTimeStable(t *testing.T) {
	entries := []model.Entry{
		entry(20240610, 1000, 1045, "Chemistry"),
		entry(20240610, 800, 845, "Math"),
		// Same start time as Math; must keep its position after it.
		entry(20240610, 800, 845, "Biology"),
	}

	days := Organize(entries, defaultPrefs(), reference, 7, Options{Now: fixedNow})
	bucket := days[1].Entries // Sunday is index 0, Monday index 1
	if len(bucket) != 3 {
		t.Fatalf("got %d entries, want 3", len(bucket))
	}

	var got []string
	for _, e := range bucket {
		name, _ := e.Subject()
		got = append(got, name)
	}
	want := []string{"Math", "Biology", "Chemistry"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sorted order = %v, want %v", got, want)
		}
	}
}

func TestOrganizeFilters(t *testing.T) {
	entries := []model.Entry{
		entry(20240610, 800, 845, "Math"),
		entry(20240610, 900, 945, "English"),
	}

	t.Run("filtered subject is dropped", func(t *testing.T) {
		prefs := defaultPrefs()
		prefs.FilteredClasses = []string{"Math"}
		days := Organize(entries, prefs, reference, 7, Options{Now: fixedNow})
		for _, e := range days[1].Entries {
			if name, _ := e.Subject(); name == "Math" {
				t.Fatal("Math should be filtered out")
			}
		}
		if len(days[1].Entries) != 1 {
			t.Errorf("got %d entries, want 1", len(days[1].Entries))
		}
	})

	t.Run("empty filter set shows all", func(t *testing.T) {
		prefs := defaultPrefs()
		prefs.FilteredClasses = []string{}
		days := Organize(entries, prefs, reference, 7, Options{Now: fixedNow})
		if len(days[1].Entries) != 2 {
			t.Errorf("got %d entries, want 2", len(days[1].Entries))
		}
	})
}

func TestOrganizeCancelled(t *testing.T) {
	cancelled := entry(20240610, 800, 845, "Math")
	cancelled.Code = model.CodeCancelled
	entries := []model.Entry{cancelled, entry(20240610, 900, 945, "English")}

	t.Run("shown by default", func(t *testing.T) {
		days := Organize(entries, defaultPrefs(), reference, 7, Options{Now: fixedNow})
		if len(days[1].Entries) != 2 {
			t.Errorf("got %d entries, want 2", len(days[1].Entries))
		}
	})

	t.Run("dropped when disabled", func(t *testing.T) {
		prefs := defaultPrefs()
		prefs.Settings.ShowCancelledClasses = false
		days := Organize(entries, prefs, reference, 7, Options{Now: fixedNow})
		if len(days[1].Entries) != 1 {
			t.Fatalf("got %d entries, want 1", len(days[1].Entries))
		}
		if name, _ := days[1].Entries[0].Subject(); name != "English" {
			t.Errorf("remaining entry = %q, want English", name)
		}
	})
}

func TestOrganizeEdgeCases(t *testing.T) {
	t.Run("missing subject excluded", func(t *testing.T) {
		entries := []model.Entry{
			{Date: 20240610, StartTime: 800, EndTime: 845}, // no subjects
			entry(20240610, 900, 945, "English"),
		}
		days := Organize(entries, defaultPrefs(), reference, 7, Options{Now: fixedNow})
		if len(days[1].Entries) != 1 {
			t.Errorf("got %d entries, want 1", len(days[1].Entries))
		}
	})

	t.Run("out-of-range date silently omitted", func(t *testing.T) {
		entries := []model.Entry{entry(20240701, 800, 845, "Math")}
		days := Organize(entries, defaultPrefs(), reference, 7, Options{Now: fixedNow})
		for _, d := range days {
			if len(d.Entries) != 0 {
				t.Fatalf("bucket %s unexpectedly has entries", d.Title)
			}
		}
	})

	t.Run("input never mutated", func(t *testing.T) {
		entries := []model.Entry{
			entry(20240610, 1000, 1045, "Chemistry"),
			entry(20240610, 800, 845, "Math"),
		}
		Organize(entries, defaultPrefs(), reference, 7, Options{Now: fixedNow})
		if name, _ := entries[0].Subject(); name != "Chemistry" {
			t.Error("Organize reordered the input slice")
		}
	})
}

func TestOrganizeScenario(t *testing.T) {
	entries := []model.Entry{entry(20240610, 800, 845, "Math")}

	days := Organize(entries, defaultPrefs(), reference, 7, Options{Now: fixedNow})
	if len(days) != 7 {
		t.Fatalf("got %d buckets, want 7", len(days))
	}

	monday := days[1]
	if monday.Title != "Monday, June 10 (Today)" {
		t.Errorf("title = %q, want %q", monday.Title, "Monday, June 10 (Today)")
	}
	if len(monday.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(monday.Entries))
	}
	if got := DisplayLine(monday.Entries[0]); got != "8:00 - 8:45 Math" {
		t.Errorf("DisplayLine = %q, want %q", got, "8:00 - 8:45 Math")
	}
}
