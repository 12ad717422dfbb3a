package domain

import (
	"errors"
	"strings"
	"testing"
)

func validLesson() Lesson {
	return Lesson{
		ID:             "a9a4f2f5-5d8b-4a55-8c62-1b4d5a6f7e80",
		Topic:          "Math",
		Location:       "London",
		PriceMinor:     1500,
		RemainingSpace: 5,
		TotalSpace:     5,
		Icon:           "math.png",
	}
}

func TestLessonValidate(t *testing.T) {
	tests := []struct {
		name     string
		mut      func(l *Lesson)
		errCount int
	}{
		{name: "valid", mut: func(*Lesson) {}, errCount: 0},
		{name: "bad id", mut: func(l *Lesson) { l.ID = "lesson-1" }, errCount: 1},
		{name: "long topic", mut: func(l *Lesson) { l.Topic = strings.Repeat("t", 51) }, errCount: 1},
		{name: "blank location", mut: func(l *Lesson) { l.Location = "  " }, errCount: 1},
		{name: "negative price", mut: func(l *Lesson) { l.PriceMinor = -1 }, errCount: 1},
		{name: "negative space", mut: func(l *Lesson) { l.RemainingSpace = -1; l.TotalSpace = -1 }, errCount: 2},
		{name: "jpg icon", mut: func(l *Lesson) { l.Icon = "math.jpg" }, errCount: 1},
		{name: "bare extension", mut: func(l *Lesson) { l.Icon = ".png" }, errCount: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := validLesson()
			tt.mut(&l)
			errs := l.Validate()
			if len(errs) != tt.errCount {
				t.Fatalf("Validate() errors = %v, want %d", errs, tt.errCount)
			}
			for _, err := range errs {
				if !errors.Is(err, ErrInvalidLesson) {
					t.Fatalf("expected ErrInvalidLesson, got %v", err)
				}
			}
		})
	}
}

func TestLessonMatchesQuery(t *testing.T) {
	l := validLesson()
	cases := map[string]bool{
		"":       true,
		"MATH":   true,
		"lond":   true,
		"1500":   true,
		"5":      true,
		"paris":  false,
		"999999": false,
	}
	for q, want := range cases {
		if got := l.MatchesQuery(q); got != want {
			t.Fatalf("MatchesQuery(%q) = %v, want %v", q, got, want)
		}
	}
}

func TestReservationLogReversed(t *testing.T) {
	var log ReservationLog
	log.Record(Reservation{LessonID: "a", Qty: 1})
	log.Record(Reservation{LessonID: "b", Qty: 2})
	log.Record(Reservation{LessonID: "c", Qty: 3})

	got := log.Reversed()
	if log.Len() != 3 || len(got) != 3 {
		t.Fatalf("unexpected log length %d", len(got))
	}
	if got[0].LessonID != "c" || got[2].LessonID != "a" {
		t.Fatalf("unexpected order %+v", got)
	}
}
