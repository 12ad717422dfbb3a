package domain

// Reservation — успешно списанные места одной позиции заказа.
// Журнал резервов позволяет откатить уже выполненные шаги в обратном порядке.
type Reservation struct {
	LessonID string
	Qty      int
}

// ReservationLog — упорядоченный журнал резервов в рамках одного оформления.
type ReservationLog struct {
	entries []Reservation
}

// Record добавляет успешный резерв в журнал.
func (l *ReservationLog) Record(r Reservation) {
	l.entries = append(l.entries, r)
}

// Reversed возвращает резервы в порядке, обратном записи.
func (l *ReservationLog) Reversed() []Reservation {
	out := make([]Reservation, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// Len возвращает число записанных резервов.
func (l *ReservationLog) Len() int {
	return len(l.entries)
}
