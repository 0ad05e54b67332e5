// Package renewal реализует календарную логику продления кредитов.
package renewal

import (
	"strings"
	"time"

	"github.com/mmeshcher/cardbook/internal/model"
)

const (
	minYear = 1
	maxYear = 9999
)

const defaultExpiringThreshold = 7

// Engine вычисляет границы периодов и решает, нужно ли продлевать кредит.
// Все вычисления выполняются в одном часовом поясе loc.
type Engine struct {
	loc *time.Location
	now func() time.Time
}

// NewEngine создаёт движок продления с указанным часовым поясом и источником текущего времени.
func NewEngine(loc *time.Location, now func() time.Time) *Engine {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{loc: loc, now: now}
}

// Location возвращает часовой пояс календаря.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Now возвращает текущий момент в часовом поясе календаря.
func (e *Engine) Now() time.Time {
	return e.now().In(e.loc)
}

// NormalizeFrequency приводит произвольную строку периодичности к model.Frequency.
// Нераспознанные значения ("Per Stay", "Every 4 Years", пустая строка) дают FrequencyManual.
func NormalizeFrequency(raw string) model.Frequency {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "monthly"):
		return model.FrequencyMonthly
	case strings.Contains(s, "quarter"):
		return model.FrequencyQuarterly
	case strings.Contains(s, "semi-annual"), strings.Contains(s, "semiannual"), strings.Contains(s, "semi annual"):
		return model.FrequencySemiAnnual
	case strings.Contains(s, "annual"), strings.Contains(s, "yearly"):
		return model.FrequencyAnnual
	default:
		return model.FrequencyManual
	}
}

func inRange(t time.Time) bool {
	y := t.Year()
	return y >= minYear && y <= maxYear
}

func (e *Engine) periodStart(t time.Time, f model.Frequency) (time.Time, bool) {
	if t.IsZero() || !inRange(t) {
		return t, false
	}

	local := t.In(e.loc)
	year, month := local.Year(), local.Month()

	switch f {
	case model.FrequencyMonthly:
	case model.FrequencyQuarterly:
		month = time.Month(1 + ((int(month)-1)/3)*3)
	case model.FrequencySemiAnnual:
		if month <= time.June {
			month = time.January
		} else {
			month = time.July
		}
	case model.FrequencyAnnual:
		month = time.January
	default:
		return t, false
	}

	return time.Date(year, month, 1, 0, 0, 0, 0, e.loc), true
}

func (e *Engine) nextPeriodStart(start time.Time, f model.Frequency) (time.Time, bool) {
	var next time.Time
	switch f {
	case model.FrequencyMonthly:
		next = start.AddDate(0, 1, 0)
	case model.FrequencyQuarterly:
		next = start.AddDate(0, 3, 0)
	case model.FrequencySemiAnnual:
		next = start.AddDate(0, 6, 0)
	case model.FrequencyAnnual:
		next = start.AddDate(1, 0, 0)
	default:
		return start, false
	}

	if !inRange(next) || !next.After(start) {
		return start, false
	}
	return next, true
}

func (e *Engine) periodEnd(start time.Time, f model.Frequency) (time.Time, bool) {
	next, ok := e.nextPeriodStart(start, f)
	if !ok {
		return start, false
	}
	end := next.Add(-time.Second)
	if !end.After(start) {
		return start, false
	}
	return end, true
}

// PeriodStart возвращает начало календарного периода, содержащего t.
// Для ручной периодичности и при ошибке вычисления возвращается t без изменений.
func (e *Engine) PeriodStart(t time.Time, f model.Frequency) time.Time {
	start, _ := e.periodStart(t, f)
	return start
}

// NextPeriodStart возвращает начало следующего периода после start.
func (e *Engine) NextPeriodStart(start time.Time, f model.Frequency) time.Time {
	next, _ := e.nextPeriodStart(start, f)
	return next
}

// PeriodEnd возвращает последнюю секунду периода, начинающегося в start.
func (e *Engine) PeriodEnd(start time.Time, f model.Frequency) time.Time {
	end, _ := e.periodEnd(start, f)
	return end
}

// CurrentPeriod возвращает границы текущего периода для периодичности f.
func (e *Engine) CurrentPeriod(f model.Frequency) (time.Time, time.Time, bool) {
	start, ok := e.periodStart(e.Now(), f)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	end, ok := e.periodEnd(start, f)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// InitialPeriod возвращает даты продления и истечения для нового кредита.
// Автоматические кредиты сразу выравниваются по текущему периоду,
// ручные получают период с текущего момента длиной в один месяц.
func (e *Engine) InitialPeriod(f model.Frequency) (time.Time, time.Time) {
	if start, end, ok := e.CurrentPeriod(f); ok {
		return start, end
	}
	now := e.Now()
	return now, now.AddDate(0, 1, 0)
}

// ShouldRenew сообщает, что сохранённый период кредита устарел относительно текущего момента.
// Состояние использования на решение не влияет.
func (e *Engine) ShouldRenew(c model.Credit) bool {
	if !c.Frequency.IsAutomatic() || c.RenewalDate.IsZero() {
		return false
	}

	stored, ok := e.periodStart(c.RenewalDate, c.Frequency)
	if !ok {
		return false
	}
	current, ok := e.periodStart(e.Now(), c.Frequency)
	if !ok {
		return false
	}

	return !stored.Equal(current)
}

// Renew переводит кредит в текущий период и сбрасывает отметку об использовании.
// Второе значение равно false, если продление не требуется или даты не удалось вычислить;
// в этом случае кредит возвращается без изменений.
func (e *Engine) Renew(c model.Credit) (model.Credit, bool) {
	if !e.ShouldRenew(c) {
		return c, false
	}

	start, end, ok := e.CurrentPeriod(c.Frequency)
	if !ok {
		return c, false
	}

	c.MarkUnused()
	c.RenewalDate = start
	c.ExpirationDate = end
	return c, true
}

// IsExpired сообщает, что конец периода кредита уже наступил.
func (e *Engine) IsExpired(c model.Credit) bool {
	return !e.Now().Before(c.ExpirationDate)
}

// DaysUntilExpiration возвращает число полных суток до истечения кредита.
// Для истёкших кредитов значение отрицательное или нулевое.
func (e *Engine) DaysUntilExpiration(c model.Credit) int {
	return int(c.ExpirationDate.Sub(e.Now()) / (24 * time.Hour))
}

// ExpiringThreshold возвращает порог "скоро истекает" в днях для периодичности f.
func ExpiringThreshold(f model.Frequency) int {
	switch f {
	case model.FrequencyMonthly:
		return 7
	case model.FrequencyQuarterly:
		return 14
	case model.FrequencyAnnual:
		return 30
	default:
		return defaultExpiringThreshold
	}
}

// IsExpiringSoon сообщает, что до истечения кредита осталось не больше порога его периодичности.
// Истёкший кредит скоро истекающим не считается.
func (e *Engine) IsExpiringSoon(c model.Credit) bool {
	if e.IsExpired(c) {
		return false
	}
	days := e.DaysUntilExpiration(c)
	return days >= 0 && days <= ExpiringThreshold(c.Frequency)
}
