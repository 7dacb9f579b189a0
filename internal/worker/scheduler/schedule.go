// Package scheduler は週次マッチングと日次削除ジョブの起動、
// およびマッチング結果の通知配信を提供する。
package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Schedule は次回の起動時刻を計算する。
type Schedule interface {
	// Next はafterより後で最も早い起動時刻を返す。
	Next(after time.Time) time.Time
}

// Weekly は毎週Weekday曜日のHour時（Location基準）に起動するスケジュール。
type Weekly struct {
	Weekday  time.Weekday
	Hour     int
	Location *time.Location
}

// Next はafterより後で最も早いWeekday曜日Hour:00を返す。
func (w Weekly) Next(after time.Time) time.Time {
	local := after.In(location(w.Location))
	candidate := time.Date(local.Year(), local.Month(), local.Day(), w.Hour, 0, 0, 0, local.Location())
	days := (int(w.Weekday) - int(local.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, days)
	if !candidate.After(after) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// Daily は毎日Hour時（Location基準）に起動するスケジュール。
type Daily struct {
	Hour     int
	Location *time.Location
}

// Next はafterより後で最も早いHour:00を返す。
func (d Daily) Next(after time.Time) time.Time {
	local := after.In(location(d.Location))
	candidate := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, 0, 0, 0, local.Location())
	if !candidate.After(after) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday は曜日名（英語、大文字小文字を区別しない、3文字の略記可）を解釈する。
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if wd, ok := weekdays[name]; ok {
		return wd, nil
	}
	if len(name) == 3 {
		for full, wd := range weekdays {
			if strings.HasPrefix(full, name) {
				return wd, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid weekday: %q", s)
}
