package domain

import "time"

type TypeCount struct {
	Type  NotificationType
	Count int64
}

type PriorityCount struct {
	Priority Priority
	Count    int64
}

type DailyCount struct {
	Day   time.Time
	Count int64
}

// NotificationStats aggregates a tenant's notifications over a window of days.
type NotificationStats struct {
	Since      time.Time
	Days       int
	Total      int64
	Unread     int64
	ByType     []TypeCount
	ByPriority []PriorityCount
	ByDay      []DailyCount
}
