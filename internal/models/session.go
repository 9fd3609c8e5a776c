package models

import "time"

// AlarmSession is the runtime pairing of a playing alarm with its live
// resources. It exists only while an alarm is ACTIVE and is owned exclusively
// by the lifecycle coordinator; the Redis copy lets a restarted process pick
// the session back up. It is never part of the durable alarm record.
type AlarmSession struct {
	AlarmID      string     `json:"alarm_id"`
	Puzzle       MathPuzzle `json:"puzzle"`
	WrongAnswers int        `json:"wrong_answers"`
	StartedAt    time.Time  `json:"started_at"`
	AutoStopAt   time.Time  `json:"auto_stop_at"`
	FadeIn       bool       `json:"fade_in"`
}
