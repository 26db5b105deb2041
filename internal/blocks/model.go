// Package blocks stores explicit doctor unavailability windows (vacations,
// breaks, meetings...) and answers overlap questions about them.
package blocks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type BlockType string

const (
	TypeUnavailable BlockType = "unavailable"
	TypeBreak       BlockType = "break"
	TypeMeeting     BlockType = "meeting"
	TypeVacation    BlockType = "vacation"
	TypeSickLeave   BlockType = "sick_leave"
	TypePersonal    BlockType = "personal"
)

var blockLabels = map[BlockType]string{
	TypeUnavailable: "Unavailable",
	TypeBreak:       "Break",
	TypeMeeting:     "Meeting",
	TypeVacation:    "Vacation",
	TypeSickLeave:   "Sick leave",
	TypePersonal:    "Personal",
}

func (t BlockType) Valid() bool {
	_, ok := blockLabels[t]
	return ok
}

func (t BlockType) Label() string {
	return blockLabels[t]
}

type ScheduleBlock struct {
	ID                uuid.UUID
	DoctorID          uuid.UUID
	ClinicID          uuid.UUID
	Title             string
	Description       *string
	StartAt           time.Time
	EndAt             time.Time
	Type              BlockType
	IsRecurring       bool
	RecurrencePattern json.RawMessage // stored as given, never expanded
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Overlaps reports whether the block intersects [start, end).
func (b ScheduleBlock) Overlaps(start, end time.Time) bool {
	return Overlaps(start, end, b.StartAt, b.EndAt)
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) share any instant.
// Intervals that only touch at an edge do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !(!aEnd.After(bStart) || !aStart.Before(bEnd))
}

// BlockInput is the payload for creating a block.
type BlockInput struct {
	Title             string
	Description       *string
	StartAt           time.Time
	EndAt             time.Time
	Type              BlockType
	IsRecurring       bool
	RecurrencePattern json.RawMessage
}

// BlockPatch carries a partial update; nil fields are left untouched.
type BlockPatch struct {
	Title             *string
	Description       *string
	StartAt           *time.Time
	EndAt             *time.Time
	Type              *BlockType
	IsRecurring       *bool
	RecurrencePattern json.RawMessage
}

func (p BlockPatch) apply(b *ScheduleBlock) {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Description != nil {
		b.Description = p.Description
	}
	if p.StartAt != nil {
		b.StartAt = *p.StartAt
	}
	if p.EndAt != nil {
		b.EndAt = *p.EndAt
	}
	if p.Type != nil {
		b.Type = *p.Type
	}
	if p.IsRecurring != nil {
		b.IsRecurring = *p.IsRecurring
	}
	if p.RecurrencePattern != nil {
		b.RecurrencePattern = p.RecurrencePattern
	}
}

// RangeFilter selects blocks intersecting [Start, End], optionally narrowed to
// one doctor.
type RangeFilter struct {
	ClinicID uuid.UUID
	DoctorID *uuid.UUID
	Start    time.Time
	End      time.Time
}
