// Package catalog models the static objective/station catalog the progress
// engine consumes. The catalog is loaded as an immutable snapshot and rebuilt
// wholesale on refresh; nothing here mutates a loaded snapshot.
package catalog

import (
	"errors"
)

// ErrUnavailable signals the upstream content source failed or returned
// nothing. Any call that needs graph structure treats this as fatal for the
// current request rather than building a degenerate graph.
var ErrUnavailable = errors.New("catalog unavailable")

// Objective kinds resolvable from a snapshot.
const (
	KindTask          = "task"
	KindTaskObjective = "taskObjective"
	KindStationLevel  = "stationLevel"
)

type TaskRequirement struct {
	TaskID string `json:"taskId"`
}

type Objective struct {
	ID    string `json:"id"`
	Type  string `json:"type,omitempty"`
	Count int    `json:"count,omitempty"`
}

type Task struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	MinPlayerLevel   int               `json:"minPlayerLevel,omitempty"`
	TaskRequirements []TaskRequirement `json:"taskRequirements,omitempty"`
	Objectives       []Objective       `json:"objectives,omitempty"`
}

type StationLevelRequirement struct {
	StationID string `json:"stationId"`
	Level     int    `json:"level"`
}

type StationLevel struct {
	ID               string                    `json:"id"`
	Level            int                       `json:"level"`
	ConstructionTime int64                     `json:"constructionTime,omitempty"`
	Requirements     []StationLevelRequirement `json:"stationLevelRequirements,omitempty"`
}

type Station struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Levels []StationLevel `json:"levels"`
}

// Snapshot is one immutable catalog version.
type Snapshot struct {
	Tasks    []Task    `json:"tasks"`
	Stations []Station `json:"stations"`

	taskByID      map[string]*Task
	levelByID     map[string]*StationLevel
	objectiveTask map[string]string
}

// index builds the lookup maps. Called once after load; snapshots are
// read-only afterwards.
func (s *Snapshot) index() {
	s.taskByID = make(map[string]*Task, len(s.Tasks))
	s.objectiveTask = map[string]string{}
	for i := range s.Tasks {
		t := &s.Tasks[i]
		s.taskByID[t.ID] = t
		for _, obj := range t.Objectives {
			s.objectiveTask[obj.ID] = t.ID
		}
	}
	s.levelByID = map[string]*StationLevel{}
	for i := range s.Stations {
		for j := range s.Stations[i].Levels {
			lvl := &s.Stations[i].Levels[j]
			s.levelByID[lvl.ID] = lvl
		}
	}
}

// TaskByID returns the task with the given id, if present.
func (s *Snapshot) TaskByID(id string) (*Task, bool) {
	t, ok := s.taskByID[id]
	return t, ok
}

// StationLevelByID returns the station level with the given id, if present.
func (s *Snapshot) StationLevelByID(id string) (*StationLevel, bool) {
	lvl, ok := s.levelByID[id]
	return lvl, ok
}

// TaskForObjective returns the owning task id for a task objective.
func (s *Snapshot) TaskForObjective(objectiveID string) (string, bool) {
	taskID, ok := s.objectiveTask[objectiveID]
	return taskID, ok
}

// Kind classifies an id against the snapshot. Unknown ids return "" and
// false; callers degrade gracefully since graphs rebuild asynchronously and a
// stale id is not an error.
func (s *Snapshot) Kind(id string) (string, bool) {
	if _, ok := s.taskByID[id]; ok {
		return KindTask, true
	}
	if _, ok := s.objectiveTask[id]; ok {
		return KindTaskObjective, true
	}
	if _, ok := s.levelByID[id]; ok {
		return KindStationLevel, true
	}
	return "", false
}
