package tui

import (
	"github.com/fentz26/cortex/internal/models"
	"github.com/fentz26/cortex/internal/scheduler"
	"github.com/fentz26/cortex/internal/think"
)

// view is the panel shown in the main content area.
type view int

const (
	viewGoals view = iota
	viewTasks
	viewSessions
	viewSession
)

// listViews are cycled with tab.
var listViews = []view{viewGoals, viewTasks, viewSessions}

func (v view) String() string {
	switch v {
	case viewGoals:
		return "GOALS"
	case viewTasks:
		return "TASKS"
	case viewSessions:
		return "SESSIONS"
	case viewSession:
		return "SESSION"
	}
	return "?"
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type goalsLoadedMsg struct {
	goals []models.Goal
}

type tasksLoadedMsg struct {
	tasks []models.ScheduledTask
}

type sessionsLoadedMsg struct {
	sessions []think.SessionInfo
}

type stepsLoadedMsg struct {
	session think.SessionInfo
	steps   []models.Step
}

type statsLoadedMsg struct {
	stats scheduler.Stats
}

type daemonStatusMsg struct {
	online bool
}

type switchViewMsg struct {
	view view
}
