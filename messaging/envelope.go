package messaging

import (
	"time"
)

// EventType enumerates the events the modules emit.
type EventType string

const (
	EventPlanGenerated    EventType = "plan.generated"
	EventTaskExecuted     EventType = "task.executed"
	EventEpisodeRecorded  EventType = "episode.recorded"
	EventSkillUpdated     EventType = "skill.updated"
	EventSystemError      EventType = "system.error"
	EventPerformanceAlert EventType = "performance.alert"
)

// Severity of an event.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Well-known topics.
const (
	TopicCommands = "mcp_commands"
	TopicTasks    = "met_tasks"
	TopicEvents   = "system_events"
)

// EventEnvelope is the wire format for inter-module events.
type EventEnvelope struct {
	Type          EventType              `json:"type"`
	Severity      Severity               `json:"severity"`
	Timestamp     time.Time              `json:"timestamp"`
	OriginModule  string                 `json:"origin_module"`
	CorrelationID string                 `json:"correlation_id"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

func newEnvelope(t EventType, severity Severity, origin, correlationID string, data map[string]interface{}) EventEnvelope {
	return EventEnvelope{
		Type:          t,
		Severity:      severity,
		Timestamp:     time.Now(),
		OriginModule:  origin,
		CorrelationID: correlationID,
		Data:          data,
	}
}

// NewPlanGenerated announces a freshly validated plan.
func NewPlanGenerated(correlationID, planID string, origin string, taskCount int, confidence float64) EventEnvelope {
	return newEnvelope(EventPlanGenerated, SeverityInfo, "planner", correlationID, map[string]interface{}{
		"plan_id":    planID,
		"origin":     origin,
		"task_count": taskCount,
		"confidence": confidence,
	})
}

// NewTaskExecuted announces one terminal task outcome.
func NewTaskExecuted(correlationID, taskID, state, tool string, duration time.Duration) EventEnvelope {
	severity := SeverityInfo
	if state != "success" {
		severity = SeverityWarning
	}
	return newEnvelope(EventTaskExecuted, severity, "execution", correlationID, map[string]interface{}{
		"task_id":  taskID,
		"state":    state,
		"tool":     tool,
		"duration": duration.String(),
	})
}

// NewEpisodeRecorded announces a recorded episode.
func NewEpisodeRecorded(correlationID, episodeID, state string) EventEnvelope {
	return newEnvelope(EventEpisodeRecorded, SeverityInfo, "orchestrator", correlationID, map[string]interface{}{
		"episode_id": episodeID,
		"state":      state,
	})
}

// NewSkillUpdated announces a skill insert or replacement.
func NewSkillUpdated(correlationID, skillID, name, version string) EventEnvelope {
	return newEnvelope(EventSkillUpdated, SeverityInfo, "learning", correlationID, map[string]interface{}{
		"skill_id": skillID,
		"name":     name,
		"version":  version,
	})
}

// NewSystemError announces a module-level failure.
func NewSystemError(correlationID, module, message string) EventEnvelope {
	return newEnvelope(EventSystemError, SeverityError, module, correlationID, map[string]interface{}{
		"message": message,
	})
}

// NewPerformanceAlert flags a latency or regression concern.
func NewPerformanceAlert(correlationID, module, message string, data map[string]interface{}) EventEnvelope {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["message"] = message
	return newEnvelope(EventPerformanceAlert, SeverityWarning, module, correlationID, data)
}
