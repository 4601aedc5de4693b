// File: internal/observability/session.go
package observability

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/arborist/internal/config"
)

// Event names a user-visible action in a study session.
type Event string

const (
	EventSessionStarted      Event = "session_started"
	EventSuggestShown        Event = "suggest_shown"
	EventNodeAddedFromSugg   Event = "node_added_from_suggest"
	EventPruneShown          Event = "prune_shown"
	EventPruneKeep           Event = "prune_keep"
	EventPruneRemove         Event = "prune_remove"
	EventExplainView         Event = "explain_view"
	EventNodeAdded           Event = "node_added"
	EventNodeDeleted         Event = "node_deleted"
	EventNodeRenamed         Event = "node_renamed"
	EventLinkAdded           Event = "link_added"
	EventLinkDeleted         Event = "link_deleted"
	EventTreeReplaced        Event = "tree_replaced"
	EventEvaluation          Event = "evaluation"
	EventScenarioGoalChanged Event = "scenario_goal_changed"
)

// Session identifies who is working on what.
type Session struct {
	ParticipantID string `json:"participant_id"`
	SessionID     string `json:"session_id"`
	ScenarioID    string `json:"scenario_id"`
	Mode          string `json:"mode"`
}

// NewSessionID returns a sortable id: a UTC timestamp plus a short random suffix.
func NewSessionID() string {
	return time.Now().UTC().Format("20060102T150405Z") + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// Recorder writes one JSON line per session event. A nil *Recorder discards
// everything, so callers never need to check.
type Recorder struct {
	mu      sync.RWMutex
	session Session
	logger  *zap.Logger
	closer  io.Closer
	path    string
}

// NewRecorder opens a rotated NDJSON file for the session log.
func NewRecorder(cfg config.SessionConfig, s Session) *Recorder {
	lj := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	r := NewRecorderWithWriter(zapcore.AddSync(lj), s)
	r.closer = lj
	r.path = cfg.LogFile
	return r
}

// NewRecorderWithWriter records to ws.
func NewRecorderWithWriter(ws zapcore.WriteSyncer, s Session) *Recorder {
	if s.SessionID == "" {
		s.SessionID = NewSessionID()
	}
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.Lock(ws), zapcore.DebugLevel)
	return &Recorder{session: s, logger: zap.New(core)}
}

// Session returns the current session identity.
func (r *Recorder) Session() Session {
	if r == nil {
		return Session{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

// SetScenario switches the scenario stamped on later events.
func (r *Recorder) SetScenario(id string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.session.ScenarioID = id
	r.mu.Unlock()
}

// Path is the session log file, or "" for writer-backed recorders.
func (r *Recorder) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Record appends an event with its payload.
func (r *Recorder) Record(event Event, payload map[string]any) {
	if r == nil {
		return
	}
	s := r.Session()
	if payload == nil {
		payload = map[string]any{}
	}
	r.logger.Info(string(event), append(sessionFields(s), zap.Any("payload", payload))...)
}

// Start records session_started.
func (r *Recorder) Start() {
	r.Record(EventSessionStarted, nil)
}

// Close flushes and closes the log file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	_ = r.logger.Sync()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
