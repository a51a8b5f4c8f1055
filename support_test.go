package hotswap

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Polling windows for asynchronous event delivery assertions.
const (
	eventWait = 2 * time.Second
	eventPoll = 10 * time.Millisecond
)

// fakeModule is a configurable Module implementation used across the
// package tests.
type fakeModule struct {
	name     string
	version  ModuleVersion
	category ModuleCategory

	initErr    error
	prepareErr error
	importErr  error
	busy       bool
	state      *ModuleState

	initCalled    int
	prepareCalled int
	exportCalled  int
	importCalled  int
	imported      *ModuleState
}

func newFakeModule(name string) *fakeModule {
	return &fakeModule{
		name:     name,
		version:  ModuleVersion{Major: 1},
		category: CategoryCustom,
	}
}

func (m *fakeModule) Name() string             { return m.name }
func (m *fakeModule) Version() ModuleVersion   { return m.version }
func (m *fakeModule) Category() ModuleCategory { return m.category }

func (m *fakeModule) Init() error {
	m.initCalled++
	return m.initErr
}

func (m *fakeModule) PrepareUnload() error {
	m.prepareCalled++
	return m.prepareErr
}

func (m *fakeModule) ExportState() *ModuleState {
	m.exportCalled++
	return m.state
}

func (m *fakeModule) ImportState(state *ModuleState) error {
	m.importCalled++
	if m.importErr != nil {
		return m.importErr
	}
	m.imported = state
	return nil
}

func (m *fakeModule) CanUnload() bool { return !m.busy }

// mockLogger records log calls for assertions.
type mockLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

func (l *mockLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *mockLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *mockLogger) Error(msg string, args ...any) { l.record("error", msg, args) }
func (l *mockLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *mockLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }

func (l *mockLogger) hasMessage(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.msg == msg {
			return true
		}
	}
	return false
}

// captureObserver collects every event it is notified with.
type captureObserver struct {
	id     string
	mu     sync.Mutex
	events []cloudevents.Event
}

func newCaptureObserver(id string) *captureObserver {
	return &captureObserver{id: id}
}

func (o *captureObserver) OnEvent(_ context.Context, event cloudevents.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
	return nil
}

func (o *captureObserver) ObserverID() string { return o.id }

func (o *captureObserver) eventTypes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	types := make([]string, 0, len(o.events))
	for _, e := range o.events {
		types = append(types, e.Type())
	}
	return types
}

func (o *captureObserver) hasType(eventType string) bool {
	for _, t := range o.eventTypes() {
		if t == eventType {
			return true
		}
	}
	return false
}
