// internal/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// MemoryStore is the fallback task store used when no database is configured.
// State lives for the process lifetime only; tasks are not resumable across
// restarts. Unlike the conversation manager it is locked, because the serve
// command reads task lists while a runner writes.
type MemoryStore struct {
	mu     sync.RWMutex
	tasks  map[string]schemas.Task
	states map[string]schemas.ConversationSnapshot
	ui     map[string][]schemas.UIMessage
}

var _ schemas.TaskStore = (*MemoryStore)(nil)

func NewMemory() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[string]schemas.Task),
		states: make(map[string]schemas.ConversationSnapshot),
		ui:     make(map[string][]schemas.UIMessage),
	}
}

func (s *MemoryStore) SaveTask(_ context.Context, task schemas.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *MemoryStore) LoadTask(_ context.Context, id string) (schemas.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return schemas.Task{}, ErrTaskNotFound
	}
	return task, nil
}

func (s *MemoryStore) SaveState(_ context.Context, taskID string, snap schemas.ConversationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[taskID] = snap
	return nil
}

func (s *MemoryStore) LoadState(_ context.Context, taskID string) (schemas.ConversationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.states[taskID]
	if !ok {
		return schemas.ConversationSnapshot{}, ErrTaskNotFound
	}
	return snap, nil
}

func (s *MemoryStore) AddUIMessage(_ context.Context, msg schemas.UIMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ui[msg.TaskID] = append(s.ui[msg.TaskID], msg)
	return nil
}

// UIMessages returns the persisted progress feed for one task.
func (s *MemoryStore) UIMessages(taskID string) []schemas.UIMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]schemas.UIMessage, len(s.ui[taskID]))
	copy(msgs, s.ui[taskID])
	return msgs
}

func (s *MemoryStore) ListTasks(context.Context) ([]schemas.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]schemas.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(s.tasks, id)
	delete(s.states, id)
	delete(s.ui, id)
	return nil
}

func (s *MemoryStore) ClearAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]schemas.Task)
	s.states = make(map[string]schemas.ConversationSnapshot)
	s.ui = make(map[string][]schemas.UIMessage)
	return nil
}
