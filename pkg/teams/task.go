package teams

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/opencode-teams/coordinator/pkg/store"
	"github.com/opencode-teams/coordinator/pkg/teamerrors"
)

// TaskStatus is the lifecycle state of a shared team task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// statusRank orders the non-terminal/terminal progression pending <
// in_progress < completed; cancelled is reachable from any non-terminal
// state but has no rank of its own in that chain.
var statusRank = map[TaskStatus]int{
	TaskPending:    0,
	TaskInProgress: 1,
	TaskCompleted:  2,
}

func isTerminal(s TaskStatus) bool {
	return s == TaskCompleted || s == TaskCancelled
}

// Task is a single node in the shared task dependency graph.
type Task struct {
	ID          int        `json:"id"`
	Subject     string     `json:"subject"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Owner       string     `json:"owner,omitempty"`
	Blocks      []int      `json:"blocks"`
	BlockedBy   []int      `json:"blockedBy"`
	CreatedAtMs int64      `json:"createdAtMs"`
	UpdatedAtMs int64      `json:"updatedAtMs"`
}

func (t *Task) clone() *Task {
	cp := *t
	cp.Blocks = append([]int(nil), t.Blocks...)
	cp.BlockedBy = append([]int(nil), t.BlockedBy...)
	return &cp
}

// TaskUpdate is the diff applied by UpdateTask. A nil field means "leave
// unchanged"; for Owner, a non-nil pointer to "" clears it.
type TaskUpdate struct {
	Status      *TaskStatus
	Owner       *string
	Blocks      *[]int
	BlockedBy   *[]int
	Subject     *string
	Description *string
}

// NotificationKind distinguishes the two events the Task Engine asks the
// caller to relay through the Inbox.
type NotificationKind string

const (
	NotifyTaskAssigned  NotificationKind = "task_assigned"
	NotifyTaskCompleted NotificationKind = "task_completed"
)

// Notification is an intent the TaskEngine hands back for the Coordinator
// to deliver via the Inbox, outside the tasks lock.
type Notification struct {
	Kind    NotificationKind
	To      string
	TaskID  int
	Subject string
}

// TaskEngine implements task CRUD, the status machine, dependency-graph
// maintenance, cycle detection, and reverse-dependency cleanup.
type TaskEngine struct {
	store *store.Store
	clock Clock
}

// NewTaskEngine creates a TaskEngine backed by s.
func NewTaskEngine(s *store.Store, clock Clock) *TaskEngine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &TaskEngine{store: s, clock: clock}
}

// CreateTask creates a new task under the tasks lock, validating every
// blockedBy id and maintaining the bidirectional blocks/blockedBy
// invariant on every referenced predecessor.
func (e *TaskEngine) CreateTask(team, subject, description string, blockedBy []int) (*Task, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, teamerrors.New(teamerrors.InvalidArg, "subject is required")
	}

	var (
		created *Task
		outcome error
	)
	err := e.store.WithLock(e.store.TasksLockPath(team), func() error {
		all, err := e.readAll(team)
		if err != nil {
			outcome = err
			return nil
		}

		byID := indexByID(all)
		nextID := 1
		for _, t := range all {
			if t.ID >= nextID {
				nextID = t.ID + 1
			}
		}

		for _, dep := range blockedBy {
			pred, ok := byID[dep]
			if !ok {
				outcome = teamerrors.New(teamerrors.InvalidArg, "blocked_by references unknown task %d", dep)
				return nil
			}
			if isTerminal(pred.Status) {
				outcome = teamerrors.New(teamerrors.InvalidArg, "blocked_by references terminal task %d", dep)
				return nil
			}
		}

		now := e.clock.NowMs()
		task := &Task{
			ID:          nextID,
			Subject:     subject,
			Description: description,
			Status:      TaskPending,
			BlockedBy:   append([]int(nil), blockedBy...),
			CreatedAtMs: now,
			UpdatedAtMs: now,
		}

		// A freshly minted id cannot already be an ancestor of any
		// predecessor, so this can never actually trip — checked anyway to
		// keep CreateTask and UpdateTask share one invariant check.
		for _, dep := range blockedBy {
			if reachableViaBlockedBy(byID, dep, task.ID) {
				outcome = teamerrors.New(teamerrors.Cycle, "blocked_by %d would create a cycle", dep)
				return nil
			}
		}

		if err := e.store.WriteJSON(e.store.TaskPath(team, task.ID), task); err != nil {
			outcome = err
			return nil
		}
		for _, dep := range blockedBy {
			pred := byID[dep].clone()
			pred.Blocks = appendUnique(pred.Blocks, task.ID)
			if err := e.store.WriteJSON(e.store.TaskPath(team, pred.ID), pred); err != nil {
				outcome = err
				return nil
			}
		}

		created = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return nil, outcome
	}
	return created, nil
}

// GetTask returns a single task by id.
func (e *TaskEngine) GetTask(team string, id int) (*Task, error) {
	var task Task
	if err := e.store.ReadJSON(e.store.TaskPath(team, id), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns every task in the team, sorted by id.
func (e *TaskEngine) ListTasks(team string) ([]*Task, error) {
	all, err := e.readAll(team)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// UnblockedTasks returns pending tasks whose blocked_by is empty.
func (e *TaskEngine) UnblockedTasks(team string) ([]*Task, error) {
	all, err := e.ListTasks(team)
	if err != nil {
		return nil, err
	}
	var unblocked []*Task
	for _, t := range all {
		if t.Status == TaskPending && len(t.BlockedBy) == 0 {
			unblocked = append(unblocked, t)
		}
	}
	return unblocked, nil
}

// UpdateTask runs a four-phase transaction: read every task touched by
// the diff, validate the whole diff, mutate in memory, then write every
// modified task. It returns notifications the caller must deliver via
// the Inbox outside the tasks lock.
func (e *TaskEngine) UpdateTask(team string, id int, diff TaskUpdate) (*Task, []Notification, error) {
	var (
		result  *Task
		notifs  []Notification
		outcome error
	)
	err := e.store.WithLock(e.store.TasksLockPath(team), func() error {
		all, err := e.readAll(team)
		if err != nil {
			outcome = err
			return nil
		}
		byID := indexByID(all)

		target, ok := byID[id]
		if !ok {
			outcome = teamerrors.New(teamerrors.NotFound, "task %d not found", id)
			return nil
		}

		// Phase 1+2: validate.
		newStatus := target.Status
		if diff.Status != nil {
			newStatus = *diff.Status
			if err := validateStatusTransition(target.Status, newStatus); err != nil {
				outcome = err
				return nil
			}
		}

		newBlockedBy := target.BlockedBy
		if diff.BlockedBy != nil {
			newBlockedBy = *diff.BlockedBy
		}
		if newStatus == TaskInProgress && len(newBlockedBy) > 0 {
			outcome = teamerrors.New(teamerrors.IllegalTransition, "task %d cannot start: blocked_by is non-empty", id)
			return nil
		}

		addedBlockedBy, removedBlockedBy := diffInts(target.BlockedBy, newBlockedBy)
		for _, dep := range addedBlockedBy {
			if dep == id {
				outcome = teamerrors.New(teamerrors.InvalidArg, "task %d cannot block itself", id)
				return nil
			}
			if _, ok := byID[dep]; !ok {
				outcome = teamerrors.New(teamerrors.InvalidArg, "blocked_by references unknown task %d", dep)
				return nil
			}
			if reachableViaBlockedBy(byID, dep, id) {
				outcome = teamerrors.New(teamerrors.Cycle, "blocked_by %d would create a cycle", dep)
				return nil
			}
		}
		for _, dep := range removedBlockedBy {
			if !containsInt(target.BlockedBy, dep) {
				outcome = teamerrors.New(teamerrors.InvalidArg, "task %d is not blocked by %d", id, dep)
				return nil
			}
		}

		newBlocks := target.Blocks
		if diff.Blocks != nil {
			newBlocks = *diff.Blocks
		}
		addedBlocks, removedBlocks := diffInts(target.Blocks, newBlocks)
		for _, succ := range addedBlocks {
			if succ == id {
				outcome = teamerrors.New(teamerrors.InvalidArg, "task %d cannot block itself", id)
				return nil
			}
			if _, ok := byID[succ]; !ok {
				outcome = teamerrors.New(teamerrors.InvalidArg, "blocks references unknown task %d", succ)
				return nil
			}
			if reachableViaBlockedBy(byID, id, succ) {
				outcome = teamerrors.New(teamerrors.Cycle, "blocks %d would create a cycle", succ)
				return nil
			}
		}
		for _, succ := range removedBlocks {
			if !containsInt(target.Blocks, succ) {
				outcome = teamerrors.New(teamerrors.InvalidArg, "task %d does not block %d", id, succ)
				return nil
			}
		}

		// Phase 3: mutate in memory.
		dirty := map[int]*Task{id: target.clone()}
		mutated := dirty[id]
		mutated.Status = newStatus
		if diff.Owner != nil {
			mutated.Owner = *diff.Owner
		}
		if diff.Subject != nil {
			mutated.Subject = *diff.Subject
		}
		if diff.Description != nil {
			mutated.Description = *diff.Description
		}
		mutated.BlockedBy = newBlockedBy
		mutated.Blocks = newBlocks
		mutated.UpdatedAtMs = e.clock.NowMs()

		ownerChanged := diff.Owner != nil && *diff.Owner != "" && *diff.Owner != target.Owner

		touch := func(tid int) *Task {
			if t, ok := dirty[tid]; ok {
				return t
			}
			t := byID[tid].clone()
			dirty[tid] = t
			return t
		}

		for _, dep := range addedBlockedBy {
			touch(dep).Blocks = appendUnique(touch(dep).Blocks, id)
		}
		for _, dep := range removedBlockedBy {
			touch(dep).Blocks = removeInt(touch(dep).Blocks, id)
		}
		for _, succ := range addedBlocks {
			touch(succ).BlockedBy = appendUnique(touch(succ).BlockedBy, id)
		}
		for _, succ := range removedBlocks {
			touch(succ).BlockedBy = removeInt(touch(succ).BlockedBy, id)
		}

		if newStatus == TaskCompleted && target.Status != TaskCompleted {
			for _, other := range all {
				if other.ID == id {
					continue
				}
				if containsInt(other.BlockedBy, id) {
					touch(other.ID).BlockedBy = removeInt(touch(other.ID).BlockedBy, id)
				}
			}
			mutated.Blocks = nil
		}

		// Phase 4: write every modified task.
		for _, t := range dirty {
			if err := e.store.WriteJSON(e.store.TaskPath(team, t.ID), t); err != nil {
				outcome = err
				return nil
			}
		}

		if ownerChanged {
			notifs = append(notifs, Notification{
				Kind: NotifyTaskAssigned, To: mutated.Owner, TaskID: id, Subject: mutated.Subject,
			})
		}
		if newStatus == TaskCompleted && target.Status != TaskCompleted && mutated.Owner != "" {
			notifs = append(notifs, Notification{
				Kind: NotifyTaskCompleted, To: mutated.Owner, TaskID: id, Subject: mutated.Subject,
			})
		}

		result = mutated
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if outcome != nil {
		return nil, nil, outcome
	}
	return result, notifs, nil
}

// ClearOwner resets owner to empty on every task currently owned by
// agentName, keeping task state otherwise intact (force_kill_teammate).
func (e *TaskEngine) ClearOwner(team, agentName string) error {
	var outcome error
	err := e.store.WithLock(e.store.TasksLockPath(team), func() error {
		all, err := e.readAll(team)
		if err != nil {
			outcome = err
			return nil
		}
		for _, t := range all {
			if t.Owner != agentName {
				continue
			}
			cp := t.clone()
			cp.Owner = ""
			cp.UpdatedAtMs = e.clock.NowMs()
			if err := e.store.WriteJSON(e.store.TaskPath(team, cp.ID), cp); err != nil {
				outcome = err
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return outcome
}

func validateStatusTransition(from, to TaskStatus) error {
	if from == to {
		return nil
	}
	if to == TaskCancelled {
		if isTerminal(from) {
			return teamerrors.New(teamerrors.IllegalTransition, "cannot cancel a task already %s", from)
		}
		return nil
	}
	fromRank, fromOK := statusRank[from]
	toRank, toOK := statusRank[to]
	if !fromOK || !toOK || toRank != fromRank+1 {
		return teamerrors.New(teamerrors.IllegalTransition, "illegal transition from %s to %s", from, to)
	}
	return nil
}

// reachableViaBlockedBy walks the blocked_by chain starting at "from",
// looking for "target" — i.e. whether target already (transitively)
// blocks from. Used to reject an edge that would close a cycle.
func reachableViaBlockedBy(byID map[int]*Task, from, target int) bool {
	visited := map[int]bool{}
	queue := []int{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		t, ok := byID[cur]
		if !ok {
			continue
		}
		queue = append(queue, t.BlockedBy...)
	}
	return false
}

func (e *TaskEngine) readAll(team string) ([]*Task, error) {
	entries, err := os.ReadDir(e.store.TasksDir(team))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, teamerrors.Wrap(teamerrors.Storage, "read tasks dir", err)
	}

	var tasks []*Task
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		idStr := strings.TrimSuffix(entry.Name(), ".json")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		var t Task
		if err := e.store.ReadJSON(filepath.Join(e.store.TasksDir(team), entry.Name()), &t); err != nil {
			continue // skip unreadable task files rather than fail the whole listing
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

func indexByID(tasks []*Task) map[int]*Task {
	m := make(map[int]*Task, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return m
}

func appendUnique(list []int, v int) []int {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func removeInt(list []int, v int) []int {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// diffInts returns elements only in b (added) and only in a (removed).
func diffInts(a, b []int) (added, removed []int) {
	inA := make(map[int]bool, len(a))
	for _, x := range a {
		inA[x] = true
	}
	inB := make(map[int]bool, len(b))
	for _, x := range b {
		inB[x] = true
	}
	for _, x := range b {
		if !inA[x] {
			added = append(added, x)
		}
	}
	for _, x := range a {
		if !inB[x] {
			removed = append(removed, x)
		}
	}
	return added, removed
}
