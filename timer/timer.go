// timer/timer.go
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// DefaultResolution is how often the manager checks for due tasks.
const DefaultResolution = 50 * time.Millisecond

type TimerTask struct {
	Id       int64
	Key      string
	Execute  time.Time
	Interval time.Duration
	Callback func()
	index    int
}

type TimerQueue []*TimerTask

func (q TimerQueue) Len() int { return len(q) }

func (q TimerQueue) Less(i, j int) bool {
	return q[i].Execute.Before(q[j].Execute)
}

func (q TimerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *TimerQueue) Push(x interface{}) {
	n := len(*q)
	task := x.(*TimerTask)
	task.index = n
	*q = append(*q, task)
}

func (q *TimerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// TimerManager 基于最小堆的定时器，支持按 key 替换/取消的一次性任务
type TimerManager struct {
	queue      TimerQueue
	byKey      map[string]*TimerTask
	mutex      sync.Mutex
	nextId     int64
	resolution time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewTimerManager(resolution time.Duration) *TimerManager {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	manager := &TimerManager{
		queue:      make(TimerQueue, 0),
		byKey:      make(map[string]*TimerTask),
		nextId:     1,
		resolution: resolution,
		stop:       make(chan struct{}),
	}
	heap.Init(&manager.queue)
	go manager.process()
	return manager
}

// AddTimer schedules callback after delay; a positive interval repeats it.
func (m *TimerManager) AddTimer(delay time.Duration, interval time.Duration, callback func()) int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.push("", delay, interval, callback).Id
}

// Schedule arms a one-shot task under key, replacing any task already armed
// under the same key.
func (m *TimerManager) Schedule(key string, delay time.Duration, callback func()) int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.removeKeyLocked(key)
	task := m.push(key, delay, 0, callback)
	m.byKey[key] = task
	return task.Id
}

// Cancel removes the task armed under key. It reports whether one was pending.
// A callback that has already been handed off may still run.
func (m *TimerManager) Cancel(key string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.removeKeyLocked(key)
}

// Pending reports whether a task is armed under key.
func (m *TimerManager) Pending(key string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.byKey[key]
	return ok
}

// Stop halts the processing loop. Pending tasks never fire.
func (m *TimerManager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *TimerManager) push(key string, delay, interval time.Duration, callback func()) *TimerTask {
	task := &TimerTask{
		Id:       m.nextId,
		Key:      key,
		Execute:  time.Now().Add(delay),
		Interval: interval,
		Callback: callback,
	}
	m.nextId++
	heap.Push(&m.queue, task)
	return task
}

func (m *TimerManager) removeKeyLocked(key string) bool {
	task, ok := m.byKey[key]
	if !ok {
		return false
	}
	m.removeLocked(task)
	return true
}

func (m *TimerManager) removeLocked(task *TimerTask) {
	if task.index >= 0 && task.index < len(m.queue) && m.queue[task.index] == task {
		heap.Remove(&m.queue, task.index)
	}
	if task.Key != "" && m.byKey[task.Key] == task {
		delete(m.byKey, task.Key)
	}
}

func (m *TimerManager) process() {
	ticker := time.NewTicker(m.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			for _, task := range m.due(now) {
				go task.Callback()
			}
		}
	}
}

// due pops every task whose execute time has passed, rescheduling interval tasks.
func (m *TimerManager) due(now time.Time) []*TimerTask {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var fired []*TimerTask
	for m.queue.Len() > 0 {
		task := m.queue[0]
		if task.Execute.After(now) {
			break
		}

		heap.Pop(&m.queue)
		fired = append(fired, task)

		if task.Interval > 0 {
			task.Execute = now.Add(task.Interval)
			heap.Push(&m.queue, task)
		} else if task.Key != "" && m.byKey[task.Key] == task {
			delete(m.byKey, task.Key)
		}
	}
	return fired
}
