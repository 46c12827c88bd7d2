// timer/timer.go
package timer

import (
	"container/heap"
	"sync"
	"time"
)

type TimerTask struct {
	Id       int64
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
	old[n-1] = nil
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// TimerManager runs callbacks from a single deadline-ordered heap. The
// process loop sleeps until the earliest deadline instead of polling.
type TimerManager struct {
	queue  TimerQueue
	byID   map[int64]*TimerTask
	mutex  sync.Mutex
	nextId int64
	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewTimerManager() *TimerManager {
	manager := &TimerManager{
		queue:  make(TimerQueue, 0),
		byID:   make(map[int64]*TimerTask),
		nextId: 1,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	heap.Init(&manager.queue)
	go manager.process()
	return manager
}

// AddTimer schedules callback after delay, then every interval if interval > 0.
func (m *TimerManager) AddTimer(delay time.Duration, interval time.Duration, callback func()) int64 {
	m.mutex.Lock()
	task := &TimerTask{
		Id:       m.nextId,
		Execute:  time.Now().Add(delay),
		Interval: interval,
		Callback: callback,
	}
	m.nextId++
	heap.Push(&m.queue, task)
	m.byID[task.Id] = task
	m.mutex.Unlock()

	m.notify()
	return task.Id
}

func (m *TimerManager) RemoveTimer(timerId int64) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task, ok := m.byID[timerId]
	if !ok {
		return false
	}
	delete(m.byID, timerId)
	if task.index >= 0 {
		heap.Remove(&m.queue, task.index)
	}
	return true
}

// Len returns the number of scheduled tasks.
func (m *TimerManager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.queue.Len()
}

// Stop ends the process loop. Callbacks already started keep running.
func (m *TimerManager) Stop() {
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

func (m *TimerManager) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *TimerManager) process() {
	defer close(m.done)

	t := time.NewTimer(time.Hour)
	defer t.Stop()

	for {
		due := m.fireDue(time.Now())
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		if due > 0 {
			t.Reset(due)
		}

		select {
		case <-m.stop:
			return
		case <-m.wake:
		case <-t.C:
		}
	}
}

// fireDue starts every task whose deadline passed and returns the wait until
// the next one, or 0 when the queue is empty.
func (m *TimerManager) fireDue(now time.Time) time.Duration {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for m.queue.Len() > 0 {
		task := m.queue[0]
		if task.Execute.After(now) {
			return task.Execute.Sub(now)
		}
		heap.Pop(&m.queue)
		go task.Callback()

		if task.Interval > 0 {
			task.Execute = now.Add(task.Interval)
			heap.Push(&m.queue, task)
		} else {
			delete(m.byID, task.Id)
		}
	}
	return 0
}
