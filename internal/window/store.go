// Package window 保存每个传感器最近的有效事件（固定容量，先进先出）。
package window

import (
	"sync"

	"udite-analyzer/internal/models"
)

// EvictHandler 环形缓冲区满时被挤出的事件回调（在锁外调用）
type EvictHandler func(category, sensorID string, evicted *models.SensorEvent)

// key 窗口键；按字段比较，类别或传感器 ID 中的分隔符不会造成串键
type key struct {
	category string
	sensorID string
}

// Option Store 可选项
type Option func(*Store)

// WithEvictHandler 设置淘汰回调
func WithEvictHandler(h EvictHandler) Option {
	return func(s *Store) {
		s.onEvict = h
	}
}

// Store 按 (category, sensor_id) 保存的历史窗口
//
// 不同键互不阻塞；同一个键的 Append 与随后的快照在同一把锁内完成。
type Store struct {
	capacity int
	onEvict  EvictHandler

	mu      sync.RWMutex
	windows map[key]*ring
}

// NewStore 创建窗口存储，capacity <= 0 时使用 1
func NewStore(capacity int, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = 1
	}
	s := &Store{
		capacity: capacity,
		windows:  make(map[key]*ring),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capacity 每个键的窗口容量
func (s *Store) Capacity() int {
	return s.capacity
}

// Append 追加事件并返回追加后的窗口快照（按到达顺序，最旧在前）
func (s *Store) Append(category, sensorID string, event *models.SensorEvent) []*models.SensorEvent {
	r := s.getOrCreate(key{category: category, sensorID: sensorID})

	r.mu.Lock()
	evicted := r.push(event)
	snapshot := r.snapshot()
	r.mu.Unlock()

	if evicted != nil && s.onEvict != nil {
		s.onEvict(category, sensorID, evicted)
	}
	return snapshot
}

// Snapshot 返回当前窗口的副本；键不存在时返回 nil
func (s *Store) Snapshot(category, sensorID string) []*models.SensorEvent {
	s.mu.RLock()
	r, ok := s.windows[key{category: category, sensorID: sensorID}]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Len 已跟踪的键数量
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}

func (s *Store) getOrCreate(k key) *ring {
	s.mu.RLock()
	r, ok := s.windows[k]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.windows[k]; ok {
		return r
	}
	r = &ring{items: make([]*models.SensorEvent, s.capacity)}
	s.windows[k] = r
	return r
}

// ring 单个键的环形缓冲区，满时丢弃最旧的一条
type ring struct {
	mu    sync.Mutex
	items []*models.SensorEvent
	head  int // 下一个写入位置
	size  int
}

func (r *ring) push(event *models.SensorEvent) *models.SensorEvent {
	var evicted *models.SensorEvent
	if r.size == len(r.items) {
		evicted = r.items[r.head]
	} else {
		r.size++
	}
	r.items[r.head] = event
	r.head = (r.head + 1) % len(r.items)
	return evicted
}

func (r *ring) snapshot() []*models.SensorEvent {
	out := make([]*models.SensorEvent, r.size)
	start := (r.head - r.size + len(r.items)) % len(r.items)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(start+i)%len(r.items)]
	}
	return out
}
