package persona

import "sync"

// Store 提供档案查询。生产环境中档案来自外部的用户资料服务。
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
	FindByUser(userID string) (Persona, bool)
}

// MemoryStore 基于内存的 Store 实现，可在运行时追加档案。
type MemoryStore struct {
	mu    sync.RWMutex
	items []Persona
	byID  map[string]int
}

// NewMemoryStore 使用给定档案初始化。
func NewMemoryStore(items []Persona) *MemoryStore {
	s := &MemoryStore{byID: make(map[string]int, len(items))}
	for _, item := range items {
		s.Put(item)
	}
	return s
}

// Put 新增或替换档案。
func (s *MemoryStore) Put(p Persona) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byID[p.ID]; ok {
		s.items[idx] = p
		return
	}
	s.byID[p.ID] = len(s.items)
	s.items = append(s.items, p)
}

// List 返回全部档案的拷贝。
func (s *MemoryStore) List() []Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Persona(nil), s.items...)
}

// FindByID 按档案 ID 查找。
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return Persona{}, false
	}
	return s.items[idx], true
}

// FindByUser 按所属用户查找其代理档案。
func (s *MemoryStore) FindByUser(userID string) (Persona, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.UserID == userID {
			return item, true
		}
	}
	return Persona{}, false
}
