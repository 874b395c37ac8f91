package server

import (
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/chaos-io/depth2mesh/pipeline"
)

// Scene 一个上传后的场景
type Scene struct {
	ID        string
	Session   *pipeline.Session
	CreatedAt time.Time

	lastAccess time.Time
}

// Store 内存中的场景表，空闲超过 ttl 的场景会被清理
type Store struct {
	mu     sync.Mutex
	scenes map[string]*Scene
	ttl    time.Duration
	now    func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		scenes: make(map[string]*Scene),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *Store) Add(sess *pipeline.Session) *Scene {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sc := &Scene{
		ID:         ksuid.New().String(),
		Session:    sess,
		CreatedAt:  now,
		lastAccess: now,
	}
	s.scenes[sc.ID] = sc
	return sc
}

// Get 命中时刷新访问时间
func (s *Store) Get(id string) (*Scene, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scenes[id]
	if ok {
		sc.lastAccess = s.now()
	}
	return sc, ok
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.scenes[id]
	delete(s.scenes, id)
	return ok
}

// Evict 删除空闲场景，返回删除数量
func (s *Store) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	n := 0
	for id, sc := range s.scenes {
		if sc.lastAccess.Before(cutoff) {
			delete(s.scenes, id)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scenes)
}
