package utils

import (
	"fmt"
	"sync"
)

// KeyedMutex serializes work per key while letting different keys proceed
// concurrently. Entries are dropped once nobody holds or waits on a key.
type KeyedMutex struct {
	edit    sync.Mutex
	waiters map[string]int
	mutexes map[string]*sync.Mutex
	maxKeys int
}

func NewKeyedMutex(maxKeys int) *KeyedMutex {
	return &KeyedMutex{
		waiters: make(map[string]int),
		mutexes: make(map[string]*sync.Mutex),
		maxKeys: maxKeys,
	}
}

// Lock blocks until key is held and returns the function that releases it.
func (m *KeyedMutex) Lock(key string) (func(), error) {
	m.edit.Lock()

	mu, ok := m.mutexes[key]
	if !ok {
		if m.maxKeys > 0 && len(m.mutexes) >= m.maxKeys {
			m.edit.Unlock()
			return nil, fmt.Errorf("too many concurrent keys (max %d)", m.maxKeys)
		}
		mu = &sync.Mutex{}
		m.mutexes[key] = mu
	}
	m.waiters[key]++
	m.edit.Unlock()

	mu.Lock()

	var once sync.Once
	return func() { once.Do(func() { m.unlock(key, mu) }) }, nil
}

func (m *KeyedMutex) unlock(key string, mu *sync.Mutex) {
	m.edit.Lock()
	defer m.edit.Unlock()

	mu.Unlock()
	m.waiters[key]--
	if m.waiters[key] == 0 {
		delete(m.mutexes, key)
		delete(m.waiters, key)
	}
}

func (m *KeyedMutex) Len() int {
	m.edit.Lock()
	defer m.edit.Unlock()
	return len(m.mutexes)
}
