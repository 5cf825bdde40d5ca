package utils_test

import (
	"automl-backend/internal/core/utils"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const holdFor = 200 * time.Millisecond

func holdKey(t *testing.T, m *utils.KeyedMutex, key string, done chan<- bool) {
	unlock, err := m.Lock(key)
	if err != nil {
		t.Errorf("error locking key %s: %v", key, err)
		done <- false
		return
	}
	time.Sleep(holdFor)
	unlock()
	done <- true
}

func TestKeyedMutex_SameKeyRunsSequentially(t *testing.T) {
	m := utils.NewKeyedMutex(10)

	done := make(chan bool, 2)
	start := time.Now()
	go holdKey(t, m, "model", done)
	go holdKey(t, m, "model", done)
	<-done
	<-done

	assert.GreaterOrEqual(t, time.Since(start), 2*holdFor)
	assert.Equal(t, 0, m.Len())
}

func TestKeyedMutex_DifferentKeysRunConcurrently(t *testing.T) {
	m := utils.NewKeyedMutex(10)

	done := make(chan bool, 2)
	start := time.Now()
	go holdKey(t, m, "key1", done)
	go holdKey(t, m, "key2", done)
	<-done
	<-done

	assert.Less(t, time.Since(start), 2*holdFor)
}

func TestKeyedMutex_MaxKeys(t *testing.T) {
	m := utils.NewKeyedMutex(1)

	unlock, err := m.Lock("key1")
	require.NoError(t, err)

	_, err = m.Lock("key2")
	assert.Error(t, err)

	unlock()
	unlock()

	unlock, err = m.Lock("key2")
	require.NoError(t, err)
	unlock()
}
