package logger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTestLogger(t *testing.T) {
	logger := NewTestLogger()

	assert.NotNil(t, logger)
	assert.Len(t, logger.Entries(), 0)
	assert.Nil(t, logger.metadata)
	assert.Nil(t, logger.child)
}

func TestTestLoggerMethods(t *testing.T) {
	logger := NewTestLogger()

	logger.Trace("Trace message %d", 1)
	logger.Debug("Debug message %d", 2)
	logger.Info("Info message %d", 3)
	logger.Warn("Warn message %d", 4)
	logger.Error("Error message %d", 5)
	logger.Fatal("Fatal message %d", 6)

	logs := logger.Entries()
	assert.Len(t, logs, 6)

	for i, severity := range []string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "FATAL"} {
		assert.Equal(t, severity, logs[i].Severity)
		assert.Equal(t, []interface{}{i + 1}, logs[i].Arguments)
	}
	assert.Equal(t, "Warn message 4", logs[3].Formatted())
	assert.True(t, logger.Has("ERROR", "message 5"))
	assert.False(t, logger.Has("INFO", "message 5"))
}

func TestTestLoggerWith(t *testing.T) {
	logger := NewTestLogger()

	metadata := map[string]interface{}{
		"key1": "value1",
		"key2": 42,
	}

	testLogger, ok := logger.With(metadata).(*TestLogger)
	assert.True(t, ok)
	assert.Equal(t, metadata, testLogger.metadata)

	testLogger2, ok := testLogger.With(map[string]interface{}{"key3": true}).(*TestLogger)
	assert.True(t, ok)

	assert.Equal(t, "value1", testLogger2.metadata["key1"])
	assert.Equal(t, 42, testLogger2.metadata["key2"])
	assert.Equal(t, true, testLogger2.metadata["key3"])

	testLogger2.Info("derived")
	logs := logger.Entries()
	assert.Len(t, logs, 1, "derived loggers share the root record")
	assert.Equal(t, true, logs[0].Metadata["key3"])
}

func TestTestLoggerWithContext(t *testing.T) {
	logger := NewTestLogger()
	assert.Equal(t, logger, logger.WithContext(context.Background()))
}

func TestTestLoggerWithPrefix(t *testing.T) {
	logger := NewTestLogger()

	logger.WithPrefix("[cache]").WithPrefix("[guard]").Warn("slow")
	logs := logger.Entries()
	assert.Len(t, logs, 1)
	assert.Equal(t, "[cache] [guard]", logs[0].Prefix)
}

func TestTestLoggerStack(t *testing.T) {
	logger1 := NewTestLogger()
	logger2 := NewTestLogger()

	stacked, ok := logger1.Stack(logger2).(*TestLogger)
	assert.True(t, ok)
	assert.Equal(t, logger2, stacked.child)

	stacked.Info("both")
	assert.True(t, logger1.Has("INFO", "both"))
	assert.True(t, logger2.Has("INFO", "both"))
}

func TestTestLoggerConcurrent(t *testing.T) {
	logger := NewTestLogger()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.With(map[string]interface{}{"n": i}).Info("entry %d", i)
		}(i)
	}
	wg.Wait()
	assert.Len(t, logger.Entries(), 20)
}
