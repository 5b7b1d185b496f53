package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("LOOKOUT_TEST_STR", "value")

	assert.Equal(t, "value", GetEnv("LOOKOUT_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", GetEnv("LOOKOUT_TEST_MISSING", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("LOOKOUT_TEST_INT", "42")
	t.Setenv("LOOKOUT_TEST_BAD_INT", "not-a-number")

	assert.Equal(t, 42, GetEnvInt("LOOKOUT_TEST_INT", 7))
	assert.Equal(t, 7, GetEnvInt("LOOKOUT_TEST_BAD_INT", 7))
	assert.Equal(t, 7, GetEnvInt("LOOKOUT_TEST_MISSING", 7))
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("LOOKOUT_TEST_BOOL", "true")
	t.Setenv("LOOKOUT_TEST_BAD_BOOL", "yep")

	assert.True(t, GetEnvBool("LOOKOUT_TEST_BOOL", false))
	assert.False(t, GetEnvBool("LOOKOUT_TEST_BAD_BOOL", false))
	assert.True(t, GetEnvBool("LOOKOUT_TEST_MISSING", true))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("LOOKOUT_TEST_DUR", "90s")
	t.Setenv("LOOKOUT_TEST_BAD_DUR", "ninety")

	assert.Equal(t, 90*time.Second, GetEnvDuration("LOOKOUT_TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, GetEnvDuration("LOOKOUT_TEST_BAD_DUR", time.Minute))
	assert.Equal(t, time.Minute, GetEnvDuration("LOOKOUT_TEST_MISSING", time.Minute))
}

func TestGetLogLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"":      logrus.InfoLevel,
		"junk":  logrus.InfoLevel,
	}
	for value, want := range cases {
		t.Setenv("LOG_LEVEL", value)
		assert.Equal(t, want, GetLogLevel(), "LOG_LEVEL=%q", value)
	}
}
