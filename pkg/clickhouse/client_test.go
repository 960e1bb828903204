package clickhouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildDSN(t *testing.T) {
	cfg := ClientConfig{
		Host:        "ch",
		Port:        9000,
		Database:    "finpilot",
		User:        "default",
		Password:    "secret",
		DialTimeout: 5 * time.Second,
		MaxExecTime: time.Minute,
	}
	WithSetting("mutations_sync", "1")(&cfg)

	got := buildDSN(cfg)
	assert.Equal(t, "clickhouse://default:secret@ch:9000/finpilot?dial_timeout=5s&max_execution_time=60&mutations_sync=1", got)
}

func TestBuildDSNOverHTTP(t *testing.T) {
	cfg := ClientConfig{Host: "ch", Port: 8123, Database: "db", User: "u", UseHTTP: true}
	assert.Equal(t, "clickhouse+http://u:@ch:8123/db", buildDSN(cfg))
}
