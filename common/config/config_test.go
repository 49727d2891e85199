package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "udite",
		Password: "secret",
		Database: "city",
		SSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5432 user=udite password=secret dbname=city sslmode=disable", cfg.GetDSN())
}

func TestLoadFromEnv_KeepsDefaultsWhenUnset(t *testing.T) {
	os.Clearenv()

	db := DatabaseConfig{Host: "localhost", Port: 5432}
	db.LoadFromEnv("DB")
	assert.Equal(t, "localhost", db.Host)
	assert.Equal(t, 5432, db.Port)

	mqtt := MQTTConfig{QoS: 1, Timeout: 5 * time.Second}
	mqtt.LoadFromEnv("MQTT")
	assert.Equal(t, byte(1), mqtt.QoS)
	assert.Equal(t, 5*time.Second, mqtt.Timeout)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	os.Setenv("DB_HOST", "pg")
	os.Setenv("DB_PORT", "not-a-port")
	os.Setenv("DB_MAX_CONNS", "25")
	os.Setenv("REDIS_ADDR", "cache:6379")
	os.Setenv("REDIS_DB", "3")
	os.Setenv("MQTT_QOS", "7")
	os.Setenv("MQTT_TIMEOUT_SEC", "2")
	os.Setenv("MQTT_CLIENT_ID", "analyzer-1")
	defer os.Clearenv()

	db := DatabaseConfig{Port: 5432}
	db.LoadFromEnv("DB")
	assert.Equal(t, "pg", db.Host)
	assert.Equal(t, 5432, db.Port)
	assert.Equal(t, 25, db.MaxConns)

	redis := RedisConfig{}
	redis.LoadFromEnv("REDIS")
	assert.Equal(t, "cache:6379", redis.Addr)
	assert.Equal(t, 3, redis.DB)

	// QoS 超出范围时忽略
	mqtt := MQTTConfig{QoS: 1}
	mqtt.LoadFromEnv("MQTT")
	assert.Equal(t, byte(1), mqtt.QoS)
	assert.Equal(t, 2*time.Second, mqtt.Timeout)
	assert.Equal(t, "analyzer-1", mqtt.ClientID)
}
