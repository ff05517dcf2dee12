package config_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/okian/meterbridge/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.RunTime, convey.ShouldEqual, "08:15")
				convey.So(cfg.SinkTimeout, convey.ShouldEqual, 30*time.Second)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("METERBRIDGE_SINK_URL", "ws://ha:8123/api/websocket")
			_ = os.Setenv("METERBRIDGE_STATISTIC_ID", "te:consumption")
			_ = os.Setenv("METERBRIDGE_RETRY_DELAY", "2h")
			_ = os.Setenv("METERBRIDGE_CATCHUP_DAYS", "3")
			_ = os.Setenv("METERBRIDGE_RUN_ON_START", "false")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.SinkURL, convey.ShouldEqual, "ws://ha:8123/api/websocket")
				convey.So(cfg.StatisticID, convey.ShouldEqual, "te:consumption")
				convey.So(cfg.RetryDelay, convey.ShouldEqual, 2*time.Hour)
				convey.So(cfg.CatchupDays, convey.ShouldEqual, 3)
				convey.So(cfg.RunOnStart, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
# series settings
timezone: Europe/Helsinki
run_time: "07:30"
statistic_id: te:from_file
lookback: 1440h
catchup_days: 5
`
			tmpFile := createTempFile(t, "meterbridge-*.yaml", yamlContent)
			_ = os.Setenv("METERBRIDGE_CONFIG", tmpFile)
			_ = os.Setenv("METERBRIDGE_CATCHUP_DAYS", "9") // overrides the file
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Timezone, convey.ShouldEqual, "Europe/Helsinki")
				convey.So(cfg.RunTime, convey.ShouldEqual, "07:30")
				convey.So(cfg.StatisticID, convey.ShouldEqual, "te:from_file")
				convey.So(cfg.Lookback, convey.ShouldEqual, 60*24*time.Hour)
				convey.So(cfg.CatchupDays, convey.ShouldEqual, 9)
				convey.So(cfg.SinkTimeout, convey.ShouldEqual, 30*time.Second) // default
			})
		})

		convey.Convey("When loading config with a dotenv file", func() {
			envFile := createTempFile(t, "meterbridge-*.env", "METERBRIDGE_PORTAL_USERNAME=dotenv-user\nMETERBRIDGE_SINK_TOKEN=dotenv-token\n")
			_ = os.Setenv("METERBRIDGE_ENV_FILE", envFile)
			_ = os.Setenv("METERBRIDGE_SINK_TOKEN", "process-token") // already set wins
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then dotenv values fill only unset variables", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.PortalUsername, convey.ShouldEqual, "dotenv-user")
				convey.So(cfg.SinkToken, convey.ShouldEqual, "process-token")
			})
		})

		convey.Convey("When the dotenv file does not exist", func() {
			_ = os.Setenv("METERBRIDGE_ENV_FILE", "/non/existent/.env")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempFile(t, "meterbridge-*.yaml", `invalid: yaml: content: [`)
			_ = os.Setenv("METERBRIDGE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("METERBRIDGE_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("METERBRIDGE_CATCHUP_DAYS", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an invalid duration", func() {
			_ = os.Setenv("METERBRIDGE_RETRY_DELAY", "soon")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"METERBRIDGE_CONFIG",
		"METERBRIDGE_ENV_FILE",
		"METERBRIDGE_SINK_URL",
		"METERBRIDGE_SINK_TOKEN",
		"METERBRIDGE_STATISTIC_ID",
		"METERBRIDGE_RETRY_DELAY",
		"METERBRIDGE_CATCHUP_DAYS",
		"METERBRIDGE_RUN_ON_START",
		"METERBRIDGE_PORTAL_USERNAME",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempFile(t *testing.T, pattern, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), pattern)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpFile.Name()
}
