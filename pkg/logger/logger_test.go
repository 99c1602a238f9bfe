package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/okian/installmatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When initialized with defaults", func() {
			So(logger.Init(logger.WithOutput(&bytes.Buffer{})), ShouldBeNil)

			Convey("Then Get and Named return loggers", func() {
				So(logger.Get(), ShouldNotBeNil)
				So(logger.Named("test"), ShouldNotBeNil)
				So(logger.Sync(), ShouldBeNil)
			})
		})

		Convey("When initialized with an unknown format", func() {
			err := logger.Init(logger.WithFormat("xml"), logger.WithOutput(&bytes.Buffer{}))

			Convey("Then an error is returned", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When levels are set by name", func() {
			So(logger.SetLevelString("debug"), ShouldBeNil)
			So(logger.SetLevelString("WARNING"), ShouldBeNil)
			So(logger.SetLevelString(""), ShouldBeNil)
			So(logger.SetLevelString("loud"), ShouldNotBeNil)
		})
	})
}

func TestStructuredOutput(t *testing.T) {
	ctx := context.Background()

	Convey("Given a JSON logger", t, func() {
		var buf bytes.Buffer
		log := logger.New(&buf, "json", slog.LevelInfo).Named("dispatch")

		Convey("When a message is logged with fields", func() {
			log.Info(ctx, "accepted",
				logger.String("job_id", "j1"),
				logger.Int("attempt", 2),
				logger.Bool("retried", true),
				logger.Error(errors.New("boom")),
			)

			Convey("Then every field is present with the component and source", func() {
				var entry map[string]any
				So(json.Unmarshal(buf.Bytes(), &entry), ShouldBeNil)
				So(entry["msg"], ShouldEqual, "accepted")
				So(entry["component"], ShouldEqual, "dispatch")
				So(entry["job_id"], ShouldEqual, "j1")
				So(entry["attempt"], ShouldEqual, 2.0)
				So(entry["retried"], ShouldEqual, true)
				So(entry["source"], ShouldContainSubstring, "logger_test.go")
			})
		})

		Convey("When a debug message is logged at info level", func() {
			log.Debug(ctx, "hidden")

			Convey("Then nothing is written", func() {
				So(buf.Len(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given the no-op logger", t, func() {
		Convey("Then logging at any level is silent and safe", func() {
			l := logger.Nop()
			So(func() {
				l.Error(ctx, "ignored")
				l.Named("x").Warn(ctx, "ignored")
			}, ShouldNotPanic)
		})
	})

	Convey("Given a text logger", t, func() {
		var buf bytes.Buffer
		logger.New(&buf, "text", nil).Warn(ctx, "queue full", logger.Int64("dropped", 3))

		Convey("Then key=value pairs are written", func() {
			So(strings.Contains(buf.String(), "dropped=3"), ShouldBeTrue)
			So(buf.String(), ShouldContainSubstring, "level=WARN")
		})
	})
}
