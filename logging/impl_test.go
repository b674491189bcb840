package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"go.viam.com/test"
)

type BasicStruct struct {
	X int
	y string
}

type User struct {
	Name string
}

type StructWithStruct struct {
	x int
	Y User
}

func newBufferLogger(name string, level Level) (*impl, *bytes.Buffer) {
	notStdout := &bytes.Buffer{}
	return newImpl(name, level, true, NewWriterAppender(notStdout)), notStdout
}

// assertLogMatches will fuzzy match log lines. Notably, this checks the time format, but ignores
// the exact time. And it expects a match on the filename, but the exact line number can be wrong.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	// Use the length of the first string as a weak verification of checking that the result looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	// Log level and logger name.
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])
	if len(actualParts) == 5 {
		return
	}

	// JSON map iteration order is unstable. Compare parsed maps.
	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, notStdout := newBufferLogger("impl", DEBUG)

	logger.Info("impl Info log")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:67	impl Info log`)

	logger.Infof("impl %s log", "infof")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:67	impl infof log`)

	logger.Infow("impl logw", "key", "value")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:67	impl logw	{"key":"value"}`)

	logger.Infow("StructWithStruct", "key", "val", "StructWithStruct", StructWithStruct{1, User{"alice"}})
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:67	StructWithStruct	{"StructWithStruct":{"Y":{"Name":"alice"}},"key":"val"}`)

	logger.Infow("BasicStruct", "implOneKey", "1val", "BasicStruct", BasicStruct{1, "alice"})
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:67	BasicStruct	{"BasicStruct":{"X":1},"implOneKey":"1val"}`)

	logger.Infow("impl logw", "key", "val", "fmt.Sprintf", fmt.Sprintf("%+v", BasicStruct{2, "bob"}))
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:67	impl logw	{"fmt.Sprintf":"{X:2 y:bob}","key":"val"}`)

	logger.Warnw("unpaired", "dangling")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	WARN	impl	logging/impl_test.go:67	unpaired	{"dangling":"unpaired log key"}`)
}

func TestLevels(t *testing.T) {
	logger, notStdout := newBufferLogger("levels", WARN)

	logger.Debug("dropped")
	logger.Info("dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Warn("kept")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	WARN	levels	logging/impl_test.go:67	kept`)

	logger.SetLevel(INFO)
	test.That(t, logger.GetLevel(), test.ShouldEqual, INFO)
	logger.Infof("now %d", 1)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	levels	logging/impl_test.go:67	now 1`)
}

func TestContextDebug(t *testing.T) {
	logger, notStdout := newBufferLogger("ctx", INFO)

	ctx := context.Background()
	logger.CDebugw(ctx, "dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	debugCtx := EnableDebugMode(ctx, "")
	test.That(t, IsDebugMode(debugCtx), test.ShouldBeTrue)
	test.That(t, GetName(debugCtx), test.ShouldHaveLength, 6)
	logger.CDebugw(debugCtx, "kept", "key", 2)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	DEBUG	ctx	logging/impl_test.go:67	kept	{"key":2}`)

	test.That(t, GetName(EnableDebugMode(ctx, "named")), test.ShouldEqual, "named")
}

func TestSublogger(t *testing.T) {
	logger, notStdout := newBufferLogger("parent", INFO)
	sub := logger.Sublogger("child")
	test.That(t, sub.GetLevel(), test.ShouldEqual, INFO)

	// The sublogger level is independent of the parent's.
	sub.SetLevel(ERROR)
	test.That(t, logger.GetLevel(), test.ShouldEqual, INFO)

	sub.Errorw("boom")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	ERROR	parent.child	logging/impl_test.go:67	boom`)
}

func TestWithFields(t *testing.T) {
	logger, notStdout := newBufferLogger("sched", INFO)
	run := logger.WithFields("run_id", "r1")
	run.Infow("started")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	sched	logging/impl_test.go:67	started	{"run_id":"r1"}`)

	run.Sublogger("cycle").Warnw("slow", "ms", 40)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	WARN	sched.cycle	logging/impl_test.go:67	slow	{"run_id":"r1","ms":40}`)

	// The parent is unaffected.
	logger.Info("plain")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	sched	logging/impl_test.go:67	plain`)
}

// helperTB counts Helper calls and captures what is logged.
type helperTB struct {
	testing.TB
	helpers int
	lines   []string
}

func (tb *helperTB) Helper() {
	tb.helpers++
}

func (tb *helperTB) Log(args ...any) {
	tb.lines = append(tb.lines, fmt.Sprint(args...))
}

func TestTestLoggerMarksHelpers(t *testing.T) {
	tb := &helperTB{TB: t}
	logger, _ := NewObservedTestLogger(tb)

	// The exported method, emit and the test appender each mark their frame.
	logger.Infow("attributed", "k", 1)
	test.That(t, tb.helpers, test.ShouldEqual, 3)
	test.That(t, tb.lines, test.ShouldHaveLength, 1)
	test.That(t, tb.lines[0], test.ShouldContainSubstring, "logging/impl_test.go:")
	test.That(t, tb.lines[0], test.ShouldContainSubstring, "attributed")

	logger.CDebugw(context.Background(), "also attributed")
	test.That(t, tb.helpers, test.ShouldEqual, 6)
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Infow("observed", "frame", 3)
	logger.Debug("also observed")

	test.That(t, logs.FilterMessage("observed").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterField(logs.All()[0].Context[0]).Len(), test.ShouldEqual, 1)
	test.That(t, logs.Len(), test.ShouldEqual, 2)
}

func TestLevelStrings(t *testing.T) {
	for _, level := range []Level{DEBUG, INFO, WARN, ERROR} {
		parsed, err := LevelFromString(level.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, level)
	}

	parsed, err := LevelFromString("warning")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed, test.ShouldEqual, WARN)

	_, err = LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	var fromJSON Level
	test.That(t, json.Unmarshal([]byte(`"error"`), &fromJSON), test.ShouldBeNil)
	test.That(t, fromJSON, test.ShouldEqual, ERROR)
}
