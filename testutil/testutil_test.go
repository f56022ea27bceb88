/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

// recordingT implements require.TestingT and remembers whether the assertion has failed.
type recordingT struct {
	failed bool
	msg    string
}

func (t *recordingT) FailNow() {
	t.failed = true
}

func (t *recordingT) Errorf(format string, args ...interface{}) {
	t.msg = format
	_ = args
}
