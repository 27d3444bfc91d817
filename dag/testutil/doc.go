// Package testutil provides mock processors and a scheduler harness for
// testing code built on the dag package.
//
// Example:
//
//	func TestMyPipeline(t *testing.T) {
//	    h := testutil.NewHarness(dag.Config{})
//	    h.Register("resize", testutil.NewMockProcessor(map[string]any{"ok": true}, nil))
//
//	    exec, err := h.Run(ctx, testutil.MustParse(t, doc), map[string]any{"url": "s3://in"})
//	    // ... assertions on exec and h.Recorder.Steps(exec.ID)
//	}
package testutil
