package queue

import (
	"testing"
	"time"
)

func TestOptionsDefaults(t *testing.T) {
	var o Options
	o.defaults()
	if o.Workers != 1 || o.Limit != 20 || o.Window != time.Minute || o.Retention != 24*time.Hour {
		t.Errorf("defaults = %+v", o)
	}
	if o.Classify(nil) != "error" {
		t.Errorf("default Classify = %q", o.Classify(nil))
	}
}

func TestOptionsDefaults_PollTimeoutFloor(t *testing.T) {
	for _, in := range []time.Duration{0, 50 * time.Millisecond, 999 * time.Millisecond} {
		o := Options{PollTimeout: in}
		o.defaults()
		if o.PollTimeout != time.Second {
			t.Errorf("PollTimeout(%v) = %v, want 1s", in, o.PollTimeout)
		}
	}
	o := Options{PollTimeout: 5 * time.Second}
	o.defaults()
	if o.PollTimeout != 5*time.Second {
		t.Errorf("PollTimeout = %v, want 5s kept", o.PollTimeout)
	}
}
