package network

import "testing"

func TestOSCMatch(t *testing.T) {
	tests := []struct {
		pattern string
		addr    string
		want    bool
	}{
		{"/control/transport/start", "/control/transport/start", true},
		{"/control/transport/start", "/control/transport/stop", false},
		{"/control/transport/*", "/control/transport/start", true},
		{"/control/*/start", "/control/transport/start", true},
		{"/control/*", "/control/transport/start", false}, // '*' never crosses '/'
		{"/edit/channel/?/gain", "/edit/channel/3/gain", true},
		{"/edit/channel/?/gain", "/edit/channel/12/gain", false},
		{"/edit/channel/[0-9]/gain", "/edit/channel/7/gain", true},
		{"/edit/channel/[0-9]/gain", "/edit/channel/x/gain", false},
		{"/edit/channel/[!0-9]/gain", "/edit/channel/x/gain", true},
		{"/control/transport/{start,stop}", "/control/transport/start", true},
		{"/control/transport/{start,stop}", "/control/transport/stop", true},
		{"/control/transport/{start,stop}", "/control/transport/zero", false},
		{"/control/cue/+", "/control/cue/+", true},
		{"/edit/channel/1?/gain", "/edit/channel/12/gain", true},
		{"/a/*/c", "/a/bb/c", true},
		{"/a/*x/c", "/a/bbx/c", true},
		{"/a/*x/c", "/a/bby/c", false},
	}
	for _, tt := range tests {
		if got := oscMatch(tt.pattern, tt.addr); got != tt.want {
			t.Errorf("oscMatch(%q, %q) = %v, want %v", tt.pattern, tt.addr, got, tt.want)
		}
	}
}
