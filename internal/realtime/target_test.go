package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTarget(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		group  string
		str    string
	}{
		{"all", All(), "", "all"},
		{"user", User("u42"), "user:u42", "user:u42"},
		{"channel", Channel("traffic-alerts"), "traffic-alerts", "channel:traffic-alerts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.group, tt.target.GroupKey())
			assert.Equal(t, tt.str, tt.target.String())
		})
	}
}
