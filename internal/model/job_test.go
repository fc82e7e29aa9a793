package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobIsTerminal(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusQueued, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, c := range cases {
		j := &Job{Status: c.status}
		assert.Equal(t, c.want, j.IsTerminal(), "status %s", c.status)
	}
}
