package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBBoxSize(t *testing.T) {
	bs := NewBBoxSize([4]int{10, 10, 50, 60})
	assert.Equal(t, 40, bs.W)
	assert.Equal(t, 50, bs.H)
	assert.Equal(t, 2000, bs.Area)
	assert.False(t, bs.IsSmall)

	small := NewBBoxSize([4]int{0, 0, 10, 10})
	assert.True(t, small.IsSmall)
}

func TestManualBoxToDetection_DefaultsToDefect(t *testing.T) {
	m := ManualBox{X: 0, Y: 0, Width: 5, Height: 5, Name: "bar"}
	d := m.ToDetection()
	assert.Equal(t, "bar", d.Class)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, [4]int{0, 0, 5, 5}, d.BBox)
	assert.True(t, d.IsManual)
	require.NotNil(t, d.DefectSummary)
	assert.Equal(t, "Повреждение", d.DefectSummary.Type)
}

func TestManualBoxToDetection_ExplicitNormal(t *testing.T) {
	isDefect := false
	m := ManualBox{X: 1, Y: 2, Width: 3, Height: 4, IsDefect: &isDefect}
	d := m.ToDetection()
	require.NotNil(t, d.DefectSummary)
	assert.Equal(t, "Норма", d.DefectSummary.Type)
	assert.Equal(t, "none", d.DefectSummary.Severity)
	assert.Equal(t, "manual", d.Class)
}

// Existing [damaged_insulator(non-manual),
// foo(manual)] merged with one new manual box "bar" yields exactly the
// non-manual entry plus the new manual entry; the stale "foo" is gone.
func TestSummaryMergeManual_ReplacesOnlyManualSubset(t *testing.T) {
	s := &Summary{
		Detections: []Detection{
			{Class: "damaged_insulator", IsManual: false, DefectSummary: &DefectSummary{Severity: "high"}},
			{Class: "foo", IsManual: true},
		},
	}
	isDefect := true
	s.MergeManual([]ManualBox{{X: 0, Y: 0, Width: 5, Height: 5, Name: "bar", IsDefect: &isDefect}})

	require.Len(t, s.Detections, 2)
	var sawDamaged, sawBar, sawFoo bool
	for _, d := range s.Detections {
		switch d.Class {
		case "damaged_insulator":
			sawDamaged = true
			assert.False(t, d.IsManual)
		case "bar":
			sawBar = true
			assert.True(t, d.IsManual)
			assert.Equal(t, 1.0, d.Confidence)
			assert.Equal(t, [4]int{0, 0, 5, 5}, d.BBox)
		case "foo":
			sawFoo = true
		}
	}
	assert.True(t, sawDamaged)
	assert.True(t, sawBar)
	assert.False(t, sawFoo)
}

func TestSummaryMergeManual_Idempotent(t *testing.T) {
	s := &Summary{Detections: []Detection{{Class: "x", IsManual: false}}}
	boxes := []ManualBox{{X: 1, Y: 1, Width: 2, Height: 2, Name: "y"}}
	s.MergeManual(boxes)
	first := append([]Detection(nil), s.Detections...)
	s.MergeManual(boxes)
	assert.Equal(t, first, s.Detections)
}

func TestSummaryRecompute_DefectsCountExcludesNoneSeverity(t *testing.T) {
	s := &Summary{Detections: []Detection{
		{Class: "a", DefectSummary: &DefectSummary{Severity: "none"}},
		{Class: "b", DefectSummary: &DefectSummary{Severity: "high"}},
		{Class: "b"},
	}}
	s.Recompute()
	assert.Equal(t, 3, s.TotalObjects)
	assert.Equal(t, 1, s.DefectsCount)
	assert.True(t, s.HasDefects)
	assert.Equal(t, 2, s.Statistics["b"])
}

func TestIsDefectiveClass(t *testing.T) {
	assert.True(t, IsDefectiveClass("bad_insulator"))
	assert.True(t, IsDefectiveClass("damaged_insulator"))
	assert.False(t, IsDefectiveClass("insulator"))
}

func TestReplaceAll(t *testing.T) {
	s := &Summary{Detections: []Detection{{Class: "old", IsManual: true}}}
	s.ReplaceAll([]Detection{{Class: "new", DefectSummary: &DefectSummary{Severity: "high"}}})
	require.Len(t, s.Detections, 1)
	assert.Equal(t, "new", s.Detections[0].Class)
	assert.Equal(t, 1, s.DefectsCount)
}
