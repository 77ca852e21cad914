package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		query   string
		kind    Kind
		field   string
		ordinal int
		phrase  string
	}{
		{query: "show their categories", kind: KindPossessive, field: "categories"},
		{query: "show thier details", kind: KindPossessive},
		{query: "what about thire liability", kind: KindPossessive, field: "liability"},
		{query: "which of these have liability < 10000", kind: KindDemonstrative},
		{query: "show those on a map", kind: KindDemonstrative},
		{query: "what is the region of the 7th vehicle", kind: KindOrdinal, ordinal: 7, field: "region"},
		{query: "tell me about the second one", kind: KindOrdinal, ordinal: 2},
		{query: "show the last one", kind: KindOrdinal, ordinal: -1},
		{query: "show item 3", kind: KindOrdinal, ordinal: 3},
		{query: "show me the leakage one", kind: KindSubPick, phrase: "leakage"},
		{query: "tell me more", kind: KindImplicit},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			ds := Detect(tt.query)
			require.NotEmpty(t, ds)
			d, ok := find(ds, tt.kind)
			require.True(t, ok, "kinds: %v", ds)
			assert.Equal(t, tt.field, d.Field)
			assert.Equal(t, tt.ordinal, d.Ordinal)
			assert.Equal(t, tt.phrase, d.Phrase)
		})
	}
}

func TestDetect_NewQuestions(t *testing.T) {
	for _, q := range []string{
		"show the first 10 vehicles",
		"complaints from last week",
		"show the open complaints",
		"vehicles that have a mixer body",
		"where is the plant located in the north zone",
		"total distance for MH12AB1234",
		"distance report for 1st march",
		"complaints registered on 3rd june",
		"trips from the 2nd week of january",
		"complaints raised on march 3rd",
		"visits since the first of april",
	} {
		assert.Empty(t, Detect(q), q)
	}
}

func TestDetect_OrdinalNextToDate(t *testing.T) {
	ds := Detect("what about the 3rd vehicle registered in june")
	d, ok := find(ds, KindOrdinal)
	require.True(t, ok)
	assert.Equal(t, 3, d.Ordinal)
}

func TestDetect_SubPickWithImplicit(t *testing.T) {
	ds := Detect("more detail about the leakage complaint")

	sub, ok := find(ds, KindSubPick)
	require.True(t, ok)
	assert.Equal(t, "leakage", sub.Phrase)
	assert.True(t, hasKind(ds, KindImplicit))
	assert.InDelta(t, 0.7, Confidence(ds), 1e-9)
}

func TestDetect_OrdinalIsNotSubPick(t *testing.T) {
	ds := Detect("show the first complaint")
	assert.True(t, hasKind(ds, KindOrdinal))
	assert.False(t, hasKind(ds, KindSubPick))
}

func TestConfidence(t *testing.T) {
	assert.Zero(t, Confidence(nil))
	assert.InDelta(t, 0.8, Confidence([]Detection{{Kind: KindPossessive, Confidence: 0.8}}), 1e-9)
	assert.InDelta(t, 0.95, Confidence([]Detection{
		{Kind: KindDemonstrative, Confidence: 0.9},
		{Kind: KindOrdinal, Confidence: 0.85},
	}), 1e-9)
	assert.InDelta(t, 0.8, Confidence([]Detection{
		{Kind: KindPossessive, Confidence: 0.8},
		{Kind: KindPossessive, Confidence: 0.8},
	}), 1e-9)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		number, suffix, want string
	}{
		{"10000", "", "10000"},
		{"10,000", "", "10000"},
		{"10", "k", "10000"},
		{"2.5", "lakh", "250000"},
		{"1", "Cr", "10000000"},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.number, tt.suffix)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.String(), "%s %s", tt.number, tt.suffix)
	}

	_, err := ParseAmount("ten", "")
	assert.Error(t, err)
}
