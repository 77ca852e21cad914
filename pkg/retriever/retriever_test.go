package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog/catalogtest"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
)

func newTestRetriever(t *testing.T) *Retriever {
	t.Helper()
	return New(catalogtest.Fleet(), rules.MustDefault(), zaptest.NewLogger(t))
}

func TestRetrieve_PriorityPhraseWins(t *testing.T) {
	r := newTestRetriever(t)

	refs := r.Retrieve(context.Background(), "show me distance report", 5)
	require.NotEmpty(t, refs)
	assert.Equal(t, "public.distance_report", refs[0].Name)
	assert.Equal(t, SourcePriority, refs[0].Signals[0].Source)
}

func TestRetrieve_SiteVisit(t *testing.T) {
	r := newTestRetriever(t)

	refs := r.Retrieve(context.Background(), "site visits done last week", 3)
	require.NotEmpty(t, refs)
	assert.Equal(t, "public.crm_site_visit_dtls", refs[0].Name)
}

func TestRetrieve_HierarchyPullsJoinChain(t *testing.T) {
	r := newTestRetriever(t)

	refs := r.Retrieve(context.Background(), "vehicles in the western region", 6)
	names := Names(refs)
	for _, want := range []string{"public.vehicle_master", "public.hosp_master", "public.district_master", "public.zone_master"} {
		assert.Contains(t, names, want)
	}
}

func TestRetrieve_StoppageNeverReturnsBannedTable(t *testing.T) {
	tables := append(catalogtest.FleetTables(), catalog.Table{
		Schema: "public", Name: "stoppage_report",
		Columns: []catalog.Column{{Name: "reg_no", PGType: "text", Type: catalog.TypeText}},
	})
	r := New(catalog.New(tables), rules.MustDefault(), zap.NewNop())

	refs := r.Retrieve(context.Background(), "stoppage report for MH12AB1001", 5)
	names := Names(refs)
	assert.Contains(t, names, "public.util_report")
	assert.NotContains(t, names, "public.stoppage_report")
	assert.Equal(t, "public.util_report", names[0])
}

func TestRetrieve_PhraseMappedToBannedTableIsDropped(t *testing.T) {
	rs, err := rules.Parse([]byte(`
priority_phrases:
  - { phrase: "schedule", tables: [plant_schedule, hosp_master] }
banned_tables:
  - { name: plant_schedule, replacement: hosp_master }
`))
	require.NoError(t, err)

	tables := append(catalogtest.FleetTables(), catalog.Table{Schema: "public", Name: "plant_schedule"})
	r := New(catalog.New(tables), rs, zap.NewNop())

	names := Names(r.Retrieve(context.Background(), "plant schedule", 5))
	assert.Equal(t, []string{"public.hosp_master"}, names)
}

func TestRetrieve_TruncatesToK(t *testing.T) {
	r := newTestRetriever(t)

	refs := r.Retrieve(context.Background(), "complaints of customers by category for each plant in every zone", 2)
	assert.Len(t, refs, 2)
	assert.GreaterOrEqual(t, refs[0].Score, refs[1].Score)
}

func TestRetrieve_DefaultK(t *testing.T) {
	r := newTestRetriever(t)

	refs := r.Retrieve(context.Background(), "vehicles complaints customers plants districts zones trips distance stoppage", 0)
	assert.Len(t, refs, DefaultK)
}

func TestRetrieve_NothingRelevant(t *testing.T) {
	r := newTestRetriever(t)
	assert.Empty(t, r.Retrieve(context.Background(), "hello there", 5))
}

func TestLexicalScore(t *testing.T) {
	score, _ := lexicalScore([]string{"complaint"}, "public.crm_complaint_dtls")
	assert.InDelta(t, 1.0, score, 1e-9)

	score, _ = lexicalScore([]string{"distnce"}, "public.distance_report")
	assert.InDelta(t, 0.8*(1-1.0/8), score, 1e-9)

	score, _ = lexicalScore([]string{"customer", "ship"}, "public.crm_customer_ship_dtls")
	assert.InDelta(t, WeightLexical, score, 1e-9)

	score, _ = lexicalScore([]string{"master"}, "public.zone_master")
	assert.Zero(t, score)
}

func TestAnalyze_SingularAndPhrases(t *testing.T) {
	a := analyze("Show all Complaints of Nagpur-Hingna plant")
	assert.True(t, a.hasPhrase("complaint"))
	assert.True(t, a.hasPhrase("plant"))
	assert.False(t, a.hasPhrase("site visit"))
	assert.Contains(t, a.tokens, "complaint")
	assert.NotContains(t, a.tokens, "show")
}

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) CreateEmbeddings(_ context.Context, inputs []string, _ string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = f.vectors[in]
	}
	return out, nil
}

func TestRetrieve_EmbeddingSignal(t *testing.T) {
	e := &fakeEmbedder{vectors: map[string][]float32{
		"trips":              {1, 0},
		"zones":              {0, 1},
		"how long did it go": {1, 0},
	}}
	idx, err := BuildEmbeddingIndex(context.Background(), e, "embed", map[string]string{
		"public.trip_report": "trips",
		"public.zone_master": "zones",
	}, 0, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	r := newTestRetriever(t).WithEmbeddings(idx)
	refs := r.Retrieve(context.Background(), "how long did it go", 5)
	require.Len(t, refs, 1)
	assert.Equal(t, "public.trip_report", refs[0].Name)
	assert.InDelta(t, WeightEmbedding, refs[0].Score, 1e-9)
	assert.Equal(t, SourceEmbedding, refs[0].Signals[0].Source)
}

func TestRetrieve_EmbeddingFailureIsSkipped(t *testing.T) {
	e := &fakeEmbedder{vectors: map[string][]float32{"trips": {1, 0}}}
	idx, err := BuildEmbeddingIndex(context.Background(), e, "embed", map[string]string{"public.trip_report": "trips"}, 0, zap.NewNop())
	require.NoError(t, err)

	e.err = errors.New("embedding endpoint down")
	r := newTestRetriever(t).WithEmbeddings(idx)

	refs := r.Retrieve(context.Background(), "show me distance report", 5)
	require.NotEmpty(t, refs)
	assert.Equal(t, "public.distance_report", refs[0].Name)
}

func TestBuildEmbeddingIndex_CountMismatch(t *testing.T) {
	_, err := BuildEmbeddingIndex(context.Background(), embedderFunc(func([]string) [][]float32 { return nil }), "m",
		map[string]string{"a": "x"}, 0, zap.NewNop())
	require.Error(t, err)
}

type embedderFunc func([]string) [][]float32

func (f embedderFunc) CreateEmbeddings(_ context.Context, inputs []string, _ string) ([][]float32, error) {
	return f(inputs), nil
}
