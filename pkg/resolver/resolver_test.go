package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog/catalogtest"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/database"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/prompts"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/session"
	fleetsql "github.com/ekaya-inc/ekaya-fleetql/pkg/sql"
)

type fakeClassifier struct {
	check   prompts.ReferenceCheck
	err     error
	prompts []prompts.Prompt
}

func (f *fakeClassifier) Classify(_ context.Context, p prompts.Prompt, out any) error {
	f.prompts = append(f.prompts, p)
	if f.err != nil {
		return f.err
	}
	*out.(*prompts.ReferenceCheck) = f.check
	return nil
}

func newTestResolver(t *testing.T, oracle Classifier) *Resolver {
	t.Helper()
	return New(rules.MustDefault(), oracle, Config{}, zaptest.NewLogger(t))
}

func contextWith(t *testing.T, query string, res *database.QueryResult) *session.Context {
	t.Helper()
	sc := session.NewContext("test", 5)
	sc.Push(session.NewFrame(query, "SELECT ...", res, "", rules.MustDefault().IdentifierPriority, nil))
	return sc
}

func complaintResult(descs ...string) *database.QueryResult {
	res := &database.QueryResult{Columns: []database.Column{
		{Name: "id_no", Type: "int4"}, {Name: "complaint_date", Type: "timestamp"},
		{Name: "liability", Type: "numeric"}, {Name: "complaint_desc", Type: "text"},
	}}
	for i, d := range descs {
		res.Rows = append(res.Rows, map[string]any{
			"id_no": int64(101 + i), "complaint_date": "01 Mar 2024 10:00", "liability": int64(5000 * (i + 1)), "complaint_desc": d,
		})
	}
	res.RowCount = len(res.Rows)
	return res
}

func vehicleResult(n int) *database.QueryResult {
	res := &database.QueryResult{Columns: []database.Column{
		{Name: "reg_no", Type: "text"}, {Name: "vehicle_type", Type: "text"}, {Name: "plant_id", Type: "int4"},
	}}
	for i := range n {
		res.Rows = append(res.Rows, map[string]any{
			"reg_no": fmt.Sprintf("MH12AB%04d", i+1), "vehicle_type": "mixer", "plant_id": int64(1),
		})
	}
	res.RowCount = n
	return res
}

func TestResolve_EmptyStackIsNeverReferential(t *testing.T) {
	r := newTestResolver(t, nil)

	res, err := r.Resolve(context.Background(), "show their details", session.NewContext("s", 5))
	require.NoError(t, err)
	assert.False(t, res.Referential)
	assert.GreaterOrEqual(t, res.Confidence, DefaultThreshold)
	assert.Empty(t, res.SQL)
	assert.Nil(t, res.Result)
}

func TestResolve_NewQuestionPassesThrough(t *testing.T) {
	r := newTestResolver(t, nil)
	sc := contextWith(t, "show open complaints", complaintResult("a", "b"))

	res, err := r.Resolve(context.Background(), "show all vehicles in Nagpur", sc)
	require.NoError(t, err)
	assert.False(t, res.Referential)
}

func TestResolve_FilterOnLiability(t *testing.T) {
	r := newTestResolver(t, nil)
	sc := contextWith(t, "show open complaints", complaintResult("a", "b", "c"))

	res, err := r.Resolve(context.Background(), "which of these have liability < 10000", sc)
	require.NoError(t, err)
	require.True(t, res.Referential)
	assert.Equal(t, OpFilter, res.Operation)
	assert.Equal(t, "complaints", res.Entity)
	assert.Contains(t, res.SQL, "WHERE c.id_no IN (101, 102, 103) AND c.liability < 10000 LIMIT 50")
	assert.Contains(t, res.SQL, "FROM public.crm_complaint_dtls c")

	v := fleetsql.NewValidator(catalogtest.Fleet(), rules.MustDefault(), zap.NewNop())
	_, err = v.Validate(res.SQL)
	assert.NoError(t, err)
}

func TestResolve_FilterVariants(t *testing.T) {
	r := newTestResolver(t, nil)
	sc := contextWith(t, "show complaints", complaintResult("a", "b"))

	tests := []struct {
		query string
		want  string
	}{
		{"which of these are open", "c.active_status = 'Y'"},
		{"which of these are closed", "c.active_status = 'N'"},
		{"which of those have liability above 1 lakh", "c.liability > 100000"},
		{"which of these have correction not done", "c.product_correction = 'N'"},
		{"which of these are in category quality", "cc.category_name ILIKE '%quality%'"},
		{"which of these are from the nagpur plant", "h.name ILIKE '%nagpur%'"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res, err := r.Resolve(context.Background(), tt.query, sc)
			require.NoError(t, err)
			assert.Equal(t, OpFilter, res.Operation)
			assert.Contains(t, res.SQL, tt.want)
		})
	}
}

func TestResolve_ComparisonWithUnitIsNotAmount(t *testing.T) {
	r := newTestResolver(t, nil)
	sc := contextWith(t, "show complaints", complaintResult("a", "b"))

	for _, q := range []string{
		"which of these were filed over 3 days ago",
		"which of these are more than 2 weeks old",
		"which of those were logged under 2 months back",
	} {
		t.Run(q, func(t *testing.T) {
			res, err := r.Resolve(context.Background(), q, sc)
			require.NoError(t, err)
			assert.NotEqual(t, OpFilter, res.Operation)
			assert.NotContains(t, res.SQL, "c.liability >")
		})
	}

	res, err := r.Resolve(context.Background(), "which of these have liability over 5000", sc)
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "c.liability > 5000")
}

func TestResolve_Count(t *testing.T) {
	r := newTestResolver(t, nil)
	sc := contextWith(t, "show complaints", complaintResult("a", "b", "c"))

	res, err := r.Resolve(context.Background(), "how many of them are there", sc)
	require.NoError(t, err)
	assert.Equal(t, OpCount, res.Operation)
	require.NotNil(t, res.Result)
	assert.Equal(t, int64(3), res.Result.Rows[0]["complaint_count"])

	res, err = r.Resolve(context.Background(), "how many of these are open", sc)
	require.NoError(t, err)
	assert.Equal(t, OpFilter, res.Operation)
	assert.Contains(t, res.SQL, "SELECT COUNT(*) AS complaint_count FROM")
}

func TestResolve_OrdinalNeedsLookup(t *testing.T) {
	r := newTestResolver(t, nil)
	sc := contextWith(t, "show me all vehicles", vehicleResult(8))

	res, err := r.Resolve(context.Background(), "what is the region of the 7th vehicle", sc)
	require.NoError(t, err)
	assert.Equal(t, OpOrdinal, res.Operation)
	assert.Equal(t, "vehicles", res.Entity)
	assert.Contains(t, res.SQL, "z.name AS zone_name")
	assert.Contains(t, res.SQL, "WHERE v.reg_no = 'MH12AB0007'")
	assert.Nil(t, res.Result)
}

func TestResolve_OrdinalFromFrame(t *testing.T) {
	r := newTestResolver(t, nil)
	sc := contextWith(t, "show me all vehicles", vehicleResult(8))

	res, err := r.Resolve(context.Background(), "what is the type of the 2nd vehicle", sc)
	require.NoError(t, err)
	assert.Equal(t, OpOrdinal, res.Operation)
	assert.Empty(t, res.SQL)
	require.NotNil(t, res.Result)
	assert.Equal(t, []string{"reg_no", "vehicle_type"}, res.Result.ColumnNames())
	assert.Equal(t, map[string]any{"reg_no": "MH12AB0002", "vehicle_type": "mixer"}, res.Result.Rows[0])

	res, err = r.Resolve(context.Background(), "tell me about the last one", sc)
	require.NoError(t, err)
	require.NotNil(t, res.Result)
	assert.Equal(t, "MH12AB0008", res.Result.Rows[0]["reg_no"])
	assert.NotContains(t, res.Result.Rows[0], session.DisplayIndexKey)
}

func TestResolve_OrdinalOutOfRange(t *testing.T) {
	r := newTestResolver(t, nil)
	sc := contextWith(t, "show me all vehicles", vehicleResult(3))

	res, err := r.Resolve(context.Background(), "show the 12th one", sc)
	require.NoError(t, err)
	require.NotNil(t, res.Result)
	assert.True(t, res.Result.Empty())
	assert.Equal(t, "The previous results only had 3 vehicles.", res.Note)
}

func TestResolve_OrdinalUnknownFieldBecomesHint(t *testing.T) {
	r := newTestResolver(t, nil)
	sc := contextWith(t, "show me all vehicles", vehicleResult(8))

	res, err := r.Resolve(context.Background(), "who is the driver of the 3rd vehicle", sc)
	require.NoError(t, err)
	require.NotNil(t, res.Hint)
	assert.Equal(t, 3, res.Hint.Ordinal)
	assert.Equal(t, []string{"MH12AB0003"}, res.Hint.Identifiers)
	assert.Equal(t, "reg_no", res.Hint.IdentifierColumn)
}

func TestResolve_SubPick(t *testing.T) {
	r := newTestResolver(t, nil)

	sc := contextWith(t, "show complaints", complaintResult("Water leakage from drum", "Late delivery", "Cracks in slab"))
	res, err := r.Resolve(context.Background(), "show me the leakage one", sc)
	require.NoError(t, err)
	assert.Equal(t, OpSubPick, res.Operation)
	require.NotNil(t, res.Result)
	assert.Equal(t, int64(101), res.Result.Rows[0]["id_no"])

	sc = contextWith(t, "show complaints", complaintResult("Leakage at site", "Late delivery", "Drum leakage"))
	res, err = r.Resolve(context.Background(), "show me the leakage one", sc)
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "WHERE c.id_no IN (101, 103)")

	res, err = r.Resolve(context.Background(), "show me the honeycomb one", sc)
	require.NoError(t, err)
	require.NotNil(t, res.Hint)
	assert.Equal(t, []string{"101", "102", "103"}, res.Hint.Identifiers)
}

func TestResolve_DetailTruncatesIdentifiers(t *testing.T) {
	r := newTestResolver(t, nil)
	sc := contextWith(t, "show me all vehicles", vehicleResult(60))

	res, err := r.Resolve(context.Background(), "show their details", sc)
	require.NoError(t, err)
	assert.Equal(t, OpDetail, res.Operation)
	assert.Contains(t, res.SQL, "'MH12AB0050'")
	assert.NotContains(t, res.SQL, "'MH12AB0051'")
	assert.Equal(t, "Only the first 50 of the 60 earlier results were considered.", res.Note)
}

func TestResolve_OracleRaisesConfidence(t *testing.T) {
	oracle := &fakeClassifier{check: prompts.ReferenceCheck{RefersToPrevious: true, Operation: "detail", Confidence: 0.9}}
	r := newTestResolver(t, oracle)
	sc := contextWith(t, "show me all vehicles", vehicleResult(2))

	res, err := r.Resolve(context.Background(), "tell me more", sc)
	require.NoError(t, err)
	require.Len(t, oracle.prompts, 1)
	assert.Contains(t, oracle.prompts[0].User, "tell me more")
	assert.True(t, res.Referential)
	assert.Equal(t, OpDetail, res.Operation)
	assert.Contains(t, res.SQL, "WHERE v.reg_no IN ('MH12AB0001', 'MH12AB0002')")
}

func TestResolve_OracleDeclines(t *testing.T) {
	sc := contextWith(t, "show me all vehicles", vehicleResult(2))

	for name, oracle := range map[string]*fakeClassifier{
		"not referential": {check: prompts.ReferenceCheck{RefersToPrevious: false, Confidence: 0.9}},
		"error":           {err: errors.New("model down")},
	} {
		t.Run(name, func(t *testing.T) {
			res, err := newTestResolver(t, oracle).Resolve(context.Background(), "tell me more", sc)
			require.NoError(t, err)
			assert.False(t, res.Referential)
		})
	}
}

func TestResolve_OracleNotAskedWhenConfident(t *testing.T) {
	oracle := &fakeClassifier{}
	r := newTestResolver(t, oracle)
	sc := contextWith(t, "show me all vehicles", vehicleResult(2))

	_, err := r.Resolve(context.Background(), "show their details", sc)
	require.NoError(t, err)
	assert.Empty(t, oracle.prompts)
}

func TestResolve_RejectsInjectedIdentifiers(t *testing.T) {
	r := newTestResolver(t, nil)
	res := vehicleResult(1)
	res.Rows[0]["reg_no"] = "x' OR 1=1 --"
	sc := contextWith(t, "show me all vehicles", res)

	_, err := r.Resolve(context.Background(), "show their details", sc)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidatorRejection, apperrors.KindOf(err))
}

func TestInferEntity_OrderedMostSpecificFirst(t *testing.T) {
	rs := rules.MustDefault()

	et, ok := InferEntity(rs, []string{"id_no", "complaint_date", "plant_id", "cust_id", "customer_name"})
	require.True(t, ok)
	assert.Equal(t, "complaints", et.Name)

	et, ok = InferEntity(rs, []string{"cust_id", "customer_name", "plant_name"})
	require.True(t, ok)
	assert.Equal(t, "customers", et.Name)

	_, ok = InferEntity(rs, []string{"total"})
	assert.False(t, ok)
}
