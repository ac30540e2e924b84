package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func testThresholds() commission.Thresholds {
	return commission.Thresholds{
		HighEntropyUniqueRatio:    0.8,
		HighEntropyShannon:        4.0,
		DominantCoverageThreshold: 0.25,
		PHAClusterSizeThreshold:   5,
		OutlierMinorityFraction:   0.05,
		RegimeGapTolerance:        180 * 24 * time.Hour,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	server := httptest.NewServer(api.NewRouter(api.NewHandler(store, testThresholds())))
	t.Cleanup(server.Close)
	return server, store
}

func seedGroup(t *testing.T, store *sqlite.Store, group commission.GroupID, n int) {
	t.Helper()
	var certs []commission.Certificate
	for i := 0; i < n; i++ {
		certs = append(certs, commission.Certificate{
			ID:            commission.CertificateID(fmt.Sprintf("%s-C-%d", group, i)),
			Group:         group,
			ProductCode:   "DENT",
			PlanCode:      "PLAN-1",
			EffectiveDate: time.Date(2020, time.January, 1+i%28, 0, 0, 0, 0, time.UTC),
			Status:        "active",
			Splits: []commission.SplitEntry{{
				Sequence: 1,
				Percent:  decimal.NewFromInt(100),
				Tiers: []commission.Tier{
					{Level: 1, Broker: "BRK-A", Schedule: "SCH-STD"},
				},
			}},
		})
	}
	require.NoError(t, store.InsertCertificates(context.Background(), certs))
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// =============================================================================
// REVIEW ENDPOINT TESTS
// =============================================================================

func TestAPI_Health(t *testing.T) {
	server, _ := newTestServer(t)

	var body map[string]string
	status := getJSON(t, server.URL+"/api/health", &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_ListGroups(t *testing.T) {
	server, store := newTestServer(t)
	seedGroup(t, store, "GRP-A", 3)
	seedGroup(t, store, "GRP-B", 3)

	var groups []string
	status := getJSON(t, server.URL+"/api/groups", &groups)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"GRP-A", "GRP-B"}, groups)
}

func TestAPI_GetStatistics(t *testing.T) {
	server, store := newTestServer(t)
	seedGroup(t, store, "GRP-1", 10)

	var stats api.GroupStatisticsDTO
	status := getJSON(t, server.URL+"/api/groups/GRP-1/statistics", &stats)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "GRP-1", stats.Group)
	assert.Equal(t, 10, stats.Certificates)
	assert.Equal(t, 1, stats.Clusters)
	assert.Equal(t, 0.0, stats.Entropy)
	assert.Equal(t, 1.0, stats.DominantCoverage)
}

func TestAPI_GetStatistics_UnknownGroup_404(t *testing.T) {
	server, _ := newTestServer(t)

	status := getJSON(t, server.URL+"/api/groups/NOPE/statistics", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

// =============================================================================
// OPERATION ENDPOINT TESTS
// =============================================================================

func TestAPI_RunThenReview(t *testing.T) {
	// GIVEN: A templatable group
	// WHEN: POSTing a run, then reading the group's proposals
	// THEN: The run reports one proposal and the review endpoint serves it

	server, store := newTestServer(t)
	seedGroup(t, store, "GRP-1", 10)

	var summary api.RunSummaryDTO
	status := postJSON(t, server.URL+"/api/runs", api.RunRequest{}, &summary)

	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, []string{"GRP-1"}, summary.Processed)
	assert.Equal(t, 1, summary.Proposals)
	assert.Empty(t, summary.Failed)

	var proposals []api.ProposalDTO
	status = getJSON(t, server.URL+"/api/groups/GRP-1/proposals", &proposals)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, proposals, 1)
	assert.Equal(t, summary.RunID, proposals[0].RunID)
	assert.Equal(t, "DENT", proposals[0].ProductFilter)

	var assignments []api.AssignmentDTO
	status = getJSON(t, server.URL+"/api/groups/GRP-1/assignments", &assignments)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, assignments)
}

func TestAPI_RunSubsetOfGroups(t *testing.T) {
	server, store := newTestServer(t)
	seedGroup(t, store, "GRP-A", 10)
	seedGroup(t, store, "GRP-B", 10)

	var summary api.RunSummaryDTO
	status := postJSON(t, server.URL+"/api/runs", api.RunRequest{Groups: []string{"GRP-A"}}, &summary)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"GRP-A"}, summary.Processed)

	var proposals []api.ProposalDTO
	getJSON(t, server.URL+"/api/groups/GRP-B/proposals", &proposals)
	assert.Empty(t, proposals, "untouched group must have nothing staged")
}

func TestAPI_Validate_AfterRun_Passes(t *testing.T) {
	server, store := newTestServer(t)
	seedGroup(t, store, "GRP-1", 10)

	require.Equal(t, http.StatusOK, postJSON(t, server.URL+"/api/runs", api.RunRequest{}, nil))

	var reports []api.ValidationReportDTO
	status := postJSON(t, server.URL+"/api/validate", api.ValidateRequest{Deep: true}, &reports)

	require.Equal(t, http.StatusOK, status)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Passed)
	assert.NotNil(t, reports[0].Deep)
	assert.Equal(t, 10, reports[0].NonPHACount)
}

func TestAPI_Run_MalformedBody_400(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/runs", "application/json", bytes.NewReader([]byte("{bad")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errBody api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
	assert.NotEmpty(t, errBody.Error)
}
