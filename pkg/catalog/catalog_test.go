package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-flow/sentinel/pkg/log"
	"github.com/sentinel-flow/sentinel/pkg/models"
)

func validGraphDocument() map[string]any {
	return map[string]any{
		"nodes": []any{
			map[string]any{"key": "ingest", "eventType": "payment.ingested", "start": true},
			map[string]any{"key": "settle", "eventType": "payment.settled", "terminal": true},
		},
		"edges": []any{
			map[string]any{"from": "ingest", "to": "settle", "maxLatencySec": 300, "severity": "amber"},
		},
		"groupDimensions": []any{"region"},
	}
}

func testWorkflow(key string) *models.Workflow {
	return &models.Workflow{Key: key, Name: "Payment settlement", Owner: "payments"}
}

func TestCatalog_CreateActivatesFirstVersion(t *testing.T) {
	c := NewCatalog(log.WithModule("test"))

	workflow, version, err := c.Create(testWorkflow("payments"), validGraphDocument())
	require.NoError(t, err)

	assert.NotEmpty(t, workflow.ID)
	assert.Equal(t, models.WorkflowStatusPublished, workflow.Status)
	assert.Equal(t, version.ID, workflow.ActiveVersionID)
	assert.Equal(t, 1, version.VersionNum)
	require.NotNil(t, version.Graph)
	assert.Equal(t, []string{"region"}, version.Graph.GroupDimensions)

	got, err := c.WorkflowByKey("payments")
	require.NoError(t, err)
	assert.Equal(t, workflow.ID, got.ID)
}

func TestCatalog_CreateRejectsBadDocumentWithoutMutation(t *testing.T) {
	c := NewCatalog(log.WithModule("test"))

	tests := []struct {
		name     string
		document map[string]any
	}{
		{
			name:     "missing nodes",
			document: map[string]any{"edges": []any{}},
		},
		{
			name: "node without event type",
			document: map[string]any{
				"nodes": []any{map[string]any{"key": "ingest"}},
			},
		},
		{
			name: "edge to unknown node",
			document: map[string]any{
				"nodes": []any{
					map[string]any{"key": "ingest", "eventType": "payment.ingested", "start": true},
				},
				"edges": []any{
					map[string]any{"from": "ingest", "to": "ghost"},
				},
			},
		},
		{
			name: "bad absolute deadline",
			document: map[string]any{
				"nodes": []any{
					map[string]any{"key": "ingest", "eventType": "payment.ingested", "start": true},
					map[string]any{"key": "settle", "eventType": "payment.settled", "terminal": true},
				},
				"edges": []any{
					map[string]any{"from": "ingest", "to": "settle", "absoluteDeadline": "25:99"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := c.Create(testWorkflow("payments"), tt.document)

			require.Error(t, err)
			assert.True(t, IsInvalidGraph(err))
		})
	}

	assert.Empty(t, c.Workflows(), "a rejected definition must not mutate the catalog")
}

func TestCatalog_CreateRejectsDuplicateKey(t *testing.T) {
	c := NewCatalog(log.WithModule("test"))

	_, _, err := c.Create(testWorkflow("payments"), validGraphDocument())
	require.NoError(t, err)

	_, _, err = c.Create(testWorkflow("payments"), validGraphDocument())
	assert.True(t, IsDuplicateKey(err))
}

func TestCatalog_PublishVersionKeepsOldVersionResolvable(t *testing.T) {
	c := NewCatalog(log.WithModule("test"))

	workflow, first, err := c.Create(testWorkflow("payments"), validGraphDocument())
	require.NoError(t, err)

	second, err := c.PublishVersion(workflow.ID, validGraphDocument(), "ops")
	require.NoError(t, err)
	assert.Equal(t, 2, second.VersionNum)

	active, err := c.ActiveVersion(workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	// Correlations started on v1 still resolve their graph.
	old, err := c.Version(first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, old.VersionNum)

	versions := c.VersionsFor(workflow.ID)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].VersionNum)
}

func TestCatalog_ResolveForEvent(t *testing.T) {
	c := NewCatalog(log.WithModule("test"))

	payments, _, err := c.Create(testWorkflow("payments"), validGraphDocument())
	require.NoError(t, err)

	orders := validGraphDocument()
	_, _, err = c.Create(testWorkflow("orders"), orders)
	require.NoError(t, err)

	t.Run("explicit workflow key wins", func(t *testing.T) {
		versions := c.ResolveForEvent(models.NormalizedEvent{
			EventType:   "payment.ingested",
			WorkflowKey: "payments",
		})

		require.Len(t, versions, 1)
		assert.Equal(t, payments.ID, versions[0].WorkflowID)
	})

	t.Run("unknown key resolves to nothing", func(t *testing.T) {
		versions := c.ResolveForEvent(models.NormalizedEvent{
			EventType:   "payment.ingested",
			WorkflowKey: "ghost",
		})

		assert.Empty(t, versions)
	})

	t.Run("no key fans out by event type", func(t *testing.T) {
		versions := c.ResolveForEvent(models.NormalizedEvent{EventType: "payment.ingested"})

		assert.Len(t, versions, 2)
	})

	t.Run("retired workflows are excluded", func(t *testing.T) {
		require.NoError(t, c.Retire(payments.ID))

		versions := c.ResolveForEvent(models.NormalizedEvent{EventType: "payment.ingested"})
		require.Len(t, versions, 1)
		assert.NotEqual(t, payments.ID, versions[0].WorkflowID)
	})
}

func TestCatalog_UnknownLookups(t *testing.T) {
	c := NewCatalog(log.WithModule("test"))

	_, err := c.Workflow("ghost")
	assert.True(t, IsWorkflowNotFound(err))

	_, err = c.Version("ghost")
	assert.True(t, IsVersionNotFound(err))

	_, err = c.ActiveVersion("ghost")
	assert.True(t, IsWorkflowNotFound(err))

	assert.True(t, IsWorkflowNotFound(c.Retire("ghost")))
}
