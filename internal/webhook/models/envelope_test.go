package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	id "incentra/pkg/domain"
	dErrors "incentra/pkg/domain-errors"
)

func TestNewEnvelope(t *testing.T) {
	orgID := id.OrgID(uuid.New())
	now := time.Now()

	t.Run("assigns a fresh time-ordered id per call", func(t *testing.T) {
		first, err := NewEnvelope(EventProjectCreated, nil, orgID, now, nil)
		require.NoError(t, err)
		second, err := NewEnvelope(EventProjectCreated, nil, orgID, now, nil)
		require.NoError(t, err)

		require.Regexp(t, `^evt_\d+_[0-9a-f]{12}$`, first.ID)
		require.NotEqual(t, first.ID, second.ID)
		require.Equal(t, id.APIVersionV1, first.APIVersion)
		require.Equal(t, now.UTC(), first.CreatedAt)
	})

	t.Run("copies data so caller mutation cannot leak in", func(t *testing.T) {
		data := map[string]any{
			"project_id": "proj_1",
			"nested":     map[string]any{"state": "CA"},
			"tags":       []any{"solar"},
		}
		env, err := NewEnvelope(EventProjectCreated, data, orgID, now, nil)
		require.NoError(t, err)

		data["project_id"] = "proj_2"
		data["nested"].(map[string]any)["state"] = "NY"
		data["tags"].([]any)[0] = "wind"

		require.Equal(t, "proj_1", env.Data["project_id"])
		require.Equal(t, "CA", env.Data["nested"].(map[string]any)["state"])
		require.Equal(t, "solar", env.Data["tags"].([]any)[0])
	})

	t.Run("omits empty metadata", func(t *testing.T) {
		env, err := NewEnvelope(EventProjectCreated, nil, orgID, now, &Metadata{})
		require.NoError(t, err)
		require.Nil(t, env.Metadata)

		env, err = NewEnvelope(EventProjectCreated, nil, orgID, now, &Metadata{TriggerMode: "api"})
		require.NoError(t, err)
		require.NotNil(t, env.Metadata)
		require.Equal(t, "api", env.Metadata.TriggerMode)
	})

	t.Run("rejects unknown event types", func(t *testing.T) {
		_, err := NewEnvelope(EventType("project.exploded"), nil, orgID, now, nil)
		require.Error(t, err)
		require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects a nil organization", func(t *testing.T) {
		_, err := NewEnvelope(EventProjectCreated, nil, id.OrgID{}, now, nil)
		require.Error(t, err)
		require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
