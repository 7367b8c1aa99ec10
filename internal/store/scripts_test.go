package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndFindScript(t *testing.T) {
	scripts := newTestDB(t).Scripts()
	ctx := context.Background()

	created, err := scripts.Create(ctx, "hello", `print("hi"); 0`)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	got, err := scripts.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = scripts.FindByID(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateScriptPartial(t *testing.T) {
	scripts := newTestDB(t).Scripts()
	ctx := context.Background()

	sc, err := scripts.Create(ctx, "before", "0")
	require.NoError(t, err)

	got, err := scripts.Update(ctx, sc.ID, strPtr("after"), nil)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
	assert.Equal(t, "0", got.Code, "code must be left unchanged")

	got, err = scripts.Update(ctx, sc.ID, nil, strPtr("1"))
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
	assert.Equal(t, "1", got.Code)

	got, err = scripts.Update(ctx, sc.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
	assert.Equal(t, "1", got.Code)
}

func TestUpdateScriptNotFound(t *testing.T) {
	scripts := newTestDB(t).Scripts()

	_, err := scripts.Update(context.Background(), "nonexistent", strPtr("x"), nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteScripts(t *testing.T) {
	scripts := newTestDB(t).Scripts()
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		sc, err := scripts.Create(ctx, name, "0")
		require.NoError(t, err)
		ids = append(ids, sc.ID)
	}

	n, err := scripts.Delete(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = scripts.Delete(ctx, []string{ids[0], ids[1], "nonexistent"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	ok, err := scripts.DeleteOne(ctx, ids[2])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = scripts.DeleteOne(ctx, ids[2])
	require.NoError(t, err)
	assert.False(t, ok)

	page, err := scripts.Find(ctx, ScriptFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, page.Items)
}

func TestDeleteScriptCascadesToTasks(t *testing.T) {
	db := newTestDB(t)
	scripts, tasks := db.Scripts(), db.Tasks()
	ctx := context.Background()

	sc, err := scripts.Create(ctx, "job", "0")
	require.NoError(t, err)
	owned, err := tasks.CreateForScript(ctx, "job", nil, sc.ID)
	require.NoError(t, err)
	adhoc, err := tasks.Create(ctx, "adhoc", nil)
	require.NoError(t, err)

	got, err := tasks.FindByID(ctx, owned.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ScriptID)
	assert.Equal(t, sc.ID, *got.ScriptID)

	ok, err := scripts.DeleteOne(ctx, sc.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = tasks.FindByID(ctx, owned.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = tasks.FindByID(ctx, adhoc.ID)
	assert.NoError(t, err)
}

func TestCreateTaskForMissingScript(t *testing.T) {
	tasks := newTestDB(t).Tasks()

	_, err := tasks.CreateForScript(context.Background(), "orphan", nil, "nonexistent")
	assert.Error(t, err, "foreign key must reject unknown script")
}

func TestFindScripts(t *testing.T) {
	scripts := newTestDB(t).Scripts()
	ctx := context.Background()

	orig := nowMillis
	t.Cleanup(func() { nowMillis = orig })

	names := []string{"deploy-web", "deploy-db", "cleanup", "report_daily"}
	for i, name := range names {
		ts := int64(i+1) * 1000
		nowMillis = func() int64 { return ts }
		_, err := scripts.Create(ctx, name, "0")
		require.NoError(t, err)
	}

	page, err := scripts.Find(ctx, ScriptFilter{Text: "deploy"})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	assert.Equal(t, "deploy-web", page.Items[0].Name)
	assert.Equal(t, "deploy-db", page.Items[1].Name)

	page, err = scripts.Find(ctx, ScriptFilter{Text: "_"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "report_daily", page.Items[0].Name)

	page, err = scripts.Find(ctx, ScriptFilter{Pagination: Pagination{Page: 2, Size: 3}})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "report_daily", page.Items[0].Name)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.Size)
}
