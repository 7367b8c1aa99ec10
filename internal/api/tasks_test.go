package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/taskd/internal/component"
	"github.com/seantiz/taskd/internal/model"
)

func TestRunCodeCreatesTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var created idResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{
		"name":   "inline",
		"detail": "from the API",
		"code":   `reportProgress("a", 10); reportProgress("b", 20); 0`,
	}, &created)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if len(created.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(created.ID))
	}

	srv.engine.Wait()

	var got taskResponse
	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/"+created.ID, nil, &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got.State != model.StateSucceeded {
		t.Errorf("state = %q, want %q", got.State, model.StateSucceeded)
	}
	if got.Output == nil || *got.Output != "ab" {
		t.Errorf("output = %v, want ab", got.Output)
	}
	if got.Percent != 30 {
		t.Errorf("percent = %d, want 30", got.Percent)
	}
	if got.Detail == nil || *got.Detail != "from the API" {
		t.Errorf("detail = %v, want %q", got.Detail, "from the API")
	}
}

func TestRunCodeValidation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	longName := fmt.Sprintf("%033d", 0)
	tests := []struct {
		name string
		body any
	}{
		{"invalid json", "not json"},
		{"missing name", map[string]any{"code": "0"}},
		{"missing code", map[string]any{"name": "x"}},
		{"name too long", map[string]any{"name": longName, "code": "0"}},
		{"detail too long", map[string]any{"name": "x", "code": "0", "detail": fmt.Sprintf("%01025d", 0)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", tc.body, nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			if msg := errorMessage(t, resp); msg == "" {
				t.Error("expected error message in response")
			}
		})
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/nonexistent", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListTasksFiltersAndPaginates(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := srv.tasks.Create(ctx, fmt.Sprintf("backup-%d", i), nil); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := srv.tasks.Create(ctx, "report", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var list listTasksResponse
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/tasks?text=backup&page=2&size=2", nil, &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if list.Total != 5 {
		t.Errorf("total = %d, want 5", list.Total)
	}
	if len(list.Tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(list.Tasks))
	}
	if list.Tasks[0].Name != "backup-2" || list.Tasks[1].Name != "backup-3" {
		t.Errorf("page 2 = [%s %s], want [backup-2 backup-3]", list.Tasks[0].Name, list.Tasks[1].Name)
	}
	if list.Page != 2 || list.Size != 2 {
		t.Errorf("page/size = %d/%d, want 2/2", list.Page, list.Size)
	}
	if list.Tasks[0].Output != nil {
		t.Error("listing must not include output")
	}
}

func TestListTasksDefaults(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var list listTasksResponse
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/tasks", nil, &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if list.Tasks == nil {
		t.Error("tasks should be an empty array, not null")
	}
	if list.Page != 1 || list.Size != 10 {
		t.Errorf("page/size = %d/%d, want 1/10", list.Page, list.Size)
	}
}

func TestListTasksBadQuery(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, q := range []string{"page=abc", "size=101", "size=-1", "created_from=yesterday"} {
		resp := doJSON(t, http.MethodGet, ts.URL+"/v1/tasks?"+q, nil, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestDeleteCompletedTasks(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx := context.Background()
	running, _ := srv.tasks.Create(ctx, "running", nil)
	done, _ := srv.tasks.Create(ctx, "done", nil)
	srv.tasks.Finish(ctx, done.ID, model.ResultSuccess)

	var deleted deletedResponse
	resp := doJSON(t, http.MethodDelete, ts.URL+"/v1/tasks", nil, &deleted)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if deleted.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted.Deleted)
	}
	if _, err := srv.tasks.FindByID(ctx, running.ID); err != nil {
		t.Errorf("running task was deleted: %v", err)
	}
}

func TestStopTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	stopped := make(chan string, 1)
	srv.registry.Register("worker", &component.Local{
		StopFunc: func(_ context.Context, id string) bool {
			stopped <- id
			return true
		},
	})
	ctx := context.Background()
	id, err := srv.engine.CreateDelegated(ctx, "delegated", nil, "worker")
	if err != nil {
		t.Fatalf("CreateDelegated: %v", err)
	}

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks/"+id+"/stop", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if got := <-stopped; got != id {
		t.Errorf("owner stopped %q, want %q", got, id)
	}

	task, _ := srv.tasks.FindByID(ctx, id)
	if task.Result == nil || *task.Result != model.ResultStopped {
		t.Errorf("result = %v, want %d", task.Result, model.ResultStopped)
	}
}

func TestStopTaskWithoutOwner(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx := context.Background()
	task, _ := srv.tasks.Create(ctx, "orphan", nil)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks/"+task.ID+"/stop", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	got, _ := srv.tasks.FindByID(ctx, task.ID)
	if got.Result == nil || *got.Result != model.ResultStopped {
		t.Errorf("result = %v, want %d", got.Result, model.ResultStopped)
	}
	if got.OutputText() != model.StopMessage {
		t.Errorf("output = %q, want %q", got.OutputText(), model.StopMessage)
	}
}
