package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

func schedulerServer(t *testing.T, r chi.Router) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	return NewHTTPClient(baseURL, "https://results.local/?task_ids=", "sched", "secret", &http.Client{Timeout: 5 * time.Second})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// --- FindJobProfileID ---

func TestFindJobProfileID_ExactMatchSearch(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/job_profiles", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "^DP_SDK_QUAL$", r.URL.Query().Get("search"))
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []any{
				map[string]any{"_id": map[string]string{"$oid": "64f0c0ffee"}, "name": "DP_SDK_QUAL"},
			},
		})
	})
	ts := schedulerServer(t, r)

	id, err := newTestClient(t, ts.URL).FindJobProfileID(context.Background(), "DP_SDK_QUAL")
	require.NoError(t, err)
	assert.Equal(t, "64f0c0ffee", id)
}

func TestFindJobProfileID_NoMatch(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/job_profiles", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
	})
	ts := schedulerServer(t, r)

	_, err := newTestClient(t, ts.URL).FindJobProfileID(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobProfileNotFound)
	assert.Contains(t, err.Error(), "missing")
}

func TestFindJobProfileID_ServerError(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/job_profiles", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database down", http.StatusInternalServerError)
	})
	ts := schedulerServer(t, r)

	_, err := newTestClient(t, ts.URL).FindJobProfileID(context.Background(), "JP")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchedulerResponse)
	assert.False(t, errors.Is(err, ErrJobProfileNotFound))
	assert.Contains(t, err.Error(), "500")
}

// --- GetJobProfile / UpdateJobProfile ---

func TestGetJobProfile_PreservesUnknownFields(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/job_profiles/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "jp1", chi.URLParam(r, "id"))
		io.WriteString(w, `{"data":{
			"name":"JP",
			"retries":1000000,
			"sdk_installation_options":{"override_sdks":"ntnx-storage-py-client==4.0.0.4","pip_index":"x"},
			"tester_container_config":{"environment":{"wait_time_post_success":"7200"}}
		}}`)
	})
	ts := schedulerServer(t, r)

	p, err := newTestClient(t, ts.URL).GetJobProfile(context.Background(), "jp1")
	require.NoError(t, err)
	assert.Equal(t, "jp1", p.ID)
	assert.Equal(t, "ntnx-storage-py-client==4.0.0.4", p.OverrideSDKs())
	assert.Equal(t, json.Number("1000000"), p.Data["retries"])

	wait, ok := p.PostRunWait(true)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Hour, wait)
}

func TestGetJobProfile_MissingData(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/job_profiles/{id}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	})
	ts := schedulerServer(t, r)

	_, err := newTestClient(t, ts.URL).GetJobProfile(context.Background(), "jp1")
	assert.ErrorIs(t, err, ErrSchedulerResponse)
}

func TestUpdateJobProfile_PutsWholeBlobWithBasicAuth(t *testing.T) {
	var got map[string]any
	r := chi.NewRouter()
	r.Put("/job_profiles/{id}", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "sched", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	ts := schedulerServer(t, r)

	p := &JobProfile{ID: "jp1", Data: map[string]any{
		"name":    "JP",
		"retries": json.Number("1000000"),
	}}
	p.SetOverrideSDKs("ntnx-storage-py-client==4.0.0.5")

	require.NoError(t, newTestClient(t, ts.URL).UpdateJobProfile(context.Background(), p))
	assert.Equal(t, "JP", got["name"])
	assert.Equal(t, float64(1000000), got["retries"])
	opts := got["sdk_installation_options"].(map[string]any)
	assert.Equal(t, "ntnx-storage-py-client==4.0.0.5", opts["override_sdks"])
}

func TestUpdateJobProfile_Rejected(t *testing.T) {
	r := chi.NewRouter()
	r.Put("/job_profiles/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	ts := schedulerServer(t, r)

	err := newTestClient(t, ts.URL).UpdateJobProfile(context.Background(), &JobProfile{ID: "jp1", Data: map[string]any{}})
	assert.ErrorIs(t, err, ErrSchedulerResponse)
}

// --- TriggerJobProfile ---

func TestTriggerJobProfile_Success(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/job_profiles/{id}/trigger", func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		assert.True(t, ok)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{}`, string(body))
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"task_ids": []any{map[string]string{"$oid": "task-42"}},
		})
	})
	ts := schedulerServer(t, r)

	id, err := newTestClient(t, ts.URL).TriggerJobProfile(context.Background(), "jp1")
	require.NoError(t, err)
	assert.Equal(t, "task-42", id)
}

func TestTriggerJobProfile_ReportedFailure(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/job_profiles/{id}/trigger", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "quota"})
	})
	ts := schedulerServer(t, r)

	_, err := newTestClient(t, ts.URL).TriggerJobProfile(context.Background(), "jp1")
	assert.ErrorIs(t, err, ErrTriggerFailed)
}

func TestTriggerJobProfile_HTTPError(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/job_profiles/{id}/trigger", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
	ts := schedulerServer(t, r)

	_, err := newTestClient(t, ts.URL).TriggerJobProfile(context.Background(), "jp1")
	assert.ErrorIs(t, err, ErrTriggerFailed)
}

// --- GetTask ---

func TestGetTask_StringStages(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/agave_tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{"stages":["TASK_QUEUED","TASK_COMPLETED"],
			"test_result_count":{"Total":12,"Succeeded":12,"Failed":0}}}`)
	})
	ts := schedulerServer(t, r)

	task, err := newTestClient(t, ts.URL).GetTask(context.Background(), "task-42")
	require.NoError(t, err)
	assert.Equal(t, "task-42", task.ID)
	assert.True(t, task.Terminal())
	assert.True(t, task.Passed())
	assert.Equal(t, 12, task.Total)
}

func TestGetTask_ObjectStagesStillRunning(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/agave_tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{"stages":[{"stage":"TASK_QUEUED"},{"name":"TASK_RUNNING"}]}}`)
	})
	ts := schedulerServer(t, r)

	task, err := newTestClient(t, ts.URL).GetTask(context.Background(), "task-42")
	require.NoError(t, err)
	assert.Equal(t, []string{"TASK_QUEUED", "TASK_RUNNING"}, task.Stages)
	assert.False(t, task.Terminal())
	assert.False(t, task.Counted)
	assert.False(t, task.Passed())
}

func TestGetTask_KeyedStages(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/agave_tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{"stages":{"TASK_KILLED":{"at":"now"}},"test_result_count":{"Total":3,"Succeeded":1}}}`)
	})
	ts := schedulerServer(t, r)

	task, err := newTestClient(t, ts.URL).GetTask(context.Background(), "t")
	require.NoError(t, err)
	assert.True(t, task.Terminal())
	assert.False(t, task.Passed())
}

func TestGetTask_MalformedJSON(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/agave_tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{not json`)
	})
	ts := schedulerServer(t, r)

	_, err := newTestClient(t, ts.URL).GetTask(context.Background(), "t")
	assert.ErrorIs(t, err, ErrSchedulerResponse)
}

// --- transport errors ---

func TestUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := newTestClient(t, url).GetTask(context.Background(), "t")
	assert.ErrorIs(t, err, ErrSchedulerUnreachable)
}

func TestTimeout(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/agave_tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ts := schedulerServer(t, r)

	c := NewHTTPClient(ts.URL, "", "", "", &http.Client{Timeout: 50 * time.Millisecond})
	_, err := c.GetTask(context.Background(), "t")
	assert.ErrorIs(t, err, ErrSchedulerTimeout)
}

func TestTaskLink(t *testing.T) {
	c := newTestClient(t, "http://unused")
	assert.Equal(t, "https://results.local/?task_ids=abc", c.TaskLink("abc"))
}

// --- Task / JobProfile helpers ---

func TestTaskPassed(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		succeeded int
		want      bool
	}{
		{"all passed", 10, 10, true},
		{"some failed", 10, 9, false},
		{"anomaly succeeded above total", 10, 11, false},
		{"no tests", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{Counted: true, Total: tt.total, Succeeded: tt.succeeded}
			assert.Equal(t, tt.want, task.Passed())
		})
	}
}

func TestPostRunWait_Client(t *testing.T) {
	profile := func(env map[string]any) *JobProfile {
		return &JobProfile{Data: map[string]any{
			"tester_container_config": map[string]any{"environment": env},
		}}
	}

	tests := []struct {
		name   string
		env    map[string]any
		passed bool
		want   time.Duration
		ok     bool
	}{
		{"success number", map[string]any{"wait_time_post_success": json.Number("60")}, true, time.Minute, true},
		{"failure string", map[string]any{"wait_time_post_failure": " 30 "}, false, 30 * time.Second, true},
		{"float64 whole", map[string]any{"wait_time_post_failure": float64(5)}, false, 5 * time.Second, true},
		{"absent", map[string]any{}, true, 0, false},
		{"wrong key for status", map[string]any{"wait_time_post_success": "60"}, false, 0, false},
		{"malformed", map[string]any{"wait_time_post_success": "an hour"}, true, 0, false},
		{"fractional", map[string]any{"wait_time_post_success": json.Number("1.5")}, true, 0, false},
		{"negative", map[string]any{"wait_time_post_success": "-5"}, true, 0, false},
		{"bool", map[string]any{"wait_time_post_success": true}, true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := profile(tt.env).PostRunWait(tt.passed)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := (&JobProfile{Data: map[string]any{}}).PostRunWait(true)
	assert.False(t, ok)
}

func TestSetOverrideSDKs_CreatesMissingSection(t *testing.T) {
	p := &JobProfile{}
	assert.Empty(t, p.OverrideSDKs())

	p.SetOverrideSDKs("pkg==1")
	assert.Equal(t, "pkg==1", p.OverrideSDKs())
}
