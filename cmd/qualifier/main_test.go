package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/sdkqual/internal/config"
	"github.com/kiranshivaraju/sdkqual/internal/scheduler"
	"github.com/kiranshivaraju/sdkqual/pkg/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var requiredArgs = []string{
	"--job-profile", "DP_SDK_QUAL",
	"--namespace", "storage",
	"--v4-version", "v4.0.a5",
	"--branch", "master",
	"--git-username", "qualbot",
	"--git-token", "token",
	"--scheduler-username", "sched",
	"--scheduler-password", "secret",
}

func TestRootCmd_MissingRequiredFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--job-profile", "DP_SDK_QUAL"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "namespace")
}

func TestRootCmd_RejectsPositionalArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"extra"}, requiredArgs...))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	assert.Error(t, cmd.Execute())
}

func TestRootCmd_LegacyFlagSpellings(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--job_profile", "JP",
		"--name_space", "vmm",
		"--v4_version", "v4.0.b1",
		"--pc_branch", "master",
		"--jita_username", "u",
		"--jita_password", "p",
	}))

	get := func(name string) string {
		v, err := cmd.Flags().GetString(name)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "JP", get("job-profile"))
	assert.Equal(t, "vmm", get("namespace"))
	assert.Equal(t, "v4.0.b1", get("v4-version"))
	assert.Equal(t, "master", get("branch"))
	assert.Equal(t, "u", get("scheduler-username"))
	assert.Equal(t, "p", get("scheduler-password"))
}

func TestRun_UnknownNamespace(t *testing.T) {
	args := append([]string{}, requiredArgs...)
	args[3] = "not-a-namespace"

	cmd := newRootCmd()
	cmd.SetArgs(args)
	err := cmd.Execute()
	assert.ErrorIs(t, err, sdk.ErrUnknownNamespace)
}

func TestRun_UnknownJobProfileStops(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/job_profiles", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[]}`)
	})
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	t.Setenv("SCHEDULER_BASE_URL", ts.URL)
	t.Setenv("RESULTS_WORKDIR", t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("QUALIFIER_STATUS_ADDR", "")

	cmd := newRootCmd()
	cmd.SetArgs(requiredArgs)
	err := cmd.Execute()
	assert.ErrorIs(t, err, scheduler.ErrJobProfileNotFound)
}

func TestRun_CancelIsCleanExit(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/job_profiles", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[{"_id":{"$oid":"jp1"}}]}`)
	})
	// The registry blocks until the loop is cancelled.
	r.Get("/storage/versions/{v4}/artifact-versions", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	t.Setenv("SCHEDULER_BASE_URL", ts.URL)
	t.Setenv("REGISTRY_BASE_URL", ts.URL)
	t.Setenv("RESULTS_WORKDIR", t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("QUALIFIER_STATUS_ADDR", "")

	ctx, cancel := context.WithCancel(context.Background())
	cmd := newRootCmd()
	cmd.SetArgs(requiredArgs)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("qualifier did not stop after cancel")
	}
}

func TestNewHTTPClient(t *testing.T) {
	hc := newHTTPClient(config.HTTPConfig{Timeout: 7 * time.Second, InsecureSkipVerify: true})
	assert.Equal(t, 7*time.Second, hc.Timeout)

	tr, ok := hc.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, tr.TLSClientConfig)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)

	hc = newHTTPClient(config.HTTPConfig{Timeout: time.Second})
	tr = hc.Transport.(*http.Transport)
	assert.True(t, tr.TLSClientConfig == nil || !tr.TLSClientConfig.InsecureSkipVerify)
}
