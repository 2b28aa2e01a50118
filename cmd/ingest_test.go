//go:build !integration

package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynergists/specter/internal/config"
	"github.com/cynergists/specter/internal/crm"
	"github.com/cynergists/specter/internal/ingest"
	"github.com/cynergists/specter/internal/model"
	"github.com/cynergists/specter/internal/scoring"
	"github.com/cynergists/specter/internal/store"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReadPayloadFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		file     string
		body     string
		sessions []string
	}{
		{"object", "one.json", `{"visitor_id":"v","session_id":"s1"}`, []string{"s1"}},
		{"array", "many.json", `[{"visitor_id":"v","session_id":"s1"},{"visitor_id":"v","session_id":"s2"}]`, []string{"s1", "s2"}},
		{"json lines", "lines.jsonl", "{\"visitor_id\":\"v\",\"session_id\":\"s1\"}\n\n{\"visitor_id\":\"v\",\"session_id\":\"s3\"}\n", []string{"s1", "s3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payloads, err := readPayloadFile(writeFile(t, dir, tt.file, tt.body))
			require.NoError(t, err)
			var got []string
			for _, p := range payloads {
				got = append(got, p.SessionID)
			}
			assert.Equal(t, tt.sessions, got)
		})
	}
}

func TestReadPayloadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := readPayloadFile(filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "ingest: read")

	_, err = readPayloadFile(writeFile(t, dir, "bad.json", `{"visitor_id":`))
	assert.ErrorContains(t, err, "ingest: decode")

	_, err = readPayloadFile(writeFile(t, dir, "bad.jsonl", "{\"visitor_id\":\"v\"}\nnope\n"))
	assert.ErrorContains(t, err, "line 2")
}

type fakeIngester struct {
	mu       sync.Mutex
	sessions []string
	failOn   string
}

func (f *fakeIngester) Ingest(_ context.Context, _ *model.Tenant, p *ingest.Payload, _ ingest.RequestMeta) (*ingest.Summary, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.SessionID == f.failOn {
		return nil, errors.New("store down")
	}
	f.mu.Lock()
	f.sessions = append(f.sessions, p.SessionID)
	f.mu.Unlock()
	return &ingest.Summary{EventsPersisted: len(p.Events), BotEventsFiltered: 1}, nil
}

func TestReplayFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.json", `[{"visitor_id":"v","session_id":"a1","events":[{},{}]},{"session_id":"bad"}]`)
	b := writeFile(t, dir, "b.jsonl", "{\"visitor_id\":\"v\",\"session_id\":\"b1\"}\n{\"visitor_id\":\"v\",\"session_id\":\"b2\",\"events\":[{}]}\n")

	ing := &fakeIngester{}
	stats, err := replayFiles(context.Background(), ing, &model.Tenant{ID: "acme"}, []string{a, b}, 2, ingest.RequestMeta{})
	require.NoError(t, err)

	assert.EqualValues(t, 3, stats.Batches.Load())
	assert.EqualValues(t, 1, stats.Rejected.Load())
	assert.EqualValues(t, 3, stats.Events.Load())
	assert.EqualValues(t, 3, stats.BotEvents.Load())
	assert.ElementsMatch(t, []string{"a1", "b1", "b2"}, ing.sessions)
	assert.Less(t, indexOf(ing.sessions, "b1"), indexOf(ing.sessions, "b2"), "batches within a file keep their order")
}

func TestReplayFiles_StopsOnError(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.json", `{"visitor_id":"v","session_id":"boom"}`)

	_, err := replayFiles(context.Background(), &fakeIngester{failOn: "boom"}, &model.Tenant{ID: "acme"}, []string{a}, 0, ingest.RequestMeta{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch 0")
}

func TestReplayFiles_SQLiteEnv(t *testing.T) {
	cfg = &config.Config{Scoring: config.ScoringConfig{ReturnWindowDays: 30}}
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	env := newEnv(st, scoring.NewDefaults(nil), nil, crm.NewGoHighLevel(config.GoHighLevelConfig{}, nil))
	file := writeFile(t, t.TempDir(), "batch.json", `{"visitor_id":"v1","session_id":"s1","consent_state":"granted",
		"events":[{"type":"page_view","page_url":"/pricing"},{"type":"form_submit","metadata":{"email":"ann@example.com"}}]}`)

	stats, err := replayFiles(ctx, env.Ingest, &model.Tenant{ID: "acme"}, []string{file}, 1, ingest.RequestMeta{UserAgent: "Mozilla/5.0"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Batches.Load())
	assert.EqualValues(t, 2, stats.Events.Load())

	sess, err := st.GetSession(ctx, "acme", "s1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, model.ResolutionResolved, sess.ResolutionStatus)

	// No GoHighLevel credentials: the sync fails and is escalated.
	rows, err := st.ListEscalations(ctx, store.LogFilter{TenantID: "acme", ReasonCode: model.ReasonProviderFailure})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
