package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

type fakeProgress struct {
	mu   sync.Mutex
	rows []repository.SessionProgress
}

func (f *fakeProgress) set(rows ...repository.SessionProgress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
}

func (f *fakeProgress) GetSessionProgress(context.Context, uuid.UUID) ([]repository.SessionProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.SessionProgress(nil), f.rows...), nil
}

func (f *fakeProgress) GetLiveCounts(context.Context, []uuid.UUID) (map[uuid.UUID]int64, map[uuid.UUID]int64, error) {
	return map[uuid.UUID]int64{}, map[uuid.UUID]int64{}, nil
}

func TestGetProgress(t *testing.T) {
	h := newHarness(t)
	h.progress.set(
		repository.SessionProgress{SessionID: uuid.New(), AccessCode: "ABCDEFGH1", Status: repository.SessionStatusInProgress, AnsweredCount: 1},
		repository.SessionProgress{SessionID: uuid.New(), AccessCode: "ABCDEFGH2", Status: repository.SessionStatusCompleted, ViolationCount: 2},
	)

	status, env := h.do(t, http.MethodGet, "/api/v1/admin/exams/"+h.exam.ID.String()+"/progress", "")
	require.Equal(t, http.StatusOK, status)
	var data struct {
		Progress service.ExamProgress `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Len(t, data.Progress.Sessions, 2)
	assert.Equal(t, 1, data.Progress.InProgress)
	assert.Equal(t, 1, data.Progress.Completed)
	assert.Equal(t, int64(2), data.Progress.TotalViolations)
}

func TestMonitorExamSSE_SnapshotThenEvents(t *testing.T) {
	h := newHarness(t)
	h.progress.set(repository.SessionProgress{SessionID: uuid.New(), AccessCode: "ABCDEFGH1", Status: repository.SessionStatusIssued})

	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/admin/exams/"+h.exam.ID.String()+"/monitor", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"), resp.Header.Get("Content-Type"))

	events := bufio.NewReader(resp.Body)
	snapshot := readSSEData(t, events)
	assert.Contains(t, snapshot, `"type":"snapshot"`)
	assert.Contains(t, snapshot, "ABCDEFGH1")

	payload := `{"type":"violation","session_id":"` + uuid.NewString() + `","kind":"tabSwitches"}`
	require.NoError(t, h.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(h.exam.ID.String()), payload).Err())
	assert.Equal(t, payload, readSSEData(t, events))
}

func TestMonitorExamSSE_UnknownExam(t *testing.T) {
	h := newHarness(t)

	status, env := h.do(t, http.MethodGet, "/api/v1/admin/exams/"+uuid.NewString()+"/monitor", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.ErrNotFound, errCode(env))
}

// readSSEData returns the data of the next event on r.
func readSSEData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var data []string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) > 0 {
				return strings.Join(data, "\n")
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}
}
