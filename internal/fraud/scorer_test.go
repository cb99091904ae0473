package fraud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPScorerScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/fraud-detection", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body scoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "cert-1", body.CertificateID)
		require.Len(t, body.Features, 3)

		_ = json.NewEncoder(w).Encode(map[string]any{"fraud_score": 42.5})
	}))
	defer server.Close()

	scorer := NewHTTPScorer(Config{BaseURL: server.URL + "/"})
	score, err := scorer.Score(context.Background(), "cert-1", []float64{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 42.5, score)
}

func TestHTTPScorerRejectsBadResponses(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		},
		"range": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"fraud_score": 140}`))
		},
		"missing": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"score": 10}`))
		},
		"garbage": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(handler)
			defer server.Close()

			_, err := NewHTTPScorer(Config{BaseURL: server.URL}).Score(context.Background(), "c", nil)
			require.Error(t, err)
			if name == "range" {
				require.ErrorIs(t, err, ErrScoreOutOfRange)
			}
		})
	}
}

func TestHTTPScorerTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	scorer := NewHTTPScorer(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	_, err := scorer.Score(context.Background(), "c", nil)
	require.Error(t, err)
}

func TestHTTPScorerHealth(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()

	scorer := NewHTTPScorer(Config{BaseURL: server.URL}, WithHTTPClient(server.Client()))
	require.NoError(t, scorer.Health(context.Background()))

	healthy = false
	require.ErrorContains(t, scorer.Health(context.Background()), "status 500")
}

func TestNewReturnsDisabledWithoutBaseURL(t *testing.T) {
	scorer := New(Config{})
	_, err := scorer.Score(context.Background(), "c", nil)
	require.ErrorIs(t, err, ErrDisabled)
	require.ErrorIs(t, scorer.Health(context.Background()), ErrDisabled)

	require.IsType(t, &HTTPScorer{}, New(Config{BaseURL: "http://ml:8000"}))
}

func TestFeaturesAreDeterministicAndBounded(t *testing.T) {
	issue := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	expiry := issue.AddDate(5, 0, 0)
	subject := Subject{
		Title:           "B.Sc. Computer Science",
		Description:     "Awarded with honours",
		CourseID:        "CS-101",
		RecipientName:   "Ada",
		RecipientEmail:  "ada@student.oxford.ac.uk",
		InstitutionName: "University of Oxford",
		IssueDate:       issue,
		ExpiryDate:      &expiry,
		IssuedAt:        issue.AddDate(0, 0, 2),
	}

	first := Features(subject)
	require.Len(t, first, FeatureCount)
	require.Equal(t, first, Features(subject))
	for i, v := range first {
		require.GreaterOrEqual(t, v, 0.0, "feature %d", i)
		require.LessOrEqual(t, v, 5.0, "feature %d", i)
	}
	require.Equal(t, 0.0, first[4], "email domain matches institution")
	require.Equal(t, 5.0, first[2])

	subject.IssueDate = subject.IssuedAt.AddDate(0, 1, 0)
	subject.RecipientIsInvite = true
	future := Features(subject)
	require.Equal(t, 5.0, future[5])
	require.Equal(t, 5.0, future[3])
}

func TestScorerFunc(t *testing.T) {
	var scorer Scorer = ScorerFunc(func(_ context.Context, id string, features []float64) (float64, error) {
		return float64(len(features)), nil
	})
	score, err := scorer.Score(context.Background(), "c", []float64{1, 2})
	require.NoError(t, err)
	require.Equal(t, 2.0, score)
	require.NoError(t, scorer.Health(context.Background()))
}
