package feedback

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sentiment labels returned by the feedback service.
const (
	SentimentPositive = "Positive"
	SentimentNegative = "Negative"
	SentimentNeutral  = "Neutral"
)

var (
	positiveWords = []string{"amazing", "fast", "great", "love", "excellent", "good", "helpful"}
	negativeWords = []string{"slow", "bad", "terrible", "broken", "hate", "awful", "useless"}
)

// Submission is the request body of POST /api/v1/feedback.
type Submission struct {
	CustomerID string `json:"customer_id"`
	Message    string `json:"message"`
}

// Receipt is the body returned for an accepted submission.
type Receipt struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Sentiment  string    `json:"sentiment"`
	CreatedAt  time.Time `json:"created_at"`
}

// Classify labels message by counting positive and negative keywords.
func Classify(message string) string {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})

	score := 0
	for _, w := range words {
		for _, p := range positiveWords {
			if w == p {
				score++
			}
		}
		for _, n := range negativeWords {
			if w == n {
				score--
			}
		}
	}

	switch {
	case score > 0:
		return SentimentPositive
	case score < 0:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// StubOptions configures NewStubHandler.
type StubOptions struct {
	// Latency is added to every accepted request.
	Latency time.Duration
	Logger  *zap.Logger
}

// NewStubHandler returns a stand-in for the feedback service, for running
// the load test locally.
func NewStubHandler(opts StubOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})
	mux.HandleFunc(Path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var sub Submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if sub.CustomerID == "" || sub.Message == "" {
			writeError(w, http.StatusUnprocessableEntity, "customer_id and message are required")
			return
		}

		if opts.Latency > 0 {
			select {
			case <-time.After(opts.Latency):
			case <-r.Context().Done():
				return
			}
		}

		receipt := Receipt{
			ID:         uuid.NewString(),
			CustomerID: sub.CustomerID,
			Sentiment:  Classify(sub.Message),
			CreatedAt:  time.Now().UTC(),
		}
		logger.Debug("feedback accepted",
			zap.String("customer", receipt.CustomerID),
			zap.String("sentiment", receipt.Sentiment))

		writeJSON(w, http.StatusCreated, receipt)
	})
	return mux
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
