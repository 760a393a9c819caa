package leaderboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/playquickdraw/backend/internal/config"
	"github.com/playquickdraw/backend/internal/models"
)

// Notifier posts finished-match results to the external leaderboard service.
// Strictly fire-and-forget: the settler dedupes calls and swallows errors,
// so nothing here may block or fail settlement.
type Notifier struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewNotifier returns nil when no leaderboard service is configured.
func NewNotifier(cfg *config.Config) *Notifier {
	if cfg == nil || cfg.LeaderboardURL == "" {
		log.Printf("[LEADERBOARD] Service not configured - result notifications disabled")
		return nil
	}
	return &Notifier{
		url:        strings.TrimRight(cfg.LeaderboardURL, "/"),
		apiKey:     cfg.LeaderboardAPIKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifyResult reports one finished match. Satisfies duel.ResultNotifier.
func (n *Notifier) NotifyResult(ctx context.Context, m *models.Match) error {
	payload := map[string]interface{}{
		"match_id":   m.ID,
		"winner":     m.AccountOf(m.Winner),
		"loser":      m.AccountOf(opponent(m.Winner)),
		"stake":      m.Stake,
		"net_pot":    m.NetPot(),
		"reaction_a": m.ReactionA,
		"reaction_b": m.ReactionB,
		"false_a":    m.FalseA,
		"false_b":    m.FalseB,
		"ended_at":   m.FinishedAt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.url+"/v1/results", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("leaderboard returned status %d: %s", resp.StatusCode, string(body))
	}
	log.Printf("[LEADERBOARD] Result posted for match %s", m.ID)
	return nil
}

func opponent(party string) string {
	if party == models.PartyA {
		return models.PartyB
	}
	return models.PartyA
}
