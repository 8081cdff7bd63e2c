package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/guildgate/backend/internal/config"
	"github.com/guildgate/backend/internal/retry"
)

// RoleService performs the Discord REST calls that complete a
// verification: granting the verified role and posting the optional
// announcement. Calls are wrapped in the bounded retry policy.
type RoleService struct {
	cfg    *config.Config
	client *http.Client
	retry  *retry.Policy
}

func NewRoleService(cfg *config.Config) *RoleService {
	return &RoleService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		retry:  retry.NewPolicy(cfg.RetryAttempts, cfg.RetryBaseDelay, cfg.HTTPTimeout),
	}
}

// GrantRole assigns the verified role to a guild member
func (s *RoleService) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	url := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s", s.cfg.DiscordAPIBase, guildID, userID, roleID)
	return s.retry.Do(ctx, "grant role", func(ctx context.Context) error {
		return s.do(ctx, http.MethodPut, url, nil)
	})
}

// AnnounceVerified posts a message to the guild announcement channel.
// A missing channel is not an error; announcement is optional.
func (s *RoleService) AnnounceVerified(ctx context.Context, channelID, userID string) error {
	if channelID == "" {
		return nil
	}
	payload := map[string]interface{}{
		"content": fmt.Sprintf("<@%s> has verified their institutional email. Welcome!", userID),
		"allowed_mentions": map[string]interface{}{
			"users": []string{userID},
		},
	}
	url := fmt.Sprintf("%s/channels/%s/messages", s.cfg.DiscordAPIBase, channelID)
	return s.retry.Do(ctx, "announce verified", func(ctx context.Context) error {
		return s.do(ctx, http.MethodPost, url, payload)
	})
}

func (s *RoleService) do(ctx context.Context, method, url string, payload interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+s.cfg.DiscordBotToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("discord API %s %s: status %d: %s", method, url, resp.StatusCode, string(data))
	}
	return nil
}
