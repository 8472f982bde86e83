package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// --- IM API: Messages ---

// SendText delivers a plain text message. The receive_id_type is inferred
// from the id prefix (oc_ chat, ou_ open_id, on_ union_id).
func (c *Client) SendText(ctx context.Context, receiveID, text string) error {
	content, _ := json.Marshal(map[string]string{"text": text})

	path := "/open-apis/im/v1/messages?receive_id_type=" + resolveReceiveIDType(receiveID)
	body := map[string]string{
		"receive_id": receiveID,
		"msg_type":   "text",
		"content":    string(content),
	}
	resp, err := c.doJSON(ctx, "POST", path, body)
	if err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("send message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

func resolveReceiveIDType(id string) string {
	if strings.HasPrefix(id, "ou_") {
		return "open_id"
	}
	if strings.HasPrefix(id, "on_") {
		return "union_id"
	}
	return "chat_id"
}

// --- Contact API ---

// UserInfo is the subset of contact fields the bot cares about.
type UserInfo struct {
	OpenID string
	Name   string
	Email  string
}

// GetUser fetches a user's profile by open_id.
func (c *Client) GetUser(ctx context.Context, openID string) (*UserInfo, error) {
	path := fmt.Sprintf("/open-apis/contact/v3/users/%s?user_id_type=open_id", openID)
	resp, err := c.doJSON(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("get user: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var result struct {
		User struct {
			OpenID string `json:"open_id"`
			Name   string `json:"name"`
			Email  string `json:"enterprise_email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &UserInfo{
		OpenID: result.User.OpenID,
		Name:   result.User.Name,
		Email:  result.User.Email,
	}, nil
}

// GetBotInfo fetches the bot's own open_id. Called at startup as a
// credentials check before the webhook goes live.
func (c *Client) GetBotInfo(ctx context.Context) (string, error) {
	resp, err := c.doJSON(ctx, "GET", "/open-apis/bot/v3/info", nil)
	if err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("get bot info: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var result struct {
		Bot struct {
			OpenID string `json:"open_id"`
		} `json:"bot"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return "", fmt.Errorf("decode bot info: %w", err)
	}
	return result.Bot.OpenID, nil
}
