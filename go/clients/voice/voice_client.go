package voice

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/mcdev12/mafia/go/clients"
	"github.com/mcdev12/mafia/go/internal/game/logic"
	"github.com/mcdev12/mafia/go/internal/models"
)

// DefaultBatchSize is the most commands sent in one batch request.
const DefaultBatchSize = 10

// Client talks to the voice (mediasoup) server.
type Client struct {
	*clients.BaseClient
	batchSize int
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseClient: clients.NewBaseClient(baseURL),
		batchSize:  DefaultBatchSize,
	}
}

type createRoomRequest struct {
	GameID  string              `json:"game_id"`
	Quality models.VoiceQuality `json:"quality,omitempty"`
}

type createRoomResponse struct {
	RoomID string `json:"room_id"`
}

type command struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	Mute     bool   `json:"mute"`
}

type batchRequest struct {
	RoomID   string    `json:"room_id"`
	Commands []command `json:"commands"`
}

// CreateRoom opens a room for gameID and returns its id.
func (c *Client) CreateRoom(ctx context.Context, gameID string, quality models.VoiceQuality) (string, error) {
	var resp createRoomResponse
	if err := c.PostJSON(ctx, roomEndpoint, createRoomRequest{GameID: gameID, Quality: quality}, &resp); err != nil {
		return "", fmt.Errorf("failed to create voice room for %s: %w", gameID, err)
	}
	if resp.RoomID == "" {
		return "", fmt.Errorf("voice server returned no room id for %s", gameID)
	}
	return resp.RoomID, nil
}

// SendCommands applies cmds to roomID. A single command goes to /command,
// more are split into batches of at most batchSize. Every batch is attempted;
// the returned error joins the failures.
func (c *Client) SendCommands(ctx context.Context, roomID string, cmds []logic.VoiceCommand) error {
	switch len(cmds) {
	case 0:
		return nil
	case 1:
		cmd := command{RoomID: roomID, PlayerID: cmds[0].PlayerID, Mute: cmds[0].Mute}
		if err := c.PostJSON(ctx, commandEndpoint, cmd, nil); err != nil {
			return fmt.Errorf("failed to send voice command: %w", err)
		}
		return nil
	}

	var errs []error
	for start := 0; start < len(cmds); start += c.batchSize {
		end := min(start+c.batchSize, len(cmds))
		batch := batchRequest{RoomID: roomID, Commands: make([]command, 0, end-start)}
		for _, cmd := range cmds[start:end] {
			batch.Commands = append(batch.Commands, command{RoomID: roomID, PlayerID: cmd.PlayerID, Mute: cmd.Mute})
		}
		if err := c.PostJSON(ctx, batchCommandEndpoint, batch, nil); err != nil {
			errs = append(errs, fmt.Errorf("batch %d-%d: %w", start, end, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to send voice commands: %w", err)
	}
	return nil
}

// CloseRoom tears down roomID.
func (c *Client) CloseRoom(ctx context.Context, roomID string) error {
	if _, err := c.Delete(ctx, roomPath(url.PathEscape(roomID))); err != nil {
		return fmt.Errorf("failed to close voice room %s: %w", roomID, err)
	}
	return nil
}
